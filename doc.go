// Package kanba orchestrates teams of LLM-backed agents through
// dependency-ordered task lists defined in YAML configuration.
//
// A workflow is a team of agents and a list of tasks. Each task names the
// agent that executes it and the tasks it depends on; the team dispatches
// ready tasks concurrently, one task per agent at a time, and collects the
// deliverable when every task completes.
//
// # Quick Start
//
// Install the CLI:
//
//	go install github.com/kanba-ai/kanba/cmd/kanba@latest
//
// Define a team:
//
//	team:
//	  name: newsroom
//	llms:
//	  gpt:
//	    provider: openai
//	    model: gpt-4o-mini
//	    api_key: "${OPENAI_API_KEY}"
//	agents:
//	  - name: researcher
//	    role: Research analyst
//	  - name: writer
//	    role: Staff writer
//	tasks:
//	  - id: research
//	    description: Research {topic}
//	    agent: researcher
//	  - id: article
//	    description: Write an article from the research
//	    agent: writer
//	    depends_on: [research]
//	    deliverable: true
//
// Run it:
//
//	kanba run --config team.yaml --input topic="Go generics"
//
// Or serve it with the HTTP API so tasks gated on external validation can
// be reviewed while the run is in flight:
//
//	kanba serve --config team.yaml
//
// Programmatic use starts at pkg/runtime, or at pkg/team for callers that
// build agents and tasks directly.
package kanba
