package agent

import (
	"fmt"
	"strings"

	"github.com/kanba-ai/kanba/pkg/task"
	"github.com/kanba-ai/kanba/pkg/tools"
)

const outputFormatInstructions = `Respond with a single JSON object in one of these forms:
- {"thought": "<reasoning>", "action": "<tool name>", "actionInput": {<tool arguments>}}
- {"thought": "<reasoning>", "selfQuestion": "<question to reason about next>"}
- {"observation": "<what you learned>"}
- {"finalAnswer": "<the complete answer to the task>"}

Rules:
- Emit exactly one JSON object, nothing else.
- Use "finalAnswer" only when the task is fully solved.
- Use the reserved action "` + tools.BlockActionName + `" with actionInput {"reason": "<why>"} if you cannot or must not proceed.`

// systemPrompt assembles the agent persona, tool catalog and output
// contract.
func (a *Agent) systemPrompt() string {
	if a.Config.SystemMessage != "" {
		return a.Config.SystemMessage
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.\n", a.Config.Name)
	if a.Config.Role != "" {
		fmt.Fprintf(&b, "Role: %s\n", a.Config.Role)
	}
	if a.Config.Goal != "" {
		fmt.Fprintf(&b, "Goal: %s\n", a.Config.Goal)
	}
	if a.Config.Background != "" {
		fmt.Fprintf(&b, "Background: %s\n", a.Config.Background)
	}

	if a.tools.Count() > 0 {
		b.WriteString("\nAvailable tools:\n")
		b.WriteString(a.tools.Describe())
	} else {
		b.WriteString("\nNo tools are available; solve the task with reasoning alone.\n")
	}

	b.WriteString("\n")
	b.WriteString(outputFormatInstructions)
	return b.String()
}

// taskPrompt renders the task assignment, including prior feedback when the
// task comes back for revision.
func taskPrompt(t task.View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", t.Description)
	if t.ExpectedOutput != "" {
		fmt.Fprintf(&b, "Expected output: %s\n", t.ExpectedOutput)
	}
	if len(t.Feedback) > 0 {
		b.WriteString("\nFeedback from previous attempts, most recent last:\n")
		for _, f := range t.Feedback {
			fmt.Fprintf(&b, "- %s\n", f.Content)
		}
		if t.PreviousResult != "" {
			fmt.Fprintf(&b, "\nYour previous result was:\n%s\n", t.PreviousResult)
		}
	}
	return b.String()
}

func parsingErrorPrompt(parseErr error) string {
	return fmt.Sprintf("Your last response could not be parsed (%v). "+
		"Answer again following the required JSON output format exactly.", parseErr)
}

func weirdOutputPrompt() string {
	return "Your last response was valid JSON but matched none of the allowed forms. " +
		"Answer again using exactly one of the documented JSON forms."
}

func toolNotFoundPrompt(name string, available []string) string {
	if len(available) == 0 {
		return fmt.Sprintf("There is no tool named %q and no tools are available. "+
			"Continue with reasoning alone.", name)
	}
	return fmt.Sprintf("There is no tool named %q. Available tools: %s. "+
		"Pick one of them or answer directly.", name, strings.Join(available, ", "))
}

func toolErrorPrompt(name string, toolErr error) string {
	return fmt.Sprintf("Tool %q failed: %v. Adjust the input and retry, "+
		"use another tool, or answer directly.", name, toolErr)
}

func observationPrompt(observation string) string {
	return fmt.Sprintf("Observation: %s", observation)
}

func selfQuestionPrompt(question string) string {
	return fmt.Sprintf("Consider your question and continue: %s", question)
}

func forceFinalAnswerPrompt() string {
	return "You have used your entire iteration budget. " +
		`Respond now with {"finalAnswer": "<your best complete answer based on the work so far>"} and nothing else.`
}
