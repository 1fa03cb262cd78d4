// Package config loads and validates the YAML configuration that wires a
// team: LLM providers, agents, tasks, persistence, metrics and the API
// server. Values support ${VAR} and ${VAR:-default} environment expansion.
package config

import (
	"fmt"
	"time"

	"github.com/kanba-ai/kanba/pkg/agent"
	"github.com/kanba-ai/kanba/pkg/llms"
)

// Config is the root configuration document.
type Config struct {
	Team    TeamConfig             `yaml:"team"`
	LLMs    map[string]llms.Config `yaml:"llms"`
	Agents  []AgentConfig          `yaml:"agents"`
	Tasks   []TaskConfig           `yaml:"tasks"`
	Store   StoreConfig            `yaml:"store"`
	Metrics MetricsConfig          `yaml:"metrics"`
	Server  ServerConfig           `yaml:"server"`
	Logging LoggingConfig          `yaml:"logging"`
}

type TeamConfig struct {
	Name string `yaml:"name"`
}

// AgentConfig extends the agent persona with the name of the LLM entry it
// runs on.
type AgentConfig struct {
	agent.Config `yaml:",inline"`
	LLM          string `yaml:"llm"`
}

type TaskConfig struct {
	ID                 string   `yaml:"id"`
	Description        string   `yaml:"description"`
	ExpectedOutput     string   `yaml:"expected_output"`
	Agent              string   `yaml:"agent"`
	DependsOn          []string `yaml:"depends_on"`
	Deliverable        bool     `yaml:"deliverable"`
	ExternalValidation bool     `yaml:"external_validation"`
}

type StoreConfig struct {
	Dialect string `yaml:"dialect"`
	DSN     string `yaml:"dsn"`
}

type MetricsConfig struct {
	Capacity      int           `yaml:"capacity"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

func (c *Config) SetDefaults() {
	if c.Team.Name == "" {
		c.Team.Name = "kanba"
	}
	if c.LLMs == nil {
		c.LLMs = map[string]llms.Config{}
	}
	for name, llmCfg := range c.LLMs {
		llmCfg.SetDefaults()
		c.LLMs[name] = llmCfg
	}
	for i := range c.Agents {
		c.Agents[i].SetDefaults()
		if c.Agents[i].LLM == "" && len(c.LLMs) == 1 {
			for name := range c.LLMs {
				c.Agents[i].LLM = name
			}
		}
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stderr"
	}
}

func (c *Config) Validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent is required")
	}
	if len(c.Tasks) == 0 {
		return fmt.Errorf("at least one task is required")
	}

	for name, llmCfg := range c.LLMs {
		if err := llmCfg.Validate(); err != nil {
			return fmt.Errorf("llm '%s': %w", name, err)
		}
	}

	agentNames := make(map[string]bool, len(c.Agents))
	for i := range c.Agents {
		a := &c.Agents[i]
		if err := a.Config.Validate(); err != nil {
			return err
		}
		if agentNames[a.Name] {
			return fmt.Errorf("duplicate agent name '%s'", a.Name)
		}
		agentNames[a.Name] = true
		if _, ok := c.LLMs[a.LLM]; !ok {
			return fmt.Errorf("agent '%s' references unknown llm '%s'", a.Name, a.LLM)
		}
	}

	taskIDs := make(map[string]bool, len(c.Tasks))
	for _, t := range c.Tasks {
		if t.Description == "" {
			return fmt.Errorf("task '%s' has no description", t.ID)
		}
		if !agentNames[t.Agent] {
			return fmt.Errorf("task '%s' references unknown agent '%s'", t.ID, t.Agent)
		}
		if t.ID != "" {
			if taskIDs[t.ID] {
				return fmt.Errorf("duplicate task id '%s'", t.ID)
			}
			taskIDs[t.ID] = true
		}
	}
	for _, t := range c.Tasks {
		for _, dep := range t.DependsOn {
			if !taskIDs[dep] {
				return fmt.Errorf("task '%s' depends on unknown task '%s'", t.ID, dep)
			}
		}
	}

	if c.Store.Dialect != "" {
		switch c.Store.Dialect {
		case "sqlite", "sqlite3", "postgres", "mysql":
		default:
			return fmt.Errorf("unsupported store dialect: %s", c.Store.Dialect)
		}
		if c.Store.DSN == "" {
			return fmt.Errorf("store dsn is required when a dialect is set")
		}
	}
	return nil
}
