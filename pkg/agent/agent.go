// Package agent implements the LLM-backed worker that drives a single task
// to a terminal status through bounded think/act/observe iterations.
package agent

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kanba-ai/kanba/pkg/llms"
	"github.com/kanba-ai/kanba/pkg/status"
	"github.com/kanba-ai/kanba/pkg/tools"
)

const defaultMaxIterations = 10

// Config shapes an agent's persona and iteration budget.
type Config struct {
	Name          string `yaml:"name" json:"name"`
	Role          string `yaml:"role" json:"role"`
	Goal          string `yaml:"goal" json:"goal"`
	Background    string `yaml:"background" json:"background"`
	SystemMessage string `yaml:"system_message" json:"systemMessage,omitempty"`
	MaxIterations int    `yaml:"max_iterations" json:"maxIterations"`
}

func (c *Config) SetDefaults() {
	if c.MaxIterations == 0 {
		c.MaxIterations = defaultMaxIterations
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("agent name cannot be empty")
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("agent '%s': max_iterations must be positive, got %d", c.Name, c.MaxIterations)
	}
	return nil
}

// Agent owns an LLM provider and a tool set. Its status field is only
// touched by the iteration loop; the team reads it for monitoring.
type Agent struct {
	ID     string
	Config Config

	llm    llms.Provider
	tools  *tools.Registry
	status status.AgentStatus
}

// New builds an agent. A nil tool registry means the agent works without
// tools.
func New(cfg Config, llm llms.Provider, toolset *tools.Registry) (*Agent, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if llm == nil {
		return nil, fmt.Errorf("agent '%s': LLM provider is required", cfg.Name)
	}
	if toolset == nil {
		toolset = tools.NewRegistry()
	}
	return &Agent{
		ID:     uuid.NewString(),
		Config: cfg,
		llm:    llm,
		tools:  toolset,
		status: status.AgentInitial,
	}, nil
}

func (a *Agent) Name() string  { return a.Config.Name }
func (a *Agent) Model() string { return a.llm.Model() }

// Status returns the agent's current loop status.
func (a *Agent) Status() status.AgentStatus { return a.status }
