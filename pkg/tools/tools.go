// Package tools defines the tool abstraction agents can act through, a
// registry of named tools, and the built-in block_task escalation tool.
package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/kanba-ai/kanba/pkg/registry"
)

// BlockActionName is the reserved action an agent emits to give up on a
// task and surface a reason instead of an answer.
const BlockActionName = "block_task"

// Tool is an action an agent can take between think and observe.
type Tool interface {
	Name() string
	Description() string
	// Schema describes the tool's input as a JSON schema document.
	Schema() map[string]any
	Invoke(ctx context.Context, input map[string]any) (string, error)
}

// ToolNotFoundError is returned when an agent asks for a tool that is not
// registered. Available carries the valid names so the agent can be
// corrected with them.
type ToolNotFoundError struct {
	Name      string
	Available []string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool '%s' not found, available tools: %s", e.Name, strings.Join(e.Available, ", "))
}

// Registry holds the tools available to an agent.
type Registry struct {
	*registry.Registry[Tool]
}

func NewRegistry() *Registry {
	return &Registry{
		Registry: registry.New[Tool](),
	}
}

// RegisterTool registers a tool under its own name.
func (r *Registry) RegisterTool(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tool cannot be nil")
	}
	return r.Register(tool.Name(), tool)
}

// Lookup resolves a tool by name, returning ToolNotFoundError when absent.
func (r *Registry) Lookup(name string) (Tool, error) {
	tool, ok := r.Get(name)
	if !ok {
		return nil, &ToolNotFoundError{Name: name, Available: r.Names()}
	}
	return tool, nil
}

// Describe renders a catalog of registered tools for inclusion in an agent
// prompt, one "name: description" line per tool in name order.
func (r *Registry) Describe() string {
	var b strings.Builder
	for _, name := range r.Names() {
		tool, _ := r.Get(name)
		fmt.Fprintf(&b, "- %s: %s\n", tool.Name(), tool.Description())
	}
	return b.String()
}
