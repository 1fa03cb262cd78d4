package status

import (
	"fmt"
	"log/slog"
)

// Transition describes a single requested status change for one entity.
type Transition struct {
	Entity   EntityKind
	EntityID string
	Current  string
	Target   string
	Metadata map[string]any
}

// InvalidTransitionError is returned when a requested status change is not in
// the static transition table for the entity kind. Callers must not mutate
// entity state when this error is returned.
type InvalidTransitionError struct {
	Entity   EntityKind
	EntityID string
	Current  string
	Target   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition for %q: %s -> %s",
		e.Entity, e.EntityID, e.Current, e.Target)
}

// Hook observes successfully validated transitions. Hooks are invoked
// synchronously in registration order; they are expected not to fail.
type Hook func(tr Transition)

// Manager validates status transitions against static per-entity tables.
// It holds no domain state; the caller owns the entity's current status and
// applies the target status only after Transition returns nil.
type Manager struct {
	tables map[EntityKind]map[string][]string
	hooks  []Hook
	logger *slog.Logger
}

// NewManager creates a transition manager with the built-in tables for
// agents, tasks and workflows.
func NewManager(logger *slog.Logger, hooks ...Hook) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		tables: map[EntityKind]map[string][]string{
			EntityTask:     taskTransitions,
			EntityAgent:    agentTransitions,
			EntityWorkflow: workflowTransitions,
		},
		hooks:  hooks,
		logger: logger,
	}
}

// AddHook registers an additional transition observer.
func (m *Manager) AddHook(h Hook) {
	m.hooks = append(m.hooks, h)
}

// Transition validates the requested status change. On success it notifies
// the registered hooks and returns nil; on an invalid change it returns
// *InvalidTransitionError and performs no side effects.
func (m *Manager) Transition(tr Transition) error {
	table, ok := m.tables[tr.Entity]
	if !ok {
		return &InvalidTransitionError{
			Entity:   tr.Entity,
			EntityID: tr.EntityID,
			Current:  tr.Current,
			Target:   tr.Target,
		}
	}

	targets, ok := table[tr.Current]
	if !ok || !contains(targets, tr.Target) {
		return &InvalidTransitionError{
			Entity:   tr.Entity,
			EntityID: tr.EntityID,
			Current:  tr.Current,
			Target:   tr.Target,
		}
	}

	m.logger.Debug("status transition",
		"entity", string(tr.Entity),
		"id", tr.EntityID,
		"from", tr.Current,
		"to", tr.Target)

	for _, h := range m.hooks {
		h(tr)
	}
	return nil
}

// CanTransition reports whether the change would be accepted, without
// triggering hooks.
func (m *Manager) CanTransition(entity EntityKind, current, target string) bool {
	table, ok := m.tables[entity]
	if !ok {
		return false
	}
	return contains(table[current], target)
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

// taskTransitions is the task lifecycle graph. TODO is the initial state;
// DONE, VALIDATED, ERROR and BLOCKED are terminal for the run.
var taskTransitions = map[string][]string{
	string(TaskTodo):  {string(TaskDoing)},
	string(TaskDoing): {string(TaskDone), string(TaskAwaitingValidation), string(TaskBlocked), string(TaskError), string(TaskRevise)},
	string(TaskAwaitingValidation): {string(TaskValidated), string(TaskRevise)},
	string(TaskRevise):             {string(TaskDoing)},
}

// agentTransitions mirrors the iteration loop protocol: every think/act step
// funnels back through ITERATION_END until a final answer, a block, an abort
// or the iteration budget is reached.
var agentTransitions = map[string][]string{
	string(AgentInitial):        {string(AgentIterationStart), string(AgentTaskAborted)},
	string(AgentIterationStart): {string(AgentThinking)},
	string(AgentThinking):       {string(AgentThinkingEnd), string(AgentThinkingError)},
	string(AgentThinkingEnd): {
		string(AgentThought), string(AgentSelfQuestion), string(AgentObservation),
		string(AgentFinalAnswer), string(AgentWeirdLLMOutput), string(AgentParsingIssues),
		string(AgentTaskBlocked),
	},
	string(AgentThinkingError):    {string(AgentTaskAborted)},
	string(AgentThought):          {string(AgentUsingTool), string(AgentToolDoesNotExist), string(AgentIterationEnd)},
	string(AgentUsingTool):        {string(AgentUsingToolEnd), string(AgentUsingToolError)},
	string(AgentUsingToolEnd):     {string(AgentObservation)},
	string(AgentUsingToolError):   {string(AgentIterationEnd)},
	string(AgentToolDoesNotExist): {string(AgentIterationEnd)},
	string(AgentSelfQuestion):     {string(AgentIterationEnd)},
	string(AgentObservation):      {string(AgentIterationEnd)},
	string(AgentWeirdLLMOutput):   {string(AgentIterationEnd)},
	string(AgentParsingIssues):    {string(AgentIterationEnd)},
	string(AgentFinalAnswer):      {string(AgentTaskCompleted)},
	// Cancellation between iterations aborts from ITERATION_END.
	string(AgentIterationEnd): {string(AgentIterationStart), string(AgentMaxIterationsError), string(AgentTaskAborted)},
	// A forced best-effort final answer is one extra thinking pass past the
	// iteration budget; its failure aborts the task.
	string(AgentMaxIterationsError): {string(AgentThinking), string(AgentTaskAborted)},
	// Terminal agent statuses reset to INITIAL when the agent picks up the
	// next task (including REVISE re-runs).
	string(AgentTaskCompleted): {string(AgentInitial)},
	string(AgentTaskBlocked):   {string(AgentInitial)},
	string(AgentTaskAborted):   {string(AgentInitial)},
}

var workflowTransitions = map[string][]string{
	string(WorkflowInitial): {string(WorkflowRunning)},
	string(WorkflowRunning): {string(WorkflowFinished), string(WorkflowBlocked), string(WorkflowErrored)},
}
