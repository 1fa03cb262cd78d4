// Package status defines the closed status enums for agents, tasks and
// workflows, and a generic transition engine that validates every status
// change against a static per-entity transition table.
package status

// EntityKind identifies which transition table applies to a status change.
type EntityKind string

const (
	EntityAgent    EntityKind = "agent"
	EntityTask     EntityKind = "task"
	EntityWorkflow EntityKind = "workflow"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskTodo               TaskStatus = "TODO"
	TaskDoing              TaskStatus = "DOING"
	TaskBlocked            TaskStatus = "BLOCKED"
	TaskRevise             TaskStatus = "REVISE"
	TaskAwaitingValidation TaskStatus = "AWAITING_VALIDATION"
	TaskValidated          TaskStatus = "VALIDATED"
	TaskDone               TaskStatus = "DONE"
	TaskError              TaskStatus = "ERROR"
)

// IsTerminal returns whether the task status admits no further transitions
// within a workflow run. BLOCKED is terminal for the run: it is surfaced to
// the caller and never auto-retried.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskDone, TaskValidated, TaskError, TaskBlocked:
		return true
	}
	return false
}

// IsComplete returns whether the task counts as successfully finished for
// dependency-readiness purposes.
func (s TaskStatus) IsComplete() bool {
	return s == TaskDone || s == TaskValidated
}

// AgentStatus represents the fine-grained state of an agent's iteration loop.
type AgentStatus string

const (
	AgentInitial            AgentStatus = "INITIAL"
	AgentIterationStart     AgentStatus = "ITERATION_START"
	AgentIterationEnd       AgentStatus = "ITERATION_END"
	AgentThinking           AgentStatus = "THINKING"
	AgentThinkingEnd        AgentStatus = "THINKING_END"
	AgentThinkingError      AgentStatus = "THINKING_ERROR"
	AgentThought            AgentStatus = "THOUGHT"
	AgentSelfQuestion       AgentStatus = "SELF_QUESTION"
	AgentObservation        AgentStatus = "OBSERVATION"
	AgentUsingTool          AgentStatus = "USING_TOOL"
	AgentUsingToolEnd       AgentStatus = "USING_TOOL_END"
	AgentUsingToolError     AgentStatus = "USING_TOOL_ERROR"
	AgentToolDoesNotExist   AgentStatus = "TOOL_DOES_NOT_EXIST"
	AgentFinalAnswer        AgentStatus = "FINAL_ANSWER"
	AgentWeirdLLMOutput     AgentStatus = "WEIRD_LLM_OUTPUT"
	AgentParsingIssues      AgentStatus = "ISSUES_PARSING_LLM_OUTPUT"
	AgentMaxIterationsError AgentStatus = "MAX_ITERATIONS_ERROR"
	AgentTaskCompleted      AgentStatus = "TASK_COMPLETED"
	AgentTaskBlocked        AgentStatus = "TASK_BLOCKED"
	AgentTaskAborted        AgentStatus = "TASK_ABORTED"
)

// IsTerminal returns whether the agent status ends the current task run.
func (s AgentStatus) IsTerminal() bool {
	switch s {
	case AgentTaskCompleted, AgentTaskBlocked, AgentTaskAborted:
		return true
	}
	return false
}

// WorkflowStatus represents the overall state of a workflow run.
type WorkflowStatus string

const (
	WorkflowInitial  WorkflowStatus = "INITIAL"
	WorkflowRunning  WorkflowStatus = "RUNNING"
	WorkflowFinished WorkflowStatus = "FINISHED"
	WorkflowBlocked  WorkflowStatus = "BLOCKED"
	WorkflowErrored  WorkflowStatus = "ERRORED"
)

// IsTerminal returns whether the workflow status is final.
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case WorkflowFinished, WorkflowBlocked, WorkflowErrored:
		return true
	}
	return false
}
