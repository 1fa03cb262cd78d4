// Package team coordinates a set of agents through a dependency-ordered
// task list. The team owns the workflow state: task statuses, the worklog,
// metrics, and the final result.
package team

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kanba-ai/kanba/pkg/agent"
	"github.com/kanba-ai/kanba/pkg/cost"
	"github.com/kanba-ai/kanba/pkg/llms"
	"github.com/kanba-ai/kanba/pkg/metrics"
	"github.com/kanba-ai/kanba/pkg/status"
	"github.com/kanba-ai/kanba/pkg/task"
	"github.com/kanba-ai/kanba/pkg/worklog"
)

// TaskNotFoundError is returned by feedback and validation calls that name
// an unknown task.
type TaskNotFoundError struct {
	ID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task '%s' not found", e.ID)
}

// TaskValidationError is returned when validation or feedback is applied to
// a task whose status does not allow it.
type TaskValidationError struct {
	ID     string
	Status status.TaskStatus
}

func (e *TaskValidationError) Error() string {
	return fmt.Sprintf("task '%s' cannot be acted on in status %s", e.ID, e.Status)
}

// Config wires a team together. All collaborators are injected; the team
// creates nothing global.
type Config struct {
	Name          string
	Agents        []*agent.Agent
	Tasks         []*task.Task
	StatusManager *status.Manager
	Collector     *metrics.Collector
	Store         worklog.Store
	Pricing       cost.PricingTable
	Logger        *slog.Logger
}

// Result is what a finished (or stuck) workflow hands back to the caller.
type Result struct {
	Status status.WorkflowStatus
	Result string
	Stats  Stats
}

// Team drives one workflow run. A Team is single-use: construct, Start,
// read the result.
type Team struct {
	id  string
	cfg Config
	log *worklog.Log

	mu        sync.Mutex
	status    status.WorkflowStatus
	tasks     []*task.Task
	tasksByID map[string]*task.Task
	agents    map[string]*agent.Agent
	loops     map[string]*agent.Loop
	busy      map[string]bool
	running   int
	// modelUsage accumulates per-model LLM usage from landed task results.
	modelUsage map[string]llms.UsageStats
	startedAt  time.Time

	wake chan struct{}
}

// New validates the wiring and builds a team.
func New(cfg Config) (*Team, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, fmt.Errorf("team name cannot be empty")
	}
	if len(cfg.Agents) == 0 {
		return nil, fmt.Errorf("team '%s' has no agents", cfg.Name)
	}
	if len(cfg.Tasks) == 0 {
		return nil, fmt.Errorf("team '%s' has no tasks", cfg.Name)
	}
	if cfg.StatusManager == nil {
		cfg.StatusManager = status.NewManager(cfg.Logger)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Pricing == nil {
		cfg.Pricing = cost.DefaultPricing()
	}

	t := &Team{
		id:         uuid.NewString(),
		cfg:        cfg,
		log:        worklog.NewLog(),
		status:     status.WorkflowInitial,
		tasks:      cfg.Tasks,
		tasksByID:  make(map[string]*task.Task, len(cfg.Tasks)),
		agents:     make(map[string]*agent.Agent, len(cfg.Agents)),
		loops:      make(map[string]*agent.Loop, len(cfg.Agents)),
		busy:       make(map[string]bool, len(cfg.Agents)),
		modelUsage: make(map[string]llms.UsageStats),
		wake:       make(chan struct{}, 1),
	}

	for _, a := range cfg.Agents {
		if _, dup := t.agents[a.Name()]; dup {
			return nil, fmt.Errorf("duplicate agent name '%s'", a.Name())
		}
		t.agents[a.Name()] = a
		t.loops[a.Name()] = agent.NewLoop(a, cfg.StatusManager, t, cfg.Collector, cfg.Logger)
	}

	for _, tk := range cfg.Tasks {
		if err := tk.Validate(); err != nil {
			return nil, err
		}
		if _, dup := t.tasksByID[tk.ID]; dup {
			return nil, fmt.Errorf("duplicate task id '%s'", tk.ID)
		}
		t.tasksByID[tk.ID] = tk
	}
	for _, tk := range cfg.Tasks {
		if _, ok := t.agents[tk.AgentName]; !ok {
			return nil, fmt.Errorf("task '%s' references unknown agent '%s'", tk.Title, tk.AgentName)
		}
		for _, dep := range tk.DependsOn {
			if _, ok := t.tasksByID[dep]; !ok {
				return nil, fmt.Errorf("task '%s' depends on unknown task '%s'", tk.Title, dep)
			}
		}
	}

	return t, nil
}

// ID returns the workflow run identifier.
func (t *Team) ID() string { return t.id }

// Status returns the current workflow status.
func (t *Team) Status() status.WorkflowStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Tasks returns the task list in its original order.
func (t *Team) Tasks() []*task.Task { return t.tasks }

// TaskStatus returns a task's current status.
func (t *Team) TaskStatus(taskID string) (status.TaskStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tk, ok := t.tasksByID[taskID]
	if !ok {
		return "", false
	}
	return tk.Status, true
}

// TaskState is a point-in-time copy of a task's externally visible state.
type TaskState struct {
	ID            string            `json:"id"`
	Title         string            `json:"title"`
	AgentName     string            `json:"agentName"`
	Status        status.TaskStatus `json:"status"`
	DependsOn     []string          `json:"dependsOn,omitempty"`
	IsDeliverable bool              `json:"isDeliverable"`
	Result        string            `json:"result,omitempty"`
	BlockReason   string            `json:"blockReason,omitempty"`
	FeedbackCount int               `json:"feedbackCount"`
}

// TaskStates returns a consistent snapshot of every task, in list order.
func (t *Team) TaskStates() []TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	states := make([]TaskState, 0, len(t.tasks))
	for _, tk := range t.tasks {
		states = append(states, TaskState{
			ID:            tk.ID,
			Title:         tk.Title,
			AgentName:     tk.AgentName,
			Status:        tk.Status,
			DependsOn:     append([]string(nil), tk.DependsOn...),
			IsDeliverable: tk.IsDeliverable,
			Result:        tk.Result,
			BlockReason:   tk.BlockReason,
			FeedbackCount: len(tk.Feedback),
		})
	}
	return states
}

// Log returns the workflow's activity log.
func (t *Team) Log() *worklog.Log { return t.log }

// Subscribe streams future worklog entries.
func (t *Team) Subscribe(buffer int) (<-chan worklog.Entry, func()) {
	return t.log.Subscribe(buffer)
}

// Start runs the workflow to a terminal status. It blocks until every task
// is complete, the run is stuck, or the context is cancelled. Tasks that
// require external validation keep Start blocked until ValidateTask or
// ProvideFeedback resolves them.
func (t *Team) Start(ctx context.Context, inputs map[string]string) (*Result, error) {
	t.mu.Lock()
	if t.status != status.WorkflowInitial {
		t.mu.Unlock()
		return nil, fmt.Errorf("team '%s' has already started", t.cfg.Name)
	}
	for _, tk := range t.tasks {
		tk.Interpolate(inputs)
	}
	t.startedAt = time.Now()
	if err := t.setWorkflowStatusLocked(status.WorkflowRunning, nil); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	t.mu.Unlock()

	final := t.schedule(ctx)

	t.mu.Lock()
	meta := map[string]string{}
	if final == status.WorkflowErrored {
		meta["error"] = "one or more tasks failed"
	}
	if err := t.setWorkflowStatusLocked(final, meta); err != nil {
		t.cfg.Logger.Error("workflow final transition rejected", "team", t.cfg.Name, "to", final, "error", err)
	}
	result := &Result{
		Status: t.status,
		Result: t.deliverableLocked(),
		Stats:  t.statsLocked(),
	}
	t.mu.Unlock()

	t.persist(ctx)
	return result, ctx.Err()
}

// schedule is the dispatch loop: start every ready task whose agent is
// free, then sleep until a result lands or an external call changes task
// state. Among simultaneously ready tasks the original list order wins.
func (t *Team) schedule(ctx context.Context) status.WorkflowStatus {
	for {
		t.mu.Lock()
		if done, final := t.terminalLocked(); done {
			t.mu.Unlock()
			return final
		}

		for _, tk := range t.tasks {
			if !t.dispatchableLocked(tk) {
				continue
			}
			if err := t.setTaskStatusLocked(tk, status.TaskDoing, nil); err != nil {
				continue
			}
			t.busy[tk.AgentName] = true
			t.running++
			// Snapshot the prompt inputs while still holding the lock;
			// ProvideFeedback may mutate the live task mid-run.
			go t.runTask(ctx, tk, tk.View())
		}
		waiting := t.running
		t.mu.Unlock()

		select {
		case <-ctx.Done():
			// Let in-flight tasks land before declaring the run stuck.
			if waiting == 0 {
				return status.WorkflowBlocked
			}
			<-t.wake
		case <-t.wake:
		}
	}
}

// dispatchableLocked reports whether a task can start now: schedulable
// status, free agent, and all dependencies complete.
func (t *Team) dispatchableLocked(tk *task.Task) bool {
	if tk.Status != status.TaskTodo && tk.Status != status.TaskRevise {
		return false
	}
	if t.busy[tk.AgentName] {
		return false
	}
	return tk.Ready(func(id string) (status.TaskStatus, bool) {
		dep, ok := t.tasksByID[id]
		if !ok {
			return "", false
		}
		return dep.Status, true
	})
}

// terminalLocked decides whether the workflow is over. The run keeps
// waiting while anything is in flight or awaiting external validation.
func (t *Team) terminalLocked() (bool, status.WorkflowStatus) {
	if t.running > 0 {
		return false, ""
	}

	allComplete := true
	anyError := false
	anyWaitingExternal := false
	anyDispatchable := false

	for _, tk := range t.tasks {
		if !tk.Status.IsComplete() {
			allComplete = false
		}
		switch tk.Status {
		case status.TaskError:
			anyError = true
		case status.TaskAwaitingValidation:
			anyWaitingExternal = true
		case status.TaskTodo, status.TaskRevise:
			if t.dispatchableLocked(tk) {
				anyDispatchable = true
			}
		}
	}

	if allComplete {
		return true, status.WorkflowFinished
	}
	if anyDispatchable || anyWaitingExternal {
		return false, ""
	}
	if anyError {
		return true, status.WorkflowErrored
	}
	return true, status.WorkflowBlocked
}

// runTask drives one task through its agent's loop and lands the result.
func (t *Team) runTask(ctx context.Context, tk *task.Task, view task.View) {
	loop := t.loops[tk.AgentName]
	res, err := loop.Run(ctx, view)

	t.mu.Lock()
	defer func() {
		t.mu.Unlock()
		t.signal()
	}()

	t.busy[tk.AgentName] = false
	t.running--

	// Tokens were spent even if the result ends up discarded.
	if res != nil {
		usage := t.modelUsage[t.agents[tk.AgentName].Model()]
		usage.Merge(res.Usage)
		t.modelUsage[t.agents[tk.AgentName].Model()] = usage
	}

	// Feedback may have moved the task to REVISE while the agent was
	// working; that result is stale and is discarded.
	if tk.Status != status.TaskDoing {
		t.cfg.Logger.Info("discarding stale task result",
			"task", tk.Title, "status", string(tk.Status))
		return
	}

	switch {
	case err != nil || res == nil || res.Kind == agent.ResultAborted:
		meta := map[string]string{}
		if err != nil {
			meta["error"] = err.Error()
		}
		t.setTaskStatusLocked(tk, status.TaskError, meta)
		t.collect(metrics.DomainTask, metrics.TypeError, 1, map[string]any{"task": tk.Title})

	case res.Kind == agent.ResultBlocked:
		tk.BlockReason = res.BlockReason
		t.setTaskStatusLocked(tk, status.TaskBlocked, map[string]string{"reason": res.BlockReason})

	case tk.ExternalValidationRequired:
		tk.Result = res.Output
		t.setTaskStatusLocked(tk, status.TaskAwaitingValidation, nil)

	default:
		tk.Result = res.Output
		t.setTaskStatusLocked(tk, status.TaskDone, nil)
		t.collect(metrics.DomainTask, metrics.TypeSuccess, 1, map[string]any{"task": tk.Title})
	}
}

// ProvideFeedback rejects a task's current direction. Allowed while the
// task is DOING (the in-flight result will be discarded) or awaiting
// validation; the task returns to the schedule via REVISE.
func (t *Team) ProvideFeedback(taskID, content string) error {
	t.mu.Lock()
	defer func() {
		t.mu.Unlock()
		t.signal()
	}()

	tk, ok := t.tasksByID[taskID]
	if !ok {
		return &TaskNotFoundError{ID: taskID}
	}
	if tk.Status != status.TaskDoing && tk.Status != status.TaskAwaitingValidation {
		return &TaskValidationError{ID: taskID, Status: tk.Status}
	}

	tk.AddFeedback(content, tk.Status)
	return t.setTaskStatusLocked(tk, status.TaskRevise, map[string]string{"feedback": content})
}

// ValidateTask approves a task that is awaiting external validation.
func (t *Team) ValidateTask(taskID string) error {
	t.mu.Lock()
	defer func() {
		t.mu.Unlock()
		t.signal()
	}()

	tk, ok := t.tasksByID[taskID]
	if !ok {
		return &TaskNotFoundError{ID: taskID}
	}
	if tk.Status != status.TaskAwaitingValidation {
		return &TaskValidationError{ID: taskID, Status: tk.Status}
	}

	return t.setTaskStatusLocked(tk, status.TaskValidated, nil)
}

// RecordAgentStatus implements agent.Recorder: every loop transition lands
// in the worklog and the metrics stream.
func (t *Team) RecordAgentStatus(a *agent.Agent, tk task.View, st status.AgentStatus, metadata map[string]string) {
	t.log.Append(worklog.Entry{
		Type:       worklog.AgentStatusUpdate,
		WorkflowID: t.id,
		TaskID:     tk.ID,
		TaskTitle:  tk.Title,
		AgentID:    a.ID,
		AgentName:  a.Name(),
		Status:     string(st),
		Metadata:   metadata,
	})
	t.collect(metrics.DomainAgent, metrics.TypeStateTransition, 1, map[string]any{
		"agent": a.Name(), "status": string(st),
	})
}

// setTaskStatusLocked validates the task transition, applies it, and logs
// it. Caller holds the lock.
func (t *Team) setTaskStatusLocked(tk *task.Task, target status.TaskStatus, metadata map[string]string) error {
	err := t.cfg.StatusManager.Transition(status.Transition{
		Entity:   status.EntityTask,
		EntityID: tk.ID,
		Current:  string(tk.Status),
		Target:   string(target),
	})
	if err != nil {
		t.cfg.Logger.Error("task transition rejected",
			"task", tk.Title, "from", tk.Status, "to", target, "error", err)
		return err
	}

	tk.Status = target
	t.log.Append(worklog.Entry{
		Type:       worklog.TaskStatusUpdate,
		WorkflowID: t.id,
		TaskID:     tk.ID,
		TaskTitle:  tk.Title,
		AgentName:  tk.AgentName,
		Status:     string(target),
		Metadata:   metadata,
	})
	t.collect(metrics.DomainTask, metrics.TypeStateTransition, 1, map[string]any{
		"task": tk.Title, "status": string(target),
	})
	return nil
}

func (t *Team) setWorkflowStatusLocked(target status.WorkflowStatus, metadata map[string]string) error {
	err := t.cfg.StatusManager.Transition(status.Transition{
		Entity:   status.EntityWorkflow,
		EntityID: t.id,
		Current:  string(t.status),
		Target:   string(target),
	})
	if err != nil {
		return err
	}

	t.status = target
	t.log.Append(worklog.Entry{
		Type:       worklog.WorkflowStatusUpdate,
		WorkflowID: t.id,
		Status:     string(target),
		Metadata:   metadata,
	})
	t.collect(metrics.DomainWorkflow, metrics.TypeStateTransition, 1, map[string]any{
		"team": t.cfg.Name, "status": string(target),
	})
	return nil
}

// deliverableLocked is the workflow's final result: the last deliverable
// task's result, or the last task's when none is marked deliverable.
func (t *Team) deliverableLocked() string {
	result := ""
	for _, tk := range t.tasks {
		if tk.IsDeliverable && tk.Result != "" {
			result = tk.Result
		}
	}
	if result == "" && len(t.tasks) > 0 {
		result = t.tasks[len(t.tasks)-1].Result
	}
	return result
}

// persist writes the full worklog to the configured store, best effort.
func (t *Team) persist(ctx context.Context) {
	if t.cfg.Store == nil {
		return
	}
	if err := t.cfg.Store.Append(context.WithoutCancel(ctx), t.log.Entries()); err != nil {
		t.cfg.Logger.Error("failed to persist worklog", "team", t.cfg.Name, "error", err)
	}
}

func (t *Team) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Team) collect(domain metrics.Domain, typ metrics.Type, value float64, metadata map[string]any) {
	if t.cfg.Collector == nil {
		return
	}
	t.cfg.Collector.Collect(domain, typ, value, metadata)
}
