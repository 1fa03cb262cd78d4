package team

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanba-ai/kanba/pkg/agent"
	"github.com/kanba-ai/kanba/pkg/llms"
	"github.com/kanba-ai/kanba/pkg/status"
	"github.com/kanba-ai/kanba/pkg/task"
	"github.com/kanba-ai/kanba/pkg/worklog"
)

const errMarker = "<error>"

// scriptedLLM replays canned responses in order, safely across goroutines.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func (s *scriptedLLM) Name() string  { return "scripted" }
func (s *scriptedLLM) Model() string { return "scripted-model" }

func (s *scriptedLLM) Invoke(ctx context.Context, messages []llms.Message) (*llms.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls >= len(s.responses) {
		return nil, fmt.Errorf("script exhausted after %d calls", s.calls)
	}
	resp := s.responses[s.calls]
	s.calls++
	if resp == errMarker {
		return nil, fmt.Errorf("provider unavailable")
	}
	return &llms.Completion{
		Content: resp,
		Usage:   llms.Usage{PromptTokens: 10, CompletionTokens: 5},
	}, nil
}

func finalAnswer(answer string) string {
	return fmt.Sprintf(`{"finalAnswer": %q}`, answer)
}

func newAgent(t *testing.T, name string, responses ...string) *agent.Agent {
	t.Helper()
	a, err := agent.New(agent.Config{Name: name, MaxIterations: 5}, &scriptedLLM{responses: responses}, nil)
	require.NoError(t, err)
	return a
}

func taskStatuses(entries []worklog.Entry, taskID string) []string {
	var out []string
	for _, e := range entries {
		if e.Type == worklog.TaskStatusUpdate && e.TaskID == taskID {
			out = append(out, e.Status)
		}
	}
	return out
}

func TestStartLinearDependencyChain(t *testing.T) {
	researcher := newAgent(t, "researcher", finalAnswer("research notes"))
	writer := newAgent(t, "writer", finalAnswer("the article"))

	research := task.New("Research {topic}", "researcher", task.WithID("research"))
	write := task.New("Write an article", "writer",
		task.WithID("write"), task.WithDependsOn("research"), task.WithDeliverable())

	tm, err := New(Config{
		Name:   "newsroom",
		Agents: []*agent.Agent{researcher, writer},
		Tasks:  []*task.Task{research, write},
	})
	require.NoError(t, err)

	result, err := tm.Start(context.Background(), map[string]string{"topic": "Go"})
	require.NoError(t, err)

	assert.Equal(t, status.WorkflowFinished, result.Status)
	assert.Equal(t, "the article", result.Result)
	assert.Equal(t, status.TaskDone, research.Status)
	assert.Equal(t, status.TaskDone, write.Status)
	assert.Equal(t, "Research Go", research.InterpolatedDescription)

	entries := tm.Log().Entries()
	assert.Equal(t, []string{"DOING", "DONE"}, taskStatuses(entries, "research"))
	assert.Equal(t, []string{"DOING", "DONE"}, taskStatuses(entries, "write"))

	// The dependent task starts only after its dependency is DONE.
	var researchDone, writeDoing int64
	for _, e := range entries {
		if e.Type != worklog.TaskStatusUpdate {
			continue
		}
		if e.TaskID == "research" && e.Status == "DONE" {
			researchDone = e.Seq
		}
		if e.TaskID == "write" && e.Status == "DOING" {
			writeDoing = e.Seq
		}
	}
	assert.Greater(t, writeDoing, researchDone)

	stats := result.Stats
	assert.Equal(t, "newsroom", stats.TeamName)
	assert.Equal(t, 2, stats.TaskCount)
	assert.Equal(t, 2, stats.AgentCount)
	assert.Equal(t, 20, stats.LLMUsage.InputTokens)
	assert.Equal(t, 10, stats.LLMUsage.OutputTokens)
	assert.Equal(t, 2, stats.LLMUsage.CallsCount)
	assert.Contains(t, stats.ModelUsage, "scripted-model")
	// Unknown model pricing surfaces as the unavailable sentinel.
	assert.True(t, stats.Cost.Unavailable())
}

func TestStartSharedAgentRunsTasksInListOrder(t *testing.T) {
	solo := newAgent(t, "solo", finalAnswer("one"), finalAnswer("two"), finalAnswer("three"))
	tasks := []*task.Task{
		task.New("first", "solo", task.WithID("t1")),
		task.New("second", "solo", task.WithID("t2")),
		task.New("third", "solo", task.WithID("t3")),
	}

	tm, err := New(Config{Name: "queue", Agents: []*agent.Agent{solo}, Tasks: tasks})
	require.NoError(t, err)

	result, err := tm.Start(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, status.WorkflowFinished, result.Status)

	var doingOrder []string
	for _, e := range tm.Log().Entries() {
		if e.Type == worklog.TaskStatusUpdate && e.Status == "DOING" {
			doingOrder = append(doingOrder, e.TaskID)
		}
	}
	assert.Equal(t, []string{"t1", "t2", "t3"}, doingOrder)
	assert.Equal(t, "one", tasks[0].Result)
	assert.Equal(t, "three", tasks[2].Result)
}

func TestStartParallelIndependentTasks(t *testing.T) {
	a1 := newAgent(t, "alpha", finalAnswer("alpha done"))
	a2 := newAgent(t, "beta", finalAnswer("beta done"))
	tasks := []*task.Task{
		task.New("left", "alpha", task.WithID("left")),
		task.New("right", "beta", task.WithID("right")),
	}

	tm, err := New(Config{Name: "pair", Agents: []*agent.Agent{a1, a2}, Tasks: tasks})
	require.NoError(t, err)

	result, err := tm.Start(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, status.WorkflowFinished, result.Status)
	assert.Equal(t, status.TaskDone, tasks[0].Status)
	assert.Equal(t, status.TaskDone, tasks[1].Status)
}

func TestStartExternalValidationApproved(t *testing.T) {
	reviewerBound := newAgent(t, "worker", finalAnswer("draft v1"))
	tk := task.New("Write the draft", "worker", task.WithID("draft"), task.WithExternalValidation())

	tm, err := New(Config{Name: "review", Agents: []*agent.Agent{reviewerBound}, Tasks: []*task.Task{tk}})
	require.NoError(t, err)

	results := make(chan *Result, 1)
	go func() {
		r, startErr := tm.Start(context.Background(), nil)
		require.NoError(t, startErr)
		results <- r
	}()

	require.Eventually(t, func() bool {
		st, _ := tm.TaskStatus("draft")
		return st == status.TaskAwaitingValidation
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, tm.ValidateTask("draft"))

	select {
	case r := <-results:
		assert.Equal(t, status.WorkflowFinished, r.Status)
		assert.Equal(t, "draft v1", r.Result)
	case <-time.After(2 * time.Second):
		t.Fatal("workflow did not finish after validation")
	}

	st, _ := tm.TaskStatus("draft")
	assert.Equal(t, status.TaskValidated, st)
}

func TestStartFeedbackLoopRevises(t *testing.T) {
	worker := newAgent(t, "worker", finalAnswer("draft v1"), finalAnswer("draft v2"))
	tk := task.New("Write the draft", "worker", task.WithID("draft"), task.WithExternalValidation())

	tm, err := New(Config{Name: "review", Agents: []*agent.Agent{worker}, Tasks: []*task.Task{tk}})
	require.NoError(t, err)

	results := make(chan *Result, 1)
	go func() {
		r, startErr := tm.Start(context.Background(), nil)
		require.NoError(t, startErr)
		results <- r
	}()

	require.Eventually(t, func() bool {
		st, _ := tm.TaskStatus("draft")
		return st == status.TaskAwaitingValidation
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, tm.ProvideFeedback("draft", "too short, add detail"))

	// Wait for the second round trip: DOING, AWAITING_VALIDATION, REVISE,
	// DOING, AWAITING_VALIDATION.
	require.Eventually(t, func() bool {
		return len(taskStatuses(tm.Log().Entries(), "draft")) >= 5
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, tm.ValidateTask("draft"))

	select {
	case r := <-results:
		assert.Equal(t, status.WorkflowFinished, r.Status)
		assert.Equal(t, "draft v2", r.Result)
	case <-time.After(2 * time.Second):
		t.Fatal("workflow did not finish")
	}

	require.Len(t, tk.Feedback, 1)
	assert.Equal(t, "too short, add detail", tk.Feedback[0].Content)
	assert.Equal(t, []string{"DOING", "AWAITING_VALIDATION", "REVISE", "DOING", "AWAITING_VALIDATION", "VALIDATED"},
		taskStatuses(tm.Log().Entries(), "draft"))
}

func TestStartBlockedTaskBlocksWorkflow(t *testing.T) {
	worker := newAgent(t, "worker",
		`{"thought": "no access", "action": "block_task", "actionInput": {"reason": "missing API credentials"}}`)
	tk := task.New("Deploy the release", "worker", task.WithID("deploy"))

	tm, err := New(Config{Name: "ops", Agents: []*agent.Agent{worker}, Tasks: []*task.Task{tk}})
	require.NoError(t, err)

	result, err := tm.Start(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, status.WorkflowBlocked, result.Status)
	assert.Equal(t, status.TaskBlocked, tk.Status)
	assert.Equal(t, "missing API credentials", tk.BlockReason)
}

func TestStartLLMFailureErrorsWorkflow(t *testing.T) {
	worker := newAgent(t, "worker", errMarker)
	tk := task.New("Doomed work", "worker", task.WithID("doomed"))

	tm, err := New(Config{Name: "unlucky", Agents: []*agent.Agent{worker}, Tasks: []*task.Task{tk}})
	require.NoError(t, err)

	result, err := tm.Start(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, status.WorkflowErrored, result.Status)
	assert.Equal(t, status.TaskError, tk.Status)
}

func TestStartPersistsWorklog(t *testing.T) {
	store := worklog.NewMemoryStore()
	worker := newAgent(t, "worker", finalAnswer("done"))
	tk := task.New("Simple", "worker")

	tm, err := New(Config{Name: "persisted", Agents: []*agent.Agent{worker}, Tasks: []*task.Task{tk}, Store: store})
	require.NoError(t, err)

	_, err = tm.Start(context.Background(), nil)
	require.NoError(t, err)

	persisted, err := store.List(context.Background(), tm.ID())
	require.NoError(t, err)
	assert.Equal(t, tm.Log().Len(), len(persisted))
}

func TestProvideFeedbackAndValidateErrors(t *testing.T) {
	worker := newAgent(t, "worker", finalAnswer("done"))
	tk := task.New("Simple", "worker", task.WithID("simple"))

	tm, err := New(Config{Name: "errors", Agents: []*agent.Agent{worker}, Tasks: []*task.Task{tk}})
	require.NoError(t, err)

	var notFound *TaskNotFoundError
	err = tm.ProvideFeedback("ghost", "hello")
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "ghost", notFound.ID)

	// TODO status accepts neither feedback nor validation.
	var invalid *TaskValidationError
	require.ErrorAs(t, tm.ProvideFeedback("simple", "hello"), &invalid)
	require.ErrorAs(t, tm.ValidateTask("simple"), &invalid)
	assert.Equal(t, status.TaskTodo, invalid.Status)
}

func TestNewRejectsBadWiring(t *testing.T) {
	worker := newAgent(t, "worker", finalAnswer("done"))

	_, err := New(Config{Name: "", Agents: []*agent.Agent{worker}, Tasks: []*task.Task{task.New("x", "worker")}})
	assert.Error(t, err)

	_, err = New(Config{Name: "t", Agents: []*agent.Agent{worker}, Tasks: []*task.Task{task.New("x", "ghost")}})
	assert.Error(t, err)

	_, err = New(Config{Name: "t", Agents: []*agent.Agent{worker},
		Tasks: []*task.Task{task.New("x", "worker", task.WithDependsOn("nope"))}})
	assert.Error(t, err)

	_, err = New(Config{Name: "t", Agents: []*agent.Agent{worker}, Tasks: nil})
	assert.Error(t, err)
}

func TestStartTwiceFails(t *testing.T) {
	worker := newAgent(t, "worker", finalAnswer("done"))
	tm, err := New(Config{Name: "once", Agents: []*agent.Agent{worker}, Tasks: []*task.Task{task.New("x", "worker")}})
	require.NoError(t, err)

	_, err = tm.Start(context.Background(), nil)
	require.NoError(t, err)

	_, err = tm.Start(context.Background(), nil)
	assert.Error(t, err)
}

// gatedLLM holds every call open until the gate closes, so a test can act
// while an agent is mid-call. It records each call's last user message.
type gatedLLM struct {
	gate      chan struct{}
	entered   chan struct{}
	mu        sync.Mutex
	responses []string
	calls     int
	prompts   []string
}

func (g *gatedLLM) Name() string  { return "gated" }
func (g *gatedLLM) Model() string { return "scripted-model" }

func (g *gatedLLM) Invoke(ctx context.Context, messages []llms.Message) (*llms.Completion, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llms.RoleUser {
			g.prompts = append(g.prompts, messages[i].Content)
			break
		}
	}
	if g.calls >= len(g.responses) {
		return nil, fmt.Errorf("script exhausted after %d calls", g.calls)
	}
	resp := g.responses[g.calls]
	g.calls++
	return &llms.Completion{
		Content: resp,
		Usage:   llms.Usage{PromptTokens: 10, CompletionTokens: 5},
	}, nil
}

func TestProvideFeedbackWhileTaskRunning(t *testing.T) {
	llm := &gatedLLM{
		gate:      make(chan struct{}),
		entered:   make(chan struct{}, 1),
		responses: []string{finalAnswer("draft v1"), finalAnswer("draft v2")},
	}
	worker, err := agent.New(agent.Config{Name: "worker", MaxIterations: 5}, llm, nil)
	require.NoError(t, err)
	tk := task.New("Write the draft", "worker", task.WithID("draft"))

	tm, err := New(Config{Name: "review", Agents: []*agent.Agent{worker}, Tasks: []*task.Task{tk}})
	require.NoError(t, err)

	results := make(chan *Result, 1)
	go func() {
		r, startErr := tm.Start(context.Background(), nil)
		require.NoError(t, startErr)
		results <- r
	}()

	// The agent is inside its first LLM call, task still DOING.
	select {
	case <-llm.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("agent never reached the LLM call")
	}

	// Feedback lands mid-call; the in-flight result must be discarded.
	require.NoError(t, tm.ProvideFeedback("draft", "include sources"))
	st, _ := tm.TaskStatus("draft")
	assert.Equal(t, status.TaskRevise, st)

	close(llm.gate)

	select {
	case r := <-results:
		assert.Equal(t, status.WorkflowFinished, r.Status)
		assert.Equal(t, "draft v2", r.Result)
	case <-time.After(2 * time.Second):
		t.Fatal("workflow did not finish after the revision")
	}

	statuses := taskStatuses(tm.Log().Entries(), "draft")
	assert.Equal(t, []string{"DOING", "REVISE", "DOING", "DONE"}, statuses)

	// The rerun's prompt carries the feedback; the first call's does not.
	llm.mu.Lock()
	prompts := append([]string(nil), llm.prompts...)
	llm.mu.Unlock()
	require.Len(t, prompts, 2)
	assert.NotContains(t, prompts[0], "include sources")
	assert.Contains(t, prompts[1], "include sources")
}
