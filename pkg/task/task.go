// Package task defines the unit of work a team schedules onto agents:
// a description, expected output, dependencies, and a validation contract.
package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kanba-ai/kanba/pkg/status"
)

const maxTitleLength = 60

// Feedback is one human intervention on a task, kept in order so revisions
// can see the full correction history.
type Feedback struct {
	Content   string            `json:"content"`
	Status    status.TaskStatus `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
}

// Task is a unit of work. Status moves only through the task transition
// table; everything else is set at build time or written by the scheduler.
type Task struct {
	ID                         string            `json:"id"`
	Title                      string            `json:"title"`
	Description                string            `json:"description"`
	ExpectedOutput             string            `json:"expectedOutput"`
	AgentName                  string            `json:"agentName"`
	DependsOn                  []string          `json:"dependsOn,omitempty"`
	IsDeliverable              bool              `json:"isDeliverable"`
	ExternalValidationRequired bool              `json:"externalValidationRequired"`
	Status                     status.TaskStatus `json:"status"`
	Result                     string            `json:"result,omitempty"`
	BlockReason                string            `json:"blockReason,omitempty"`
	Feedback                   []Feedback        `json:"feedback,omitempty"`
	InterpolatedDescription    string            `json:"-"`
	CreatedAt                  time.Time         `json:"createdAt"`
}

// Option configures a task at build time.
type Option func(*Task)

func WithID(id string) Option {
	return func(t *Task) { t.ID = id }
}

func WithExpectedOutput(expected string) Option {
	return func(t *Task) { t.ExpectedOutput = expected }
}

func WithDependsOn(ids ...string) Option {
	return func(t *Task) { t.DependsOn = append(t.DependsOn, ids...) }
}

func WithDeliverable() Option {
	return func(t *Task) { t.IsDeliverable = true }
}

func WithExternalValidation() Option {
	return func(t *Task) { t.ExternalValidationRequired = true }
}

// New builds a task in TODO assigned to the named agent.
func New(description, agentName string, opts ...Option) *Task {
	t := &Task{
		ID:          uuid.NewString(),
		Title:       TitleFromDescription(description),
		Description: description,
		AgentName:   agentName,
		Status:      status.TaskTodo,
		CreatedAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TitleFromDescription derives a display title from the first line of a
// description, truncated at a rune boundary.
func TitleFromDescription(description string) string {
	title := strings.TrimSpace(description)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = strings.TrimSpace(title[:idx])
	}
	runes := []rune(title)
	if len(runes) > maxTitleLength {
		title = strings.TrimSpace(string(runes[:maxTitleLength-3])) + "..."
	}
	return title
}

// Interpolate fills {placeholder} markers in the description from inputs
// and stores the result. Markers without a matching input are left intact
// so the gap is visible in the prompt.
func (t *Task) Interpolate(inputs map[string]string) {
	interpolated := t.Description
	for key, value := range inputs {
		interpolated = strings.ReplaceAll(interpolated, "{"+key+"}", value)
	}
	t.InterpolatedDescription = interpolated
}

// PromptDescription is the text handed to the agent: the interpolated
// description when inputs were applied, the raw description otherwise.
func (t *Task) PromptDescription() string {
	if t.InterpolatedDescription != "" {
		return t.InterpolatedDescription
	}
	return t.Description
}

// View is an immutable snapshot of what an agent needs from a task. The
// live Task stays owned by the team and may change while a loop runs, so
// loops only ever see a View captured at dispatch time.
type View struct {
	ID             string
	Title          string
	Description    string
	ExpectedOutput string
	Feedback       []Feedback
	PreviousResult string
}

// View captures the task's prompt inputs. The caller must hold whatever
// lock guards the task's mutable fields.
func (t *Task) View() View {
	return View{
		ID:             t.ID,
		Title:          t.Title,
		Description:    t.PromptDescription(),
		ExpectedOutput: t.ExpectedOutput,
		Feedback:       append([]Feedback(nil), t.Feedback...),
		PreviousResult: t.Result,
	}
}

// AddFeedback appends an intervention taken while the task was in the
// given status.
func (t *Task) AddFeedback(content string, at status.TaskStatus) {
	t.Feedback = append(t.Feedback, Feedback{
		Content:   content,
		Status:    at,
		Timestamp: time.Now(),
	})
}

// Ready reports whether every dependency is complete. statusOf resolves a
// dependency ID to its current status; unknown IDs count as not ready.
func (t *Task) Ready(statusOf func(id string) (status.TaskStatus, bool)) bool {
	for _, dep := range t.DependsOn {
		depStatus, ok := statusOf(dep)
		if !ok || !depStatus.IsComplete() {
			return false
		}
	}
	return true
}

// Validate checks structural integrity at build time.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Description) == "" {
		return fmt.Errorf("task description cannot be empty")
	}
	if strings.TrimSpace(t.AgentName) == "" {
		return fmt.Errorf("task '%s' has no agent assigned", t.Title)
	}
	for _, dep := range t.DependsOn {
		if dep == t.ID {
			return fmt.Errorf("task '%s' depends on itself", t.Title)
		}
	}
	return nil
}
