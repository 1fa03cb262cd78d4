package team

import (
	"strconv"
	"time"

	"github.com/kanba-ai/kanba/pkg/cost"
	"github.com/kanba-ai/kanba/pkg/llms"
	"github.com/kanba-ai/kanba/pkg/status"
	"github.com/kanba-ai/kanba/pkg/worklog"
)

// Stats is the point-in-time summary of a workflow run. It is derived
// entirely by scanning the worklog, never stored.
type Stats struct {
	TeamName       string                    `json:"teamName"`
	Duration       time.Duration             `json:"duration"`
	TaskCount      int                       `json:"taskCount"`
	AgentCount     int                       `json:"agentCount"`
	IterationCount int                       `json:"iterationCount"`
	LLMUsage       llms.UsageStats           `json:"llmUsageStats"`
	ModelUsage     map[string]llms.UsageStats `json:"modelUsage"`
	Cost           cost.Details              `json:"costDetails"`
}

// Stats computes the current workflow statistics.
func (t *Team) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statsLocked()
}

func (t *Team) statsLocked() Stats {
	entries := t.log.Entries()

	stats := Stats{
		TeamName:   t.cfg.Name,
		TaskCount:  len(t.tasks),
		AgentCount: len(t.agents),
		ModelUsage: make(map[string]llms.UsageStats),
	}

	var runStart, last time.Time
	for _, e := range entries {
		last = e.Timestamp

		if e.Type == worklog.WorkflowStatusUpdate && e.Status == string(status.WorkflowRunning) && runStart.IsZero() {
			runStart = e.Timestamp
		}
		if e.Type != worklog.AgentStatusUpdate {
			continue
		}

		switch e.Status {
		case string(status.AgentIterationEnd):
			stats.IterationCount++

		case string(status.AgentThinkingEnd):
			usage := llms.Usage{
				PromptTokens:     atoiMeta(e.Metadata, "inputTokens"),
				CompletionTokens: atoiMeta(e.Metadata, "outputTokens"),
			}
			latency := time.Duration(atoiMeta(e.Metadata, "latencyMs")) * time.Millisecond
			stats.LLMUsage.AddCall(usage, latency)

			model := e.Metadata["model"]
			perModel := stats.ModelUsage[model]
			perModel.AddCall(usage, latency)
			stats.ModelUsage[model] = perModel

		case string(status.AgentThinkingError):
			stats.LLMUsage.AddCallError(0)

		case string(status.AgentParsingIssues):
			stats.LLMUsage.AddParsingError()
		}
	}

	switch {
	case runStart.IsZero():
		stats.Duration = 0
	case t.status == status.WorkflowRunning:
		stats.Duration = time.Since(runStart)
	default:
		stats.Duration = last.Sub(runStart)
	}

	stats.Cost = cost.CalculateWorkflowCost(stats.ModelUsage, t.cfg.Pricing)
	return stats
}

func atoiMeta(metadata map[string]string, key string) int {
	if metadata == nil {
		return 0
	}
	n, err := strconv.Atoi(metadata[key])
	if err != nil {
		return 0
	}
	return n
}
