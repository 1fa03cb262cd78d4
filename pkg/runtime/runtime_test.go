package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanba-ai/kanba/pkg/config"
	"github.com/kanba-ai/kanba/pkg/metrics"
	"github.com/kanba-ai/kanba/pkg/status"
)

// fakeOllama answers every chat request with a canned final answer.
func fakeOllama(t *testing.T, answer string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		resp := map[string]any{
			"message":           map[string]string{"role": "assistant", "content": answer},
			"prompt_eval_count": 12,
			"eval_count":        7,
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, host string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
team:
  name: pipeline
llms:
  local:
    provider: ollama
    host: ` + host + `
agents:
  - name: writer
    role: Writer
tasks:
  - id: haiku
    description: Write a haiku about rivers
    agent: writer
    deliverable: true
`))
	require.NoError(t, err)
	return cfg
}

func TestRuntimeRunsWorkflow(t *testing.T) {
	llm := fakeOllama(t, `{"finalAnswer": "water finds its way"}`)
	sink := metrics.NewMemorySink()

	rt, err := New(context.Background(), testConfig(t, llm.URL), WithMetricsSink(sink))
	require.NoError(t, err)
	defer rt.Close()

	result, err := rt.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, status.WorkflowFinished, result.Status)
	assert.Equal(t, "water finds its way", result.Result)

	// The closing flush has delivered the run's events to the sink.
	assert.Positive(t, sink.Len())
}

func TestRuntimeWithSQLiteStore(t *testing.T) {
	llm := fakeOllama(t, `{"finalAnswer": "done"}`)
	cfg := testConfig(t, llm.URL)
	cfg.Store.Dialect = "sqlite"
	cfg.Store.DSN = filepath.Join(t.TempDir(), "worklog.db")

	rt, err := New(context.Background(), cfg, WithMetricsSink(metrics.NewMemorySink()))
	require.NoError(t, err)
	defer rt.Close()

	result, err := rt.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, status.WorkflowFinished, result.Status)

	persisted, err := rt.store.List(context.Background(), rt.Team().ID())
	require.NoError(t, err)
	assert.Len(t, persisted, len(rt.Team().Log().Entries()))
}

func TestRuntimeUnknownLLMReference(t *testing.T) {
	cfg := testConfig(t, "http://localhost:11434")
	cfg.Agents[0].LLM = "missing"

	_, err := New(context.Background(), cfg, WithMetricsSink(metrics.NewMemorySink()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}
