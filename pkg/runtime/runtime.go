// Package runtime assembles a validated configuration into a runnable
// team: LLM providers, agents, tasks, persistence, and the metrics
// pipeline.
package runtime

import (
	"context"
	"fmt"
	"log/slog"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kanba-ai/kanba/pkg/agent"
	"github.com/kanba-ai/kanba/pkg/config"
	"github.com/kanba-ai/kanba/pkg/llms"
	"github.com/kanba-ai/kanba/pkg/metrics"
	"github.com/kanba-ai/kanba/pkg/observability"
	"github.com/kanba-ai/kanba/pkg/status"
	"github.com/kanba-ai/kanba/pkg/store"
	"github.com/kanba-ai/kanba/pkg/task"
	"github.com/kanba-ai/kanba/pkg/team"
	"github.com/kanba-ai/kanba/pkg/tools"
	"github.com/kanba-ai/kanba/pkg/worklog"
)

// Runtime owns everything a workflow run needs and tears it down in order.
type Runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	providers *llms.Registry
	collector *metrics.Collector
	meters    *sdkmetric.MeterProvider
	store     worklog.Store
	team      *team.Team
}

// Option customizes runtime assembly.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	toolset *tools.Registry
	sink    metrics.Sink
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTools makes the given tool registry available to every agent.
func WithTools(toolset *tools.Registry) Option {
	return func(o *options) { o.toolset = toolset }
}

// WithMetricsSink overrides the OpenTelemetry sink, mainly for tests.
func WithMetricsSink(sink metrics.Sink) Option {
	return func(o *options) { o.sink = sink }
}

// New builds a runtime from a config that has already passed Validate.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	rt := &Runtime{cfg: cfg, logger: o.logger, providers: llms.NewRegistry()}

	for name, llmCfg := range cfg.LLMs {
		if _, err := rt.providers.RegisterFromConfig(name, llmCfg); err != nil {
			rt.Close()
			return nil, fmt.Errorf("llm '%s': %w", name, err)
		}
	}

	agents := make([]*agent.Agent, 0, len(cfg.Agents))
	for _, ac := range cfg.Agents {
		provider, ok := rt.providers.Get(ac.LLM)
		if !ok {
			rt.Close()
			return nil, fmt.Errorf("agent '%s' references unknown llm '%s'", ac.Name, ac.LLM)
		}
		a, err := agent.New(ac.Config, provider, o.toolset)
		if err != nil {
			rt.Close()
			return nil, err
		}
		agents = append(agents, a)
	}

	tasks := make([]*task.Task, 0, len(cfg.Tasks))
	for _, tc := range cfg.Tasks {
		taskOpts := []task.Option{
			task.WithExpectedOutput(tc.ExpectedOutput),
			task.WithDependsOn(tc.DependsOn...),
		}
		if tc.ID != "" {
			taskOpts = append(taskOpts, task.WithID(tc.ID))
		}
		if tc.Deliverable {
			taskOpts = append(taskOpts, task.WithDeliverable())
		}
		if tc.ExternalValidation {
			taskOpts = append(taskOpts, task.WithExternalValidation())
		}
		tasks = append(tasks, task.New(tc.Description, tc.Agent, taskOpts...))
	}

	sink := o.sink
	if sink == nil {
		otelMetrics, meters, err := observability.Init(ctx)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("init metrics: %w", err)
		}
		rt.meters = meters
		sink = observability.NewSink(otelMetrics)
	}

	collector, err := metrics.NewCollector(metrics.CollectorConfig{
		Capacity:      cfg.Metrics.Capacity,
		BatchSize:     cfg.Metrics.BatchSize,
		FlushInterval: cfg.Metrics.FlushInterval,
		Sink:          sink,
		Logger:        o.logger,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.collector = collector

	if cfg.Store.Dialect != "" {
		sqlStore, err := store.Open(cfg.Store.Dialect, cfg.Store.DSN)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("open store: %w", err)
		}
		rt.store = sqlStore
	}

	tm, err := team.New(team.Config{
		Name:          cfg.Team.Name,
		Agents:        agents,
		Tasks:         tasks,
		StatusManager: status.NewManager(o.logger),
		Collector:     collector,
		Store:         rt.store,
		Logger:        o.logger,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.team = tm
	return rt, nil
}

// Team returns the assembled team.
func (r *Runtime) Team() *team.Team { return r.team }

// Collector returns the metrics collector.
func (r *Runtime) Collector() *metrics.Collector { return r.collector }

// Run starts the metrics pipeline, runs the workflow to a terminal status
// and flushes what remains.
func (r *Runtime) Run(ctx context.Context, inputs map[string]string) (*team.Result, error) {
	r.collector.Start(ctx)
	defer r.collector.Stop()
	return r.team.Start(ctx, inputs)
}

// Close releases the runtime's resources. Safe to call on a partially
// built runtime.
func (r *Runtime) Close() error {
	var firstErr error
	if r.collector != nil {
		r.collector.Stop()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			firstErr = err
		}
	}
	if r.meters != nil {
		if err := r.meters.Shutdown(context.Background()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
