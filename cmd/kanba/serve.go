package main

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kanba-ai/kanba/pkg/config"
	"github.com/kanba-ai/kanba/pkg/logger"
	"github.com/kanba-ai/kanba/pkg/runtime"
	"github.com/kanba-ai/kanba/pkg/server"
)

// ServeCmd runs the workflow alongside the HTTP API, so task state can be
// observed and validation gates resolved while the run is in flight.
type ServeCmd struct {
	Input []string `short:"i" help:"Workflow inputs as key=value pairs." placeholder:"KEY=VALUE"`
	Host  string   `help:"Host to bind, overrides the config."`
	Port  int      `help:"Port to listen on, overrides the config."`
	Watch bool     `help:"Watch the config file and report changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	path, err := requireConfig(cli)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	inputs, err := parseInputs(c.Input)
	if err != nil {
		return err
	}

	log := logger.GetLogger()
	rt, err := runtime.New(ctx, cfg, runtime.WithLogger(log))
	if err != nil {
		return err
	}
	defer rt.Close()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := server.New(rt.Team(), addr, log)

	if c.Watch {
		go func() {
			err := config.Watch(ctx, path, log, func(updated *config.Config) {
				// A running team cannot be rewired; flag the change.
				log.Info("configuration changed, restart to apply", "path", path)
			})
			if err != nil && ctx.Err() == nil {
				log.Error("config watch failed", "error", err)
			}
		}()
	}

	fmt.Printf("kanba server ready\n")
	fmt.Printf("  state:    http://%s/api/state\n", addr)
	fmt.Printf("  events:   http://%s/api/events\n", addr)
	fmt.Printf("  metrics:  http://%s/metrics\n", addr)
	fmt.Println("\nPress Ctrl+C to stop")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	g.Go(func() error {
		result, err := rt.Run(gctx, inputs)
		if err != nil {
			return err
		}
		log.Info("workflow finished", "status", result.Status)
		printStats(result)
		return nil
	})
	return g.Wait()
}
