package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kanba-ai/kanba/pkg/config"
	"github.com/kanba-ai/kanba/pkg/cost"
	"github.com/kanba-ai/kanba/pkg/logger"
	"github.com/kanba-ai/kanba/pkg/runtime"
	"github.com/kanba-ai/kanba/pkg/status"
	"github.com/kanba-ai/kanba/pkg/team"
)

// RunCmd runs a workflow to a terminal status and prints the deliverable.
type RunCmd struct {
	Input []string `short:"i" help:"Workflow inputs as key=value pairs, interpolated into task descriptions." placeholder:"KEY=VALUE"`
	Stats bool     `help:"Print run statistics after the result." default:"true" negatable:""`
}

func (c *RunCmd) Run(cli *CLI) error {
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

	inputs, err := parseInputs(c.Input)
	if err != nil {
		return err
	}

	rt, err := runtime.New(ctx, cfg, runtime.WithLogger(logger.GetLogger()))
	if err != nil {
		return err
	}
	defer rt.Close()

	result, err := rt.Run(ctx, inputs)
	if err != nil {
		return err
	}
	if result.Status != status.WorkflowFinished {
		return fmt.Errorf("workflow ended in status %s", result.Status)
	}

	fmt.Println(result.Result)
	if c.Stats {
		printStats(result)
	}
	return nil
}

func parseInputs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	inputs := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q, expected key=value", pair)
		}
		inputs[key] = value
	}
	return inputs, nil
}

func printStats(result *team.Result) {
	s := result.Stats
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "team:        %s\n", s.TeamName)
	fmt.Fprintf(os.Stderr, "duration:    %s\n", s.Duration.Round(time.Millisecond))
	fmt.Fprintf(os.Stderr, "tasks:       %d\n", s.TaskCount)
	fmt.Fprintf(os.Stderr, "iterations:  %d\n", s.IterationCount)
	fmt.Fprintf(os.Stderr, "llm calls:   %d (%d failed)\n", s.LLMUsage.CallsCount, s.LLMUsage.CallsErrorCount)
	fmt.Fprintf(os.Stderr, "tokens:      %d in / %d out\n", s.LLMUsage.InputTokens, s.LLMUsage.OutputTokens)
	fmt.Fprintf(os.Stderr, "cost:        %s\n", cost.FormatCost(s.Cost.TotalCost))
}
