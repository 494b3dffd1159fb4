package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/nooga/arrayify/pkg/harness"
	"github.com/nooga/arrayify/pkg/metrics"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Stats      bool
	MetricsOut string
	LoopCount  int
	Parallel   int
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name        string   `json:"name"`
	Pass        bool     `json:"pass"`
	Steps       int      `json:"steps"`
	Transitions uint64   `json:"transitions"`
	SlotsCopied uint64   `json:"slots_copied"`
	Errors      []string `json:"errors,omitempty"`
}

// RunResult holds the overall result.
type RunResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>...",
		Short: "Replay scenarios",
		Long: `Replay one or more YAML scenarios, each in a fresh realm, and check
their expectations.

Exit codes:
  0  - all scenarios passed
  64 - usage error (bad flags, unreadable or invalid scenario)
  70 - one or more scenarios failed

Examples:
  arrayify run testdata/scenarios/*.yaml
  arrayify run --stats --metrics-out arrayify.prom slow_put.yaml
  arrayify run --format json --parallel 8 scenarios/*.yaml`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd, opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.Stats, "stats", false, "print transition statistics per scenario")
	cmd.Flags().StringVar(&opts.MetricsOut, "metrics-out", "", "write Prometheus metrics to this file")
	cmd.Flags().IntVar(&opts.LoopCount, "loop-count", 0, "repetitions of repeat_loop steps (overrides config)")
	cmd.Flags().IntVar(&opts.Parallel, "parallel", 0, "scenarios run concurrently (overrides config)")

	return cmd
}

func runScenarios(cmd *cobra.Command, opts *RunOptions, paths []string) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return WrapExitError(ExitUsage, "failed to load config", err)
	}
	if opts.LoopCount > 0 {
		cfg.Harness.LoopCount = opts.LoopCount
	}
	if opts.Parallel > 0 {
		cfg.Harness.Parallel = opts.Parallel
	}
	logger := opts.logger(cfg, cmd.ErrOrStderr())

	scenarios := make([]*harness.Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := harness.LoadScenario(p)
		if err != nil {
			return WrapExitError(ExitUsage, fmt.Sprintf("failed to load %s", p), err)
		}
		scenarios = append(scenarios, s)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	runOpts := harness.DefaultOptions(cfg)
	runOpts.Logger = logger
	runOpts.Observer = metrics.NewRecorder(reg)

	logger.Info("running scenarios", "count", len(scenarios), "parallel", cfg.Harness.Parallel, "loop_count", cfg.Harness.LoopCount)
	results, err := harness.RunAll(ctx, scenarios, runOpts, cfg.Harness.Parallel)
	if err != nil {
		return WrapExitError(ExitFailure, "scenario execution failed", err)
	}

	if opts.MetricsOut != "" {
		if err := prometheus.WriteToTextfile(opts.MetricsOut, reg); err != nil {
			return WrapExitError(ExitFailure, "failed to write metrics", err)
		}
		logger.Info("metrics written", "path", opts.MetricsOut)
	}

	summary := summarize(scenarios, results)
	out := NewOutputFormatter(opts.Format, cmd.OutOrStdout())
	if out.JSON() {
		if err := out.Encode(summary); err != nil {
			return WrapExitError(ExitFailure, "failed to encode output", err)
		}
	} else {
		printSummary(out, summary, results, opts.Stats)
	}

	if summary.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario(s) failed", summary.Failed, summary.Total))
	}
	return nil
}

func summarize(scenarios []*harness.Scenario, results []*harness.Result) RunResult {
	summary := RunResult{Scenarios: make([]ScenarioResult, 0, len(results)), Total: len(results)}
	for i, res := range results {
		summary.Scenarios = append(summary.Scenarios, ScenarioResult{
			Name:        res.Name,
			Pass:        res.Pass,
			Steps:       len(scenarios[i].Steps),
			Transitions: res.Stats.Transitions(),
			SlotsCopied: res.Stats.SlotsCopied,
			Errors:      res.Errors,
		})
		if res.Pass {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}
	return summary
}

func printSummary(out *OutputFormatter, summary RunResult, results []*harness.Result, stats bool) {
	for i, s := range summary.Scenarios {
		status := "PASS"
		if !s.Pass {
			status = "FAIL"
		}
		out.Printf("%s %s (%d steps)\n", status, s.Name, s.Steps)
		for _, e := range s.Errors {
			out.Printf("    %s\n", e)
		}
		if stats {
			st := results[i].Stats
			out.Printf("    transitions: %d, slots copied: %d, no-ops: %d, buffers: %d allocated / %d rejected\n",
				st.Transitions(), st.SlotsCopied, st.Noops, st.BuffersAllocated, st.BuffersRejected)
		}
	}
	out.Printf("%d passed, %d failed, %d total\n", summary.Passed, summary.Failed, summary.Total)
}
