package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jihwankim/rollstats/internal/report"
	"github.com/jihwankim/rollstats/internal/roll"
	"github.com/jihwankim/rollstats/internal/supervisor"
)

var suiteCmd = &cobra.Command{
	Use:   "suite",
	Args:  cobra.NoArgs,
	Short: "Run the core sequentially over a fixed tuple of preset recipes",
	Long: `suite chains a small built-in list of named recipes through the
supervisor loop, one after another, printing one summary per recipe plus
a final combined summary. Grounded in main.rs's suite mode, which chains
the default, tournament, mw, and hell presets followed by an rsl-variant
run.`,
	RunE: runSuite,
}

// presets mirrors the five runs main.rs's suite mode chains. This port has
// no retrieved source for the presets' actual settings documents, so each
// preset here resolves to the empty recipe (worker defaults apply);
// what's preserved is the chaining structure and the per-preset output
// directory, not preset-specific settings content.
var presets = []string{"default", "tournament", "mw", "hell", "rsl"}

func init() {
	registerRunFlags(suiteCmd)
}

func runSuite(cmd *cobra.Command, args []string) error {
	flags, err := readRunFlags(cmd)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), interruptSignals...)
	defer stop()

	m := startMetrics(cfg, log)
	trig, err := buildTrigger(ctx, cfg, flags)
	if err != nil {
		return err
	}
	stdinEOF := watchStdin()

	root := cfg.StatsRoot
	var combined report.NoneAccumulator
	for _, preset := range presets {
		cfg.StatsRoot = filepath.Join(root, preset)

		handles, err := buildHandles(root, cfg, flags)
		if err != nil {
			return fmt.Errorf("preset %s: %w", preset, err)
		}

		acc := &report.NoneAccumulator{}
		summary, err := supervisor.Run(ctx, supervisor.Config{
			StatsRoot:     cfg.StatsRoot,
			NumSeeds:      flags.seeds,
			Bench:         benchFlag,
			RetryFailures: retryFailures,
			Recipe:        roll.Settings{},
			Metrics:       m,
			Trigger:       trig,
			StdinEOF:      stdinEOF,
		}, handles, acc, log)
		if err != nil {
			return fmt.Errorf("preset %s: %w", preset, err)
		}

		combined.Successes += acc.Successes
		combined.Failures += acc.Failures
		fmt.Printf("%s: %s\n", preset, acc.Summary())
		for state, count := range summary.Counts {
			fmt.Printf("  %s: %d\n", state, count)
		}
	}

	fmt.Printf("combined: %s\n", combined.Summary())
	return nil
}
