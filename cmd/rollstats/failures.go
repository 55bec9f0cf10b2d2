package main

import (
	"context"
	"fmt"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/jihwankim/rollstats/internal/report"
	"github.com/jihwankim/rollstats/internal/supervisor"
)

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Args:  cobra.NoArgs,
	Short: "Roll seeds and report the most common failure groups",
	Long: `failures groups failed seeds by their error log's last two lines
and prints the most common groups with counts and one example seed index
each.`,
	RunE: runFailures,
}

func init() {
	registerRunFlags(failuresCmd)
}

func runFailures(cmd *cobra.Command, args []string) error {
	flags, err := readRunFlags(cmd)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	recipe, err := resolveSettings(flags)
	if err != nil {
		return err
	}

	handles, err := buildHandles(cfg.StatsRoot, cfg, flags)
	if err != nil {
		return err
	}

	acc := &report.FailuresAccumulator{}
	ctx, stop := signal.NotifyContext(context.Background(), interruptSignals...)
	defer stop()

	trig, err := buildTrigger(ctx, cfg, flags)
	if err != nil {
		return err
	}

	if _, err := supervisor.Run(ctx, supervisor.Config{
		StatsRoot:     cfg.StatsRoot,
		NumSeeds:      flags.seeds,
		Bench:         benchFlag,
		RetryFailures: retryFailures,
		Recipe:        recipe,
		Metrics:       startMetrics(cfg, log),
		Trigger:       trig,
		StdinEOF:      watchStdin(),
	}, handles, acc, log); err != nil {
		return err
	}

	fmt.Print(acc.Summary())
	return nil
}
