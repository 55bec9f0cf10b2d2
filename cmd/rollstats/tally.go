package main

import (
	"context"
	"fmt"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/jihwankim/rollstats/internal/report"
	"github.com/jihwankim/rollstats/internal/supervisor"
)

var tallyCmd = &cobra.Command{
	Use:   "tally",
	Args:  cobra.NoArgs,
	Short: "Roll seeds and tally a field across successful spoilers",
	Long: `tally groups successful seeds by a field extracted from their
spoiler log (e.g. an item-placement pattern count) and prints a
histogram of how often each distinct value occurred.`,
	RunE: runTally,
}

func init() {
	registerRunFlags(tallyCmd)
	tallyCmd.Flags().String("field", "", "spoiler field to tally")
}

func runTally(cmd *cobra.Command, args []string) error {
	flags, err := readRunFlags(cmd)
	if err != nil {
		return err
	}
	field, _ := cmd.Flags().GetString("field")
	if field == "" {
		return fmt.Errorf("--field is required")
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

	acc := &report.TallyAccumulator{Field: field}
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
