package main

import (
	"context"
	"fmt"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/jihwankim/rollstats/internal/report"
	"github.com/jihwankim/rollstats/internal/supervisor"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Args:  cobra.NoArgs,
	Short: "Roll seeds and report instruction-count statistics",
	Long: `bench wraps the generator with the instruction-counting wrapper
and reports the success rate and the average instruction count of
successful seeds, re-rolling any seed the wrapper produced no instructions:u line for.`,
	RunE: runBench,
}

func init() {
	registerRunFlags(benchCmd)
}

// registerRunFlags adds the generator/repo/revision/seeds/settings flags
// shared by bench, failures, tally, and suite.
func registerRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("generator", "", "path to the generator executable")
	cmd.Flags().String("repo-user", "", "upstream GitHub user/org owning the generator source tree")
	cmd.Flags().String("repo-repo", "", "generator source repository name")
	cmd.Flags().String("revision", "", "pinned generator revision (hex)")
	cmd.Flags().Uint16("seeds", 0, "number of seeds to roll (N)")
	cmd.Flags().String("settings", "", "path to a YAML settings document (default: empty recipe)")
	cmd.Flags().String("trigger-query", "", "PromQL instant-query expression that, once it crosses --trigger-threshold, drains the run early")
	cmd.Flags().String("trigger-threshold", "", "threshold expression for --trigger-query, e.g. \"> 0.9\"")
}

func readRunFlags(cmd *cobra.Command) (*cmdFlags, error) {
	f := &cmdFlags{}
	f.generatorPath, _ = cmd.Flags().GetString("generator")
	f.repoUser, _ = cmd.Flags().GetString("repo-user")
	f.repoRepo, _ = cmd.Flags().GetString("repo-repo")
	f.revision, _ = cmd.Flags().GetString("revision")
	f.seeds, _ = cmd.Flags().GetUint16("seeds")
	f.settingsPath, _ = cmd.Flags().GetString("settings")
	f.triggerQuery, _ = cmd.Flags().GetString("trigger-query")
	f.triggerThreshold, _ = cmd.Flags().GetString("trigger-threshold")
	if f.seeds == 0 {
		return nil, fmt.Errorf("--seeds is required and must be > 0")
	}
	return f, nil
}

func runBench(cmd *cobra.Command, args []string) error {
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

	acc := &report.BenchAccumulator{}
	ctx, stop := signal.NotifyContext(context.Background(), interruptSignals...)
	defer stop()

	trig, err := buildTrigger(ctx, cfg, flags)
	if err != nil {
		return err
	}

	summary, err := supervisor.Run(ctx, supervisor.Config{
		StatsRoot:     cfg.StatsRoot,
		NumSeeds:      flags.seeds,
		Bench:         true,
		RetryFailures: retryFailures,
		Recipe:        recipe,
		Metrics:       startMetrics(cfg, log),
		Trigger:       trig,
		StdinEOF:      watchStdin(),
	}, handles, acc, log)
	if err != nil {
		return err
	}

	fmt.Println(acc.Summary())
	for state, count := range summary.Counts {
		fmt.Printf("  %s: %d\n", state, count)
	}
	return nil
}
