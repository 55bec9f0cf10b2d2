package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
)

// interruptSignals is the set of signals that begin a graceful drain
// shutdown of the supervisor loop, mirroring the teacher's
// signal.NotifyContext idiom in fuzz.go.
var interruptSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

var (
	// Global flags
	cfgFile       string
	verbose       bool
	retryFailures bool
	benchFlag     bool
	patchFlag     bool
	version       = "dev" // Will be set by build flags
)

var rootCmd = &cobra.Command{
	Use:   "rollstats",
	Short: "Distributed seed-rolling benchmark harness",
	Long: `rollstats supervises a fleet of local and remote workers rolling
OoT Randomizer seeds in parallel, resuming from whatever is already on
disk and reporting benchmark, failure, or domain-tally summaries.`,
	Version:           version,
	PersistentPreRunE: checkPatchBenchPrecondition,
}

// checkPatchBenchPrecondition enforces the precondition that
// patch-generation and bench mode are mutually exclusive (§9 Design
// Notes): checked once here rather than deep inside the supervisor loop.
func checkPatchBenchPrecondition(cmd *cobra.Command, args []string) error {
	if patchFlag && (benchFlag || cmd.Name() == "bench") {
		return fmt.Errorf("--patch and --bench are mutually exclusive")
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./rollstats.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&retryFailures, "retry-failures", false, "re-enqueue previously failed seeds instead of leaving them terminal")
	rootCmd.PersistentFlags().BoolVar(&benchFlag, "bench", false, "wrap the generator with the instruction-counting wrapper and require an instructions line per seed")
	rootCmd.PersistentFlags().BoolVar(&patchFlag, "patch", false, "request a distribution patch file from workers instead of a spoiler-only roll")

	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(failuresCmd)
	rootCmd.AddCommand(tallyCmd)
	rootCmd.AddCommand(suiteCmd)
}

// Commands are defined in separate files:
// - benchCmd in bench.go
// - failuresCmd in failures.go
// - tallyCmd in tally.go
// - suiteCmd in suite.go

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
