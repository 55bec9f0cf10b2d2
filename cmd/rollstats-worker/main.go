// Command rollstats-worker hosts the server half of C4 (Remote Transport):
// a websocket daemon that accepts supervisor connections and drives one
// local engine per connection on its behalf.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/jihwankim/rollstats/internal/config"
	"github.com/jihwankim/rollstats/internal/engine"
	"github.com/jihwankim/rollstats/internal/reposcache"
	"github.com/jihwankim/rollstats/internal/telemetry"
	"github.com/jihwankim/rollstats/internal/transport"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:     "rollstats-worker",
	Short:   "Remote worker daemon for rollstats",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Args:  cobra.NoArgs,
	Short: "Listen for a supervisor connection and roll seeds on its behalf",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./rollstats-worker.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	serveCmd.Flags().String("repo-user", "", "upstream GitHub user/org owning the generator source tree")
	serveCmd.Flags().String("repo-repo", "", "generator source repository name")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = "rollstats-worker.yaml"
	}

	var cfg *config.DaemonConfig
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		fmt.Printf("config file not found, creating default configuration at: %s\n", path)
		cfg = config.DefaultDaemon()
		if err := cfg.Save(path); err != nil {
			return fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		var err error
		cfg, err = config.LoadDaemon(path)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}

	level := telemetry.Level(cfg.Telemetry.LogLevel)
	if verbose {
		level = telemetry.LevelDebug
	}
	log := telemetry.New(telemetry.Config{Level: level, Format: telemetry.Format(cfg.Telemetry.LogFormat), Output: os.Stdout})

	repoUser, _ := cmd.Flags().GetString("repo-user")
	repoRepo, _ := cmd.Flags().GetString("repo-repo")

	cache := reposcache.New("./rollstats-worker-cache")

	handler := &transport.Handler{
		Password: cfg.Password,
		Log:      log,
		NewEngine: func(hs transport.Handshake) (*engine.Engine, string, error) {
			log.Info("handshake received", "priority_users", hs.PriorityUsers, "setup", hs.Setup)
			eng := &engine.Engine{
				Worker: config.Worker{
					Name:        "remote",
					Kind:        config.KindLocal,
					BaseROMPath: hs.BaseROMPath,
					WSLDistro:   hs.WSLDistro,
					Cores:       cfg.Cores,
					Setup:       config.Setup(hs.Setup),
					Patch:       hs.Patch,
				},
				GeneratorPath:        cfg.GeneratorPath,
				RepoUser:             repoUser,
				RepoRepo:             repoRepo,
				RevisionHex:          hs.RandoRev,
				AvailableParallelism: runtime.GOMAXPROCS(0),
				Cache:                cache,
			}
			repoPath, err := eng.Prepare(context.Background())
			if err != nil {
				return nil, "", err
			}
			return eng, repoPath, nil
		},
	}

	log.Info("rollstats-worker listening", "addr", cfg.ListenAddr)
	return http.ListenAndServe(cfg.ListenAddr, handler)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
