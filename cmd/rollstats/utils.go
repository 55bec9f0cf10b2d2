package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jihwankim/rollstats/internal/config"
	"github.com/jihwankim/rollstats/internal/metrics"
	"github.com/jihwankim/rollstats/internal/reposcache"
	"github.com/jihwankim/rollstats/internal/roll"
	"github.com/jihwankim/rollstats/internal/telemetry"
	"github.com/jihwankim/rollstats/internal/trigger"
	"github.com/jihwankim/rollstats/internal/worker"
)

// loadConfig loads the configuration from file, auto-generating if needed.
func loadConfig() (*config.Config, error) {
	configPath := cfgFile
	if configPath == "" {
		configPath = "rollstats.yaml"
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Printf("config file not found, creating default configuration at: %s\n", configPath)
		fmt.Println("edit this file to list your worker fleet before rolling seeds")

		cfg := config.Default()
		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the telemetry.Logger for a CLI run, honoring the
// persistent --verbose flag over the config file's own level.
func newLogger(cfg *config.Config) *telemetry.Logger {
	level := telemetry.Level(cfg.Telemetry.LogLevel)
	if verbose {
		level = telemetry.LevelDebug
	}
	format := telemetry.Format(cfg.Telemetry.LogFormat)
	return telemetry.New(telemetry.Config{Level: level, Format: format, Output: os.Stdout})
}

// resolveSettings builds the roll.Settings recipe for one invocation from
// a literal YAML settings document (--settings), or the empty recipe when
// none is given. Drafting a recipe from a draft spec (C9) is exercised by
// internal/draft's own tests rather than this CLI: SPEC_FULL.md's external
// interfaces name only bench/failures/tally/suite, with no draft
// subcommand, so wiring a human-authored draft-spec file format here would
// invent a CLI surface the spec never asked for.
func resolveSettings(cmd *cmdFlags) (roll.Settings, error) {
	if cmd.settingsPath != "" {
		data, err := os.ReadFile(cmd.settingsPath)
		if err != nil {
			return nil, fmt.Errorf("read settings file: %w", err)
		}
		var settings roll.Settings
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return nil, fmt.Errorf("parse settings file: %w", err)
		}
		return settings, nil
	}

	return roll.Settings{}, nil
}

// cmdFlags is the shared flag surface of bench/failures/tally (suite
// resolves its own recipes per preset instead).
type cmdFlags struct {
	generatorPath    string
	repoUser         string
	repoRepo         string
	revision         string
	seeds            uint16
	settingsPath     string
	triggerQuery     string
	triggerThreshold string
}

// buildTrigger returns nil when no --trigger-query was given (the common
// case). Otherwise it builds a trigger.Watcher against cfg.Prometheus
// and starts polling it every 15s, returning the channel supervisor.Run
// selects on to drain early — e.g. "abort once host load average
// exceeds N" during an unattended overnight bench run.
func buildTrigger(ctx context.Context, cfg *config.Config, cmd *cmdFlags) (<-chan struct{}, error) {
	if cmd.triggerQuery == "" {
		return nil, nil
	}
	w, err := trigger.New(cfg.Prometheus, cmd.triggerQuery, cmd.triggerThreshold)
	if err != nil {
		return nil, fmt.Errorf("build trigger: %w", err)
	}
	return w.Watch(ctx, 15*time.Second), nil
}

// startMetrics returns nil when cfg.Telemetry.MetricsAddr is unset (the
// common case). Otherwise it registers rollstats' metric families,
// serves them on that address in the background, and returns the
// Metrics for the caller to thread into supervisor.Config. The listener
// runs for the lifetime of the process; its error, if any, is only
// logged, since a metrics-endpoint failure should never abort a roll.
func startMetrics(cfg *config.Config, log *telemetry.Logger) *metrics.Metrics {
	if cfg.Telemetry.MetricsAddr == "" {
		return nil
	}
	m := metrics.New()
	srv := &http.Server{Addr: cfg.Telemetry.MetricsAddr, Handler: m.Handler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server exited", "addr", cfg.Telemetry.MetricsAddr, "error", err)
		}
	}()
	log.Info("metrics endpoint listening", "addr", cfg.Telemetry.MetricsAddr)
	return m
}

// watchStdin returns a channel that closes once stdin reaches EOF (an
// operator's Ctrl-D), for supervisor.Config.StdinEOF. It discards whatever
// stdin produces before EOF; rollstats has no interactive stdin protocol of
// its own.
func watchStdin() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		io.Copy(io.Discard, os.Stdin)
	}()
	return done
}

// buildHandles constructs one worker.Handle per configured fleet entry.
// cacheRoot is kept separate from cfg.StatsRoot so callers that vary the
// stats root across runs (e.g. suite, one subdirectory per preset) still
// share a single repository cache.
func buildHandles(cacheRoot string, cfg *config.Config, cmd *cmdFlags) ([]worker.Handle, error) {
	cache := reposcache.New(cacheRoot + "/.repo-cache")
	handles := make([]worker.Handle, 0, len(cfg.Workers))
	for _, w := range cfg.Workers {
		w.Patch = patchFlag
		h, err := worker.NewFromConfig(w, cache, cmd.generatorPath, cmd.repoUser, cmd.repoRepo, cmd.revision, runtime.GOMAXPROCS(0))
		if err != nil {
			return nil, fmt.Errorf("build worker %s: %w", w.Name, err)
		}
		handles = append(handles, h)
	}
	return handles, nil
}
