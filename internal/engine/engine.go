// Package engine implements the Worker Engine (C3): per-worker lifecycle
// (prepare -> ready -> roll loop), capacity accounting, and emission of
// Ready/Success/Failure events. EventInit is part of the event set but the
// engine never emits it. Ported from the two-phase
// serialize-first-roll-then-scale pattern in
// original_source/crate/ootrstats/src/worker.rs.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/jihwankim/rollstats/internal/config"
	"github.com/jihwankim/rollstats/internal/reposcache"
	"github.com/jihwankim/rollstats/internal/roll"
)

// State is the engine's lifecycle stage, per the §4.3 state diagram:
// Start -> Preparing -> ReadyOne -> Running1 -> Scaling -> SteadyState <-> Rolling.
type State int

const (
	StateStart State = iota
	StatePreparing
	StateReadyOne
	StateRunning1
	StateScaling
	StateSteadyState
	StateRolling
)

// EventKind tags an Event emitted by the engine.
type EventKind int

const (
	EventInit EventKind = iota
	EventReady
	EventSuccess
	EventFailure
)

// Event is one message emitted by a running engine.
type Event struct {
	Kind EventKind

	InitMsg string
	ReadyN  uint8

	SeedIdx      uint16
	Instructions *uint64
	SpoilerPath  string
	PatchPath    string
	ErrorLog     []byte
}

// RollCmd dispatches one seed to a running engine.
type RollCmd struct {
	SeedIdx  uint16
	Settings roll.Settings
}

// Engine drives one worker's local generator invocations.
type Engine struct {
	Worker config.Worker

	GeneratorPath        string
	RepoUser, RepoRepo   string
	RevisionHex          string
	AvailableParallelism int

	Cache *reposcache.Cache

	mu    sync.Mutex
	state State
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Prepare ensures the repository cache is populated for this engine's
// pinned revision and, for the RSL setup variant, stages the base ROM.
func (e *Engine) Prepare(ctx context.Context) (string, error) {
	e.setState(StatePreparing)
	repoPath, err := e.Cache.Ensure(ctx, e.RepoUser, e.RepoRepo, e.RevisionHex)
	if err != nil {
		return "", fmt.Errorf("prepare: %w", err)
	}
	if e.Worker.Setup == config.SetupRSL {
		if err := reposcache.StageBaseROM(repoPath, e.Worker.BaseROMPath, "base.z64"); err != nil {
			return "", fmt.Errorf("prepare: stage base rom: %w", err)
		}
	}
	return repoPath, nil
}

// Run drives the roll loop: it reads RollCmd from in and emits Event to
// out until in is closed, then closes out and returns. The first roll is
// serialized (Ready(1)) because repository preparation and ROM staging are
// not reentrant; after it completes, capacity scales to
// config.InterpretCores(Worker.Cores, AvailableParallelism), and each
// subsequent completion emits one more Ready(1). Every RollCmd accepted
// after the first is dispatched to its own goroutine, mirroring the
// FuturesUnordered-driven concurrent dispatch in
// original_source/crate/ootrstats/src/worker.rs: a worker granted
// Ready(cores) is expected to have up to cores rolls in flight at once,
// not one at a time.
func (e *Engine) Run(ctx context.Context, repoPath string, in <-chan RollCmd, out chan<- Event) error {
	e.setState(StateReadyOne)
	out <- Event{Kind: EventReady, ReadyN: 1}

	var wg sync.WaitGroup
	first := true
	for cmd := range in {
		isFirst := first
		first = false
		wg.Add(1)
		go e.rollOne(ctx, repoPath, cmd, isFirst, out, &wg)
	}
	wg.Wait()
	close(out)

	return nil
}

// rollOne executes a single RollCmd and emits its Success/Failure event
// followed by the Ready credit it earns: Ready(cores) after the first
// roll (the scale-up point), Ready(1) after every roll thereafter.
func (e *Engine) rollOne(ctx context.Context, repoPath string, cmd RollCmd, isFirst bool, out chan<- Event, wg *sync.WaitGroup) {
	defer wg.Done()

	if isFirst {
		e.setState(StateRunning1)
	} else {
		e.setState(StateRolling)
	}

	req := roll.Request{
		GeneratorPath: e.GeneratorPath,
		RepoPath:      repoPath,
		Settings:      cmd.Settings,
		Benchmark:     e.Worker.Bench,
		Patch:         e.Worker.Patch,
		WSLDistro:     e.Worker.WSLDistro,
		SeedIdx:       cmd.SeedIdx,
	}
	if e.Worker.RunMode == config.RunModeDocker {
		req.DockerImage = e.Worker.DockerImage
	}

	out_, err := roll.Run(ctx, req)
	if err != nil {
		ev := Event{Kind: EventFailure, SeedIdx: cmd.SeedIdx}
		if fe, ok := err.(*roll.FailureError); ok {
			ev.ErrorLog = fe.Stderr
		} else {
			ev.ErrorLog = []byte(err.Error())
		}
		out <- ev
	} else {
		out <- Event{
			Kind:         EventSuccess,
			SeedIdx:      cmd.SeedIdx,
			SpoilerPath:  out_.SpoilerLogPath,
			PatchPath:    out_.PatchPath,
			Instructions: out_.Instructions,
		}
	}

	if isFirst {
		e.setState(StateScaling)
		cores := config.InterpretCores(e.Worker.Cores, e.AvailableParallelism)
		out <- Event{Kind: EventReady, ReadyN: uint8(cores)}
		e.setState(StateSteadyState)
	} else {
		e.setState(StateSteadyState)
		out <- Event{Kind: EventReady, ReadyN: 1}
	}
}

// CurrentState returns the engine's lifecycle stage, for logging/tests.
func (e *Engine) CurrentState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}
