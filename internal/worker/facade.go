// Package worker implements the Worker Facade (C5): a uniform handle the
// supervisor uses for both in-process and remote workers, multiplexing
// tagged events onto one supervisor-owned channel.
package worker

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jihwankim/rollstats/internal/config"
	"github.com/jihwankim/rollstats/internal/engine"
	"github.com/jihwankim/rollstats/internal/reposcache"
	"github.com/jihwankim/rollstats/internal/roll"
	"github.com/jihwankim/rollstats/internal/transport"
)

// Name identifies a configured worker.
type Name string

// EventKind tags an Event.
type EventKind int

const (
	EventInit EventKind = iota
	EventReady
	EventSuccess
	EventFailure
	// EventTaskDone marks the worker's task goroutine exiting; Err is set
	// when it exited abnormally (transport/protocol failure).
	EventTaskDone
)

// Event is one message multiplexed onto the supervisor's channel, tagged
// with the worker that produced it.
type Event struct {
	Worker Name
	Kind   EventKind

	InitMsg string
	ReadyN  uint8

	SeedIdx      uint16
	Instructions *uint64

	// SpoilerPath is set for local workers (a filesystem path); SpoilerBytes
	// is set for remote workers (inline bytes) — the ArtifactSource
	// path-vs-bytes union named in §9 Design Notes, resolved per worker
	// kind rather than as a shared type, since only one variant is ever
	// reachable from a given Handle implementation.
	SpoilerPath  string
	SpoilerBytes []byte
	PatchPath    string
	PatchExt     string
	Patch        []byte
	ErrorLog     []byte

	Err error
}

// Handle is the uniform supervisor-facing interface to one worker.
type Handle interface {
	Name() Name
	Connect(ctx context.Context) (<-chan Event, error)
	Roll(seedIdx uint16, settings roll.Settings) error
	// Stop begins graceful drain-shutdown: closing the in-process roll
	// channel for a LocalHandle, sending Goodbye for a RemoteHandle. The
	// caller keeps draining the Connect channel until it closes.
	Stop() error
}

// LocalHandle wraps a C3 Engine running in this process.
type LocalHandle struct {
	name Name
	eng  *engine.Engine
	in   chan engine.RollCmd
}

// NewLocal constructs a LocalHandle around eng.
func NewLocal(name Name, eng *engine.Engine) *LocalHandle {
	return &LocalHandle{name: name, eng: eng, in: make(chan engine.RollCmd, 256)}
}

func (h *LocalHandle) Name() Name { return h.name }

// Connect prepares the engine's repository cache and starts its roll loop,
// bridging engine.Event onto a tagged Event channel.
func (h *LocalHandle) Connect(ctx context.Context) (<-chan Event, error) {
	repoPath, err := h.eng.Prepare(ctx)
	if err != nil {
		return nil, fmt.Errorf("worker %s: %w", h.name, err)
	}

	out := make(chan engine.Event, 256)
	tagged := make(chan Event, 256)

	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for ev := range out {
			tagged <- bridgeEngineEvent(h.name, ev)
		}
	}()

	go func() {
		err := h.eng.Run(ctx, repoPath, h.in, out)
		<-forwarded
		tagged <- Event{Worker: h.name, Kind: EventTaskDone, Err: err}
		close(tagged)
	}()

	return tagged, nil
}

func (h *LocalHandle) Roll(seedIdx uint16, settings roll.Settings) error {
	h.in <- engine.RollCmd{SeedIdx: seedIdx, Settings: settings}
	return nil
}

// Stop signals the engine's roll loop to drain and exit.
func (h *LocalHandle) Stop() error {
	close(h.in)
	return nil
}

func bridgeEngineEvent(name Name, ev engine.Event) Event {
	out := Event{Worker: name, SeedIdx: ev.SeedIdx, Instructions: ev.Instructions, ErrorLog: ev.ErrorLog}
	switch ev.Kind {
	case engine.EventInit:
		out.Kind = EventInit
		out.InitMsg = ev.InitMsg
	case engine.EventReady:
		out.Kind = EventReady
		out.ReadyN = ev.ReadyN
	case engine.EventSuccess:
		out.Kind = EventSuccess
		out.SpoilerPath = ev.SpoilerPath
		out.PatchPath = ev.PatchPath
		if ev.PatchPath != "" {
			out.PatchExt = filepath.Ext(ev.PatchPath)
		}
	case engine.EventFailure:
		out.Kind = EventFailure
	}
	return out
}

// RemoteHandle wraps a C4 client connection to a worker daemon.
type RemoteHandle struct {
	name Name
	cfg  transport.ClientConfig
	conn *transport.Conn
}

// NewRemote constructs a RemoteHandle that will dial cfg.Hostname on
// Connect.
func NewRemote(name Name, cfg transport.ClientConfig) *RemoteHandle {
	return &RemoteHandle{name: name, cfg: cfg}
}

func (h *RemoteHandle) Name() Name { return h.name }

// Connect dials the worker daemon and starts a goroutine translating
// ServerMessage frames into tagged Events. A network-classified error
// (§4.4/§7) ends the stream with an EventTaskDone carrying that error,
// which the supervisor may use to decide whether to reconnect.
func (h *RemoteHandle) Connect(ctx context.Context) (<-chan Event, error) {
	conn, err := transport.Dial(ctx, h.cfg)
	if err != nil {
		return nil, err
	}
	h.conn = conn

	tagged := make(chan Event, 256)
	go func() {
		defer close(tagged)
		for {
			msg, err := conn.Recv()
			if err != nil {
				tagged <- Event{Worker: h.name, Kind: EventTaskDone, Err: err}
				return
			}
			ev, isTerminal := bridgeServerMessage(h.name, msg)
			tagged <- ev
			_ = isTerminal
		}
	}()

	return tagged, nil
}

func bridgeServerMessage(name Name, msg transport.ServerMessage) (Event, bool) {
	switch msg.Kind {
	case transport.ServerInit:
		return Event{Worker: name, Kind: EventInit, InitMsg: msg.InitMsg}, false
	case transport.ServerReady:
		return Event{Worker: name, Kind: EventReady, ReadyN: msg.ReadyN}, false
	case transport.ServerSuccess:
		return Event{
			Worker:       name,
			Kind:         EventSuccess,
			SeedIdx:      msg.Success.SeedIdx,
			Instructions: msg.Success.Instructions,
			SpoilerBytes: msg.Success.SpoilerLog,
			PatchExt:     msg.Success.PatchExt,
			Patch:        msg.Success.Patch,
		}, false
	case transport.ServerFailure:
		return Event{
			Worker:       name,
			Kind:         EventFailure,
			SeedIdx:      msg.Failure.SeedIdx,
			Instructions: msg.Failure.Instructions,
			ErrorLog:     msg.Failure.ErrorLog,
		}, false
	case transport.ServerError:
		return Event{Worker: name, Kind: EventTaskDone, Err: fmt.Errorf("%s", msg.Error.Display)}, true
	case transport.ServerPing:
		return Event{Worker: name, Kind: EventInit, InitMsg: ""}, false
	default:
		return Event{Worker: name, Kind: EventTaskDone, Err: fmt.Errorf("unknown server message %q", msg.Kind)}, true
	}
}

func (h *RemoteHandle) Roll(seedIdx uint16, settings roll.Settings) error {
	return h.conn.Send(transport.ClientMessage{Kind: transport.ClientSupervisor, Roll: &transport.RollRequest{
		SeedIdx:  seedIdx,
		Settings: map[string]interface{}(settings),
	}})
}

// Stop initiates graceful drain shutdown (§4.4): sends Goodbye and the
// caller should keep draining the Connect channel until it closes.
func (h *RemoteHandle) Stop() error {
	return h.conn.Goodbye()
}

// Close tears down the underlying connection immediately.
func (h *RemoteHandle) Close() error {
	return h.conn.Close()
}

// NewFromConfig builds the appropriate Handle for w.
func NewFromConfig(w config.Worker, cache *reposcache.Cache, generatorPath, repoUser, repoRepo, revisionHex string, availableParallelism int) (Handle, error) {
	switch w.Kind {
	case config.KindLocal:
		eng := &engine.Engine{
			Worker:               w,
			GeneratorPath:        generatorPath,
			RepoUser:             repoUser,
			RepoRepo:             repoRepo,
			RevisionHex:          revisionHex,
			AvailableParallelism: availableParallelism,
			Cache:                cache,
		}
		return NewLocal(Name(w.Name), eng), nil
	case config.KindRemote:
		return NewRemote(Name(w.Name), transport.ClientConfig{
			TLS:           w.TLS,
			Hostname:      w.Hostname,
			Password:      w.Password,
			BaseROMPath:   w.BaseROMPath,
			WSLDistro:     w.WSLDistro,
			RandoRev:      revisionHex,
			Setup:         string(w.Setup),
			PriorityUsers: w.PriorityUsers,
			Patch:         w.Patch,
		}), nil
	default:
		return nil, fmt.Errorf("worker %s: unknown kind %q", w.Name, w.Kind)
	}
}
