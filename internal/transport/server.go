package transport

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jihwankim/rollstats/internal/engine"
	"github.com/jihwankim/rollstats/internal/roll"
	"github.com/jihwankim/rollstats/internal/telemetry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler is the server half of C4: it accepts one websocket connection
// per remote worker, authenticates it, and bridges engine.Event to
// ServerMessage frames and ClientMessage frames to engine.RollCmd. Ported
// from original_source/crate/ootrstats-worker-daemon/src/lib.rs.
type Handler struct {
	Password string
	Log      *telemetry.Logger

	// NewEngine builds a fresh engine for one accepted connection's
	// handshake (base ROM path, rando revision, setup variant are all
	// supplied by the client at handshake time, per §4.4).
	NewEngine func(h Handshake) (*engine.Engine, string, error)
}

// ServeHTTP upgrades the connection and runs the per-connection session to
// completion.
func (s *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(ReadTimeout))

	_, raw, err := ws.ReadMessage()
	if err != nil {
		return
	}
	msg, err := DecodeClientMessage(raw)
	if err != nil || msg.Kind != ClientHandshake {
		return
	}
	hs := msg.Handshake
	if subtle.ConstantTimeCompare([]byte(hs.Password), []byte(s.Password)) != 1 {
		return
	}

	eng, repoPath, err := s.NewEngine(*hs)
	if err != nil {
		s.writeError(ws, fmt.Errorf("prepare worker: %w", err))
		return
	}

	stopPing := make(chan struct{})
	go s.pingLoop(ws, stopPing)
	defer close(stopPing)

	in := make(chan engine.RollCmd, 256)
	out := make(chan engine.Event, 256)
	go func() {
		_ = eng.Run(r.Context(), repoPath, in, out)
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range out {
			if err := s.writeEvent(ws, ev); err != nil {
				return
			}
		}
	}()

	for {
		ws.SetReadDeadline(time.Now().Add(ReadTimeout))
		_, raw, err := ws.ReadMessage()
		if err != nil {
			close(in)
			<-done
			return
		}
		msg, err := DecodeClientMessage(raw)
		if err != nil {
			continue
		}
		switch msg.Kind {
		case ClientSupervisor:
			in <- engine.RollCmd{SeedIdx: msg.Roll.SeedIdx, Settings: roll.Settings(msg.Roll.Settings)}
		case ClientPing:
			// no-op: arming the read deadline above is the only effect needed.
		case ClientGoodbye:
			close(in)
			<-done
			return
		case ClientHandshake:
			// A second handshake on an established connection ends the session.
			close(in)
			<-done
			return
		}
	}
}

func (s *Handler) writeEvent(ws *websocket.Conn, ev engine.Event) error {
	var msg ServerMessage
	switch ev.Kind {
	case engine.EventInit:
		msg = ServerMessage{Kind: ServerInit, InitMsg: ev.InitMsg}
	case engine.EventReady:
		msg = ServerMessage{Kind: ServerReady, ReadyN: ev.ReadyN}
	case engine.EventSuccess:
		spoiler, err := readAndDelete(ev.SpoilerPath)
		if err != nil {
			return fmt.Errorf("read spoiler log: %w", err)
		}
		success := &SuccessPayload{
			SeedIdx:      ev.SeedIdx,
			Instructions: ev.Instructions,
			SpoilerLog:   spoiler,
		}
		if ev.PatchPath != "" {
			patch, err := readAndDelete(ev.PatchPath)
			if err != nil {
				return fmt.Errorf("read patch: %w", err)
			}
			success.Patch = patch
			success.PatchExt = filepath.Ext(ev.PatchPath)
		}
		msg = ServerMessage{Kind: ServerSuccess, Success: success}
	case engine.EventFailure:
		msg = ServerMessage{Kind: ServerFailure, Failure: &FailurePayload{
			SeedIdx:      ev.SeedIdx,
			Instructions: ev.Instructions,
			ErrorLog:     ev.ErrorLog,
		}}
	default:
		return fmt.Errorf("unknown engine event kind %d", ev.Kind)
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, data)
}

// readAndDelete loads path into memory and removes it, mirroring the
// original worker daemon's fs::read(&path).await?.into() followed by
// fs::remove_file(path): a remote worker has no filesystem shared with the
// supervisor, so an artifact marker's bytes must cross the wire rather than
// its path.
func readAndDelete(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := os.Remove(path); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Handler) writeError(ws *websocket.Conn, err error) {
	msg := ServerMessage{Kind: ServerError, Error: &ErrorPayload{
		Display: err.Error(),
		Debug:   fmt.Sprintf("%+v", err),
	}}
	data, encErr := msg.Encode()
	if encErr != nil {
		return
	}
	_ = ws.WriteMessage(websocket.TextMessage, data)
}

func (s *Handler) pingLoop(ws *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			msg := ServerMessage{Kind: ServerPing}
			data, err := msg.Encode()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
