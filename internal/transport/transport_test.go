package transport_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/jihwankim/rollstats/internal/config"
	"github.com/jihwankim/rollstats/internal/engine"
	"github.com/jihwankim/rollstats/internal/reposcache"
	"github.com/jihwankim/rollstats/internal/telemetry"
	"github.com/jihwankim/rollstats/internal/transport"
)

// fakeSpoilerContent is the byte content the fake generator writes to its
// spoiler log, asserted against what arrives over the wire.
var fakeSpoilerContent = []byte(`{"seed": "fake"}`)

func writeFakeGenerator(t *testing.T, dir string) (genPath, spoilerPath string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake generator script is POSIX shell only")
	}
	spoilerPath = filepath.Join(dir, "s.json")
	if err := os.WriteFile(spoilerPath, fakeSpoilerContent, 0644); err != nil {
		t.Fatal(err)
	}
	genPath = filepath.Join(dir, "fake-generator.sh")
	script := "#!/bin/sh\ncat >/dev/null\necho 'Created spoiler log at: " + spoilerPath + "' >&2\nexit 0\n"
	if err := os.WriteFile(genPath, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return genPath, spoilerPath
}

// TestHandshakeAndOneRoll dials a real (httptest-backed) worker daemon,
// authenticates, sends one RollRequest, and reads Ready/Success frames
// back over the wire — exercising the full client<->server framing and
// handshake rather than just marshal/unmarshal of individual types.
func TestHandshakeAndOneRoll(t *testing.T) {
	dir := t.TempDir()
	gen, _ := writeFakeGenerator(t, dir)

	handler := &transport.Handler{
		Password: "correct horse",
		Log:      telemetry.Nop(),
		NewEngine: func(h transport.Handshake) (*engine.Engine, string, error) {
			if h.Password != "correct horse" {
				t.Fatal("handler invoked with unauthenticated handshake")
			}
			e := &engine.Engine{
				Worker:               config.Worker{Cores: 1},
				GeneratorPath:        gen,
				AvailableParallelism: 1,
				Cache:                reposcache.New(t.TempDir()),
			}
			return e, dir, nil
		},
	}

	srv := httptest.NewServer(handler)
	defer srv.Close()

	hostname := strings.TrimPrefix(srv.URL, "http://")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := transport.Dial(ctx, transport.ClientConfig{
		Hostname: hostname,
		Password: "correct horse",
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	ready, err := conn.Recv()
	if err != nil {
		t.Fatalf("Recv (ready): %v", err)
	}
	if ready.Kind != transport.ServerReady || ready.ReadyN != 1 {
		t.Fatalf("first frame = %+v, want Ready(1)", ready)
	}

	if err := conn.Send(transport.ClientMessage{Kind: transport.ClientSupervisor, Roll: &transport.RollRequest{SeedIdx: 7}}); err != nil {
		t.Fatalf("Send roll: %v", err)
	}

	success, err := conn.Recv()
	if err != nil {
		t.Fatalf("Recv (success): %v", err)
	}
	if success.Kind != transport.ServerSuccess || success.Success.SeedIdx != 7 {
		t.Fatalf("second frame = %+v, want Success(7)", success)
	}
	if string(success.Success.SpoilerLog) != string(fakeSpoilerContent) {
		t.Fatalf("SpoilerLog = %q, want %q", success.Success.SpoilerLog, fakeSpoilerContent)
	}
}

func TestIsNetworkErrorClassification(t *testing.T) {
	netErr := &transport.NetworkError{Err: errors.New("timeout")}
	if !transport.IsNetworkError(netErr) {
		t.Fatal("NetworkError should classify as network error")
	}
	protoErr := &transport.ProtocolError{Err: errors.New("bad handshake")}
	if transport.IsNetworkError(protoErr) {
		t.Fatal("ProtocolError should not classify as network error")
	}
}

func TestDecodeClientMessageRejectsUnknownType(t *testing.T) {
	_, err := transport.DecodeClientMessage([]byte(`{"type":"bogus"}`))
	if err == nil {
		t.Fatal("expected error decoding unknown message type")
	}
}
