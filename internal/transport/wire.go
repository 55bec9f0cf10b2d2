// Package transport implements the Remote Transport (C4): a persistent
// framed duplex channel carrying ClientMessage/ServerMessage, heartbeats,
// timeouts, reconnection classification, and authentication. Framing rides
// over github.com/gorilla/websocket; each frame is one JSON envelope
// `{"type": "...", "data": ...}`, the direct Go analogue of the
// async_proto-derived tagged unions in
// original_source/crate/ootrstats/src/websocket.rs /
// ootrstats-worker-daemon/src/lib.rs.
package transport

import (
	"encoding/json"
	"fmt"
)

// ClientMessageKind tags a ClientMessage.
type ClientMessageKind string

const (
	ClientHandshake  ClientMessageKind = "handshake"
	ClientSupervisor ClientMessageKind = "supervisor"
	ClientPing       ClientMessageKind = "ping"
	ClientGoodbye    ClientMessageKind = "goodbye"
)

// Handshake is the first message a client must send; the server silently
// closes the connection if the password does not match (constant time).
type Handshake struct {
	Password      string   `json:"password"`
	BaseROMPath   string   `json:"base_rom_path"`
	WSLDistro     string   `json:"wsl_distro,omitempty"`
	RandoRev      string   `json:"rando_rev"`
	Setup         string   `json:"setup"`
	OutputMode    string   `json:"output_mode"`
	PriorityUsers []string `json:"priority_users,omitempty"`
	Patch         bool     `json:"patch,omitempty"`
}

// RollRequest is the Supervisor payload: dispatch one seed to the worker.
type RollRequest struct {
	SeedIdx  uint16                 `json:"seed_idx"`
	Settings map[string]interface{} `json:"settings"`
}

// ClientMessage is the tagged union of messages a supervisor sends to a
// worker daemon.
type ClientMessage struct {
	Kind      ClientMessageKind
	Handshake *Handshake
	Roll      *RollRequest
}

type clientEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode serializes m as one wire frame.
func (m ClientMessage) Encode() ([]byte, error) {
	env := clientEnvelope{Type: string(m.Kind)}
	var payload interface{}
	switch m.Kind {
	case ClientHandshake:
		payload = m.Handshake
	case ClientSupervisor:
		payload = m.Roll
	case ClientPing, ClientGoodbye:
		payload = nil
	default:
		return nil, fmt.Errorf("encode client message: unknown kind %q", m.Kind)
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode client message: %w", err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// DecodeClientMessage parses one wire frame sent by a supervisor.
func DecodeClientMessage(raw []byte) (ClientMessage, error) {
	var env clientEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ClientMessage{}, fmt.Errorf("decode client message: %w", err)
	}
	m := ClientMessage{Kind: ClientMessageKind(env.Type)}
	switch m.Kind {
	case ClientHandshake:
		m.Handshake = &Handshake{}
		if err := json.Unmarshal(env.Data, m.Handshake); err != nil {
			return ClientMessage{}, fmt.Errorf("decode handshake: %w", err)
		}
	case ClientSupervisor:
		m.Roll = &RollRequest{}
		if err := json.Unmarshal(env.Data, m.Roll); err != nil {
			return ClientMessage{}, fmt.Errorf("decode roll request: %w", err)
		}
	case ClientPing, ClientGoodbye:
		// no payload
	default:
		return ClientMessage{}, fmt.Errorf("decode client message: unknown type %q", env.Type)
	}
	return m, nil
}

// ServerMessageKind tags a ServerMessage.
type ServerMessageKind string

const (
	ServerInit    ServerMessageKind = "init"
	ServerReady   ServerMessageKind = "ready"
	ServerSuccess ServerMessageKind = "success"
	ServerFailure ServerMessageKind = "failure"
	ServerError   ServerMessageKind = "error"
	ServerPing    ServerMessageKind = "ping"
)

// SuccessPayload carries a completed roll's artifacts as inline bytes —
// the remote side of the path-vs-bytes ArtifactSource union named in
// §9 Design Notes (a remote worker has no shared filesystem with the
// supervisor, so it always sends bytes).
type SuccessPayload struct {
	SeedIdx      uint16  `json:"seed_idx"`
	Instructions *uint64 `json:"instructions,omitempty"`
	SpoilerLog   []byte  `json:"spoiler_log"`
	PatchExt     string  `json:"patch_ext,omitempty"`
	Patch        []byte  `json:"patch,omitempty"`
}

// FailurePayload carries a failed roll's captured error log.
type FailurePayload struct {
	SeedIdx      uint16  `json:"seed_idx"`
	Instructions *uint64 `json:"instructions,omitempty"`
	ErrorLog     []byte  `json:"error_log"`
}

// ErrorPayload reports a fatal, connection-ending error from the worker
// daemon, both a display string and a debug-verbose string (mirroring the
// original's `Error { display, debug }`).
type ErrorPayload struct {
	Display string `json:"display"`
	Debug   string `json:"debug"`
}

// ServerMessage is the tagged union of messages a worker daemon sends to
// the supervisor.
type ServerMessage struct {
	Kind ServerMessageKind

	InitMsg string
	ReadyN  uint8
	Success *SuccessPayload
	Failure *FailurePayload
	Error   *ErrorPayload
}

type serverEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type initData struct {
	Msg string `json:"msg"`
}

type readyData struct {
	N uint8 `json:"n"`
}

// Encode serializes m as one wire frame.
func (m ServerMessage) Encode() ([]byte, error) {
	env := serverEnvelope{Type: string(m.Kind)}
	var payload interface{}
	switch m.Kind {
	case ServerInit:
		payload = initData{Msg: m.InitMsg}
	case ServerReady:
		payload = readyData{N: m.ReadyN}
	case ServerSuccess:
		payload = m.Success
	case ServerFailure:
		payload = m.Failure
	case ServerError:
		payload = m.Error
	case ServerPing:
		payload = nil
	default:
		return nil, fmt.Errorf("encode server message: unknown kind %q", m.Kind)
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode server message: %w", err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// DecodeServerMessage parses one wire frame sent by a worker daemon.
func DecodeServerMessage(raw []byte) (ServerMessage, error) {
	var env serverEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ServerMessage{}, fmt.Errorf("decode server message: %w", err)
	}
	m := ServerMessage{Kind: ServerMessageKind(env.Type)}
	switch m.Kind {
	case ServerInit:
		var d initData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return ServerMessage{}, fmt.Errorf("decode init: %w", err)
		}
		m.InitMsg = d.Msg
	case ServerReady:
		var d readyData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return ServerMessage{}, fmt.Errorf("decode ready: %w", err)
		}
		m.ReadyN = d.N
	case ServerSuccess:
		m.Success = &SuccessPayload{}
		if err := json.Unmarshal(env.Data, m.Success); err != nil {
			return ServerMessage{}, fmt.Errorf("decode success: %w", err)
		}
	case ServerFailure:
		m.Failure = &FailurePayload{}
		if err := json.Unmarshal(env.Data, m.Failure); err != nil {
			return ServerMessage{}, fmt.Errorf("decode failure: %w", err)
		}
	case ServerError:
		m.Error = &ErrorPayload{}
		if err := json.Unmarshal(env.Data, m.Error); err != nil {
			return ServerMessage{}, fmt.Errorf("decode error: %w", err)
		}
	case ServerPing:
		// no payload
	default:
		return ServerMessage{}, fmt.Errorf("decode server message: unknown type %q", env.Type)
	}
	return m, nil
}
