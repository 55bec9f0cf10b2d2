package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// PingInterval is how often either side sends a Ping frame.
	PingInterval = 30 * time.Second
	// ReadTimeout is the receive deadline; expiry is a NetworkError.
	ReadTimeout = 60 * time.Second
)

// NetworkError wraps a transport-level failure (timeout, premature reset,
// dial/TLS/IO error) — the class of error eligible for automatic
// reconnection by the caller, per §4.4/§7.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("transport network error: %v", e.Err) }
func (e *NetworkError) Unwrap() error  { return e.Err }

// ProtocolError wraps an application-level failure (handshake mismatch,
// malformed frame, remote-reported error) — not eligible for automatic
// reconnection.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("transport protocol error: %v", e.Err) }
func (e *ProtocolError) Unwrap() error  { return e.Err }

// IsNetworkError reports whether err should be classified as a network
// error eligible for reconnection, mirroring the original's IsNetworkError
// trait (websocket/timeout errors are network; Remote/Semver/Send/Receive
// errors are not).
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return asNetworkError(err, &ne)
}

func asNetworkError(err error, target **NetworkError) bool {
	for err != nil {
		if ne, ok := err.(*NetworkError); ok {
			*target = ne
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ClientConfig configures a dial to a remote worker daemon.
type ClientConfig struct {
	TLS           bool
	Hostname      string
	Password      string
	BaseROMPath   string
	WSLDistro     string
	RandoRev      string
	Setup         string
	OutputMode    string
	PriorityUsers []string
	Patch         bool
}

// Conn is a connected client-side channel to one worker daemon.
type Conn struct {
	ws *websocket.Conn
}

// Dial connects to cfg.Hostname, sends the Handshake, and starts the
// background 30s ping loop. The caller owns reading ServerMessages via
// Recv and must eventually call Close.
func Dial(ctx context.Context, cfg ClientConfig) (*Conn, error) {
	scheme := "ws"
	if cfg.TLS {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: cfg.Hostname, Path: "/"}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		TLSClientConfig:  &tls.Config{},
	}
	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("dial %s: %w", u.String(), err)}
	}

	c := &Conn{ws: ws}
	c.armReadDeadline()

	handshake := ClientMessage{Kind: ClientHandshake, Handshake: &Handshake{
		Password:      cfg.Password,
		BaseROMPath:   cfg.BaseROMPath,
		WSLDistro:     cfg.WSLDistro,
		RandoRev:      cfg.RandoRev,
		Setup:         cfg.Setup,
		OutputMode:    cfg.OutputMode,
		PriorityUsers: cfg.PriorityUsers,
		Patch:         cfg.Patch,
	}}
	if err := c.Send(handshake); err != nil {
		ws.Close()
		return nil, err
	}

	go c.pingLoop()

	return c, nil
}

// Send writes one ClientMessage frame.
func (c *Conn) Send(msg ClientMessage) error {
	data, err := msg.Encode()
	if err != nil {
		return &ProtocolError{Err: err}
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return &NetworkError{Err: err}
	}
	return nil
}

// Recv reads one ServerMessage frame, re-arming the 60s read deadline.
// Deadline expiry and other transport faults surface as *NetworkError;
// frame decode failures surface as *ProtocolError.
func (c *Conn) Recv() (ServerMessage, error) {
	_, data, err := c.ws.ReadMessage()
	c.armReadDeadline()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
			return ServerMessage{}, &NetworkError{Err: err}
		}
		return ServerMessage{}, &NetworkError{Err: err}
	}
	msg, err := DecodeServerMessage(data)
	if err != nil {
		return ServerMessage{}, &ProtocolError{Err: err}
	}
	return msg, nil
}

// Goodbye sends the drain-shutdown message. It does not close the
// connection or stop the background ping loop; the caller should keep
// calling Recv until it errors (EOF/timeout) to drain remaining server
// messages, per §4.4.
func (c *Conn) Goodbye() error {
	return c.Send(ClientMessage{Kind: ClientGoodbye})
}

// Close tears down the underlying connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}

func (c *Conn) armReadDeadline() {
	c.ws.SetReadDeadline(time.Now().Add(ReadTimeout))
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for range ticker.C {
		if err := c.Send(ClientMessage{Kind: ClientPing}); err != nil {
			return
		}
	}
}
