// Package transport keeps the agent connected to the operator server over a
// websocket, buffering frames in both directions while the link is down.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Proton-105/protrader-agent/internal/queue"
	"github.com/Proton-105/protrader-agent/pkg/config"
	"github.com/Proton-105/protrader-agent/pkg/metrics"
)

// Local frame types are produced by the client itself, never by the server.
const (
	TypeLocalInfo  = "local_info"
	TypeLocalError = "local_error"
	TypeRaw        = "raw"
	TypePing       = "ping"
)

const (
	readLimit    = 4 << 20
	writeTimeout = 10 * time.Second
)

// Frame is one decoded inbound message.
type Frame map[string]any

// Type returns the frame's "type" field.
func (f Frame) Type() string {
	s, _ := f["type"].(string)
	return s
}

// Client is a reconnecting websocket client. Send and Receive are safe for
// concurrent use and never require a live connection.
type Client struct {
	cfg    config.TransportConfig
	dialer *websocket.Dialer
	log    *slog.Logger
	now    func() time.Time

	out *queue.Ring[[]byte]
	in  *queue.Ring[Frame]

	writeMu   sync.Mutex
	connected atomic.Bool
}

// New builds a client for cfg. Run must be called to connect.
func New(cfg config.TransportConfig, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}

	out := queue.NewRing[[]byte](cfg.OutboundQueue)
	out.OnDrop(func() { metrics.RecordQueueDrop("transport_out") })
	in := queue.NewRing[Frame](cfg.InboundQueue)
	in.OnDrop(func() { metrics.RecordQueueDrop("transport_in") })

	return &Client{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		log:    log.With("component", "transport"),
		now:    time.Now,
		out:    out,
		in:     in,
	}
}

// Send queues a JSON-serializable frame. It reports false only when the frame
// cannot be encoded; a full queue evicts its oldest frame instead.
func (c *Client) Send(frame any) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		c.log.Warn("dropping unencodable frame", slog.Any("error", err))
		return false
	}

	if c.out.Push(data) {
		c.log.Warn("outbound queue full, dropped oldest frame")
	}
	return true
}

// Receive blocks until an inbound frame is available or ctx is done.
func (c *Client) Receive(ctx context.Context) (Frame, error) {
	return c.in.Wait(ctx)
}

// Connected reports whether a session is currently open.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Pending returns the number of frames waiting to be written.
func (c *Client) Pending() int {
	return c.out.Len()
}

// Run connects and reconnects until ctx is done. Failed sessions are retried
// with a doubling backoff capped at MaxBackoff; a session that did connect
// resets it.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.cfg.InitialBackoff

	for {
		established, err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if established {
			backoff = c.cfg.InitialBackoff
		}

		msg := "connection closed"
		if err != nil {
			msg = err.Error()
		}
		c.log.WarnContext(ctx, "realtime link down", slog.String("error", msg), slog.Duration("retry_in", backoff))
		c.local(Frame{"type": TypeLocalError, "msg": msg})

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		backoff = min(backoff*2, c.cfg.MaxBackoff)
	}
}

func (c *Client) session(ctx context.Context) (bool, error) {
	c.log.InfoContext(ctx, "connecting", slog.String("url", c.cfg.URL))
	c.local(Frame{"type": TypeLocalInfo, "msg": "connecting"})

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	conn.SetReadLimit(readLimit)

	c.connected.Store(true)
	metrics.SetTransportConnected(true)
	c.log.InfoContext(ctx, "connected")
	c.local(Frame{"type": TypeLocalInfo, "msg": "connected"})

	sessCtx, cancel := context.WithCancel(ctx)
	errs := make(chan error, 3)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); errs <- c.writeLoop(sessCtx, conn) }()
	go func() { defer wg.Done(); errs <- c.pingLoop(sessCtx, conn) }()
	go func() { defer wg.Done(); errs <- c.readLoop(conn) }()

	err = <-errs
	cancel()
	_ = conn.Close()
	wg.Wait()

	c.connected.Store(false)
	metrics.SetTransportConnected(false)
	c.log.InfoContext(ctx, "disconnected")
	c.local(Frame{"type": TypeLocalInfo, "msg": "disconnected"})

	return true, err
}

func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		data, err := c.out.Wait(ctx)
		if err != nil {
			return nil
		}
		if err := c.write(conn, websocket.TextMessage, data); err != nil {
			if c.out.PushFront(data) {
				c.log.WarnContext(ctx, "outbound queue full, dropped unsent frame")
			}
			return fmt.Errorf("write: %w", err)
		}
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		data, _ := json.Marshal(Frame{"type": TypePing, "ts": c.now().Unix()})
		if err := c.write(conn, websocket.TextMessage, data); err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		if err := conn.WriteControl(websocket.PingMessage, nil, c.now().Add(writeTimeout)); err != nil {
			return fmt.Errorf("ping: %w", err)
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, websocket.ErrCloseSent) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame == nil {
			frame = Frame{"type": TypeRaw, "raw": string(data)}
		}
		c.log.Debug("received frame", slog.String("type", frame.Type()))
		c.in.Push(frame)
	}
}

func (c *Client) write(conn *websocket.Conn, kind int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = conn.SetWriteDeadline(c.now().Add(writeTimeout))
	return conn.WriteMessage(kind, data)
}

func (c *Client) local(f Frame) {
	c.in.Push(f)
}
