// Package transport owns the single persistent WebSocket connection to the
// inference service.
package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"vision-caption-client/internal/models"
	"vision-caption-client/internal/observability/logging"
	"vision-caption-client/internal/observability/metrics"
	"vision-caption-client/internal/protocol"
)

const (
	backoffFactor = 2.0
	jitterFactor  = 0.3
)

var (
	ErrClosed         = errors.New("transport is closed")
	ErrAlreadyStarted = errors.New("transport already started")
)

// Config holds transport configuration.
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PongWait         time.Duration // 0 disables keepalive pings
	MaxMessageSize   int64
	SendBuffer       int

	Reconnect      bool
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int // 0 means retry until closed
}

// DefaultConfig returns the baseline configuration: no reconnection.
func DefaultConfig() Config {
	return Config{
		URL:              "ws://127.0.0.1:2222",
		HandshakeTimeout: 10 * time.Second,
		WriteWait:        10 * time.Second,
		PongWait:         60 * time.Second,
		MaxMessageSize:   512 * 1024,
		SendBuffer:       16,
		Reconnect:        false,
		InitialBackoff:   1 * time.Second,
		MaxBackoff:       60 * time.Second,
	}
}

// Handler receives every inbound frame, in delivery order, on one goroutine.
type Handler func(raw string)

// StateFunc is notified on every state transition.
type StateFunc func(from, to State)

// Client manages the WebSocket connection to the inference service.
type Client struct {
	cfg     Config
	handler Handler
	onState StateFunc
	dialer  websocket.Dialer

	stateMu sync.RWMutex
	state   State

	connMu sync.RWMutex
	conn   *websocket.Conn

	started   atomic.Bool
	sendChan  chan []byte
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup

	metrics *metrics.Metrics
	log     zerolog.Logger
	jitter  func() float64
}

// Option configures a Client.
type Option func(*Client)

// WithMetrics overrides metrics.DefaultMetrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithStateFunc registers fn for state transitions.
func WithStateFunc(fn StateFunc) Option {
	return func(c *Client) { c.onState = fn }
}

// New creates a Client in the DISCONNECTED state. Call Connect to dial.
func New(cfg Config, handler Handler, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:      cfg,
		handler:  handler,
		dialer:   websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		state:    StateDisconnected,
		sendChan: make(chan []byte, cfg.SendBuffer),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		metrics:  metrics.DefaultMetrics,
		log:      logging.WithComponent("transport"),
		jitter:   rand.Float64,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.metrics.SetConnectionState(StateDisconnected.String(), stateNames())
	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// setState moves to next unless the client is already CLOSED.
func (c *Client) setState(next State) {
	c.stateMu.Lock()
	prev := c.state
	if prev == StateClosed || prev == next {
		c.stateMu.Unlock()
		return
	}
	c.state = next
	c.stateMu.Unlock()

	c.metrics.SetConnectionState(next.String(), stateNames())
	c.log.Info().Str("from", prev.String()).Str("to", next.String()).Msg("Connection state changed")
	if c.onState != nil {
		c.onState(prev, next)
	}
}

// Connect dials the endpoint. Without reconnection a failed dial is terminal:
// the client moves to CLOSED and the error is returned. With reconnection the
// first failure is logged and retried in the background.
func (c *Client) Connect(ctx context.Context) error {
	if c.State() == StateClosed {
		return ErrClosed
	}
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	wsURL, err := buildWSURL(c.cfg.URL)
	if err != nil {
		c.setState(StateClosed)
		return fmt.Errorf("failed to build WebSocket URL: %w", err)
	}
	if u, _ := url.Parse(wsURL); u != nil && u.Scheme != "wss" {
		c.log.Warn().Str("url", wsURL).Msg("Endpoint is unencrypted and unauthenticated")
	}

	c.setState(StateConnecting)
	conn, err := c.dial(ctx)
	if err != nil {
		if !c.cfg.Reconnect {
			c.setState(StateClosed)
			return err
		}
		c.log.Warn().Err(err).Msg("Initial connection failed, retrying in background")
	}

	c.wg.Add(1)
	go c.run(conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	wsURL, err := buildWSURL(c.cfg.URL)
	if err != nil {
		return nil, err
	}
	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.log.Info().Str("url", wsURL).Msg("Connected")
	return conn, nil
}

func buildWSURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in %q", raw)
	}
	return u.String(), nil
}

// run serves conn and, if enabled, reconnects until Close.
func (c *Client) run(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		if conn == nil {
			if !c.cfg.Reconnect {
				c.setState(StateClosed)
				return
			}
			if conn = c.reconnect(); conn == nil {
				c.setState(StateClosed)
				return
			}
		}

		c.serve(conn)
		conn = nil

		select {
		case <-c.done:
			return
		default:
		}

		if c.cfg.Reconnect {
			c.setState(StateConnecting)
		}
	}
}

// serve runs the pumps for one connection and returns when it breaks.
func (c *Client) serve(conn *websocket.Conn) {
	c.connMu.Lock()
	select {
	case <-c.done:
		c.connMu.Unlock()
		conn.Close()
		return
	default:
	}
	c.conn = conn
	c.connMu.Unlock()

	c.setState(StateOpen)

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		c.writePump(conn, stop)
		close(writerDone)
	}()
	c.readPump(conn)
	close(stop)
	<-writerDone

	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.connMu.Unlock()
	conn.Close()

	// Leave OPEN before draining so no Send can slip a capture past the drain.
	if c.cfg.Reconnect {
		c.setState(StateConnecting)
	} else {
		c.setState(StateClosed)
	}

	if n := c.drainSendQueue(); n > 0 {
		c.log.Warn().Int("dropped", n).Msg("Dropped captures queued at disconnect")
	}
}

func (c *Client) reconnect() *websocket.Conn {
	backoff := c.cfg.InitialBackoff

	for attempt := 1; ; attempt++ {
		if c.cfg.MaxAttempts > 0 && attempt > c.cfg.MaxAttempts {
			c.log.Error().Int("attempts", c.cfg.MaxAttempts).Msg("Giving up reconnecting")
			return nil
		}

		sleep := c.jittered(backoff)
		c.log.Info().Dur("delay", sleep).Int("attempt", attempt).Msg("Retrying")
		select {
		case <-c.done:
			return nil
		case <-time.After(sleep):
		}

		c.metrics.RecordReconnect()
		conn, err := c.dial(c.ctx)
		if err == nil {
			return conn
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("Reconnect failed")
		backoff = c.grow(backoff)
	}
}

// jittered spreads backoff by ±jitterFactor.
func (c *Client) jittered(backoff time.Duration) time.Duration {
	jitter := time.Duration(float64(backoff) * jitterFactor * (c.jitter()*2 - 1))
	sleep := backoff + jitter
	if sleep < 0 {
		sleep = backoff
	}
	return sleep
}

// grow multiplies backoff by backoffFactor, capped at MaxBackoff.
func (c *Client) grow(backoff time.Duration) time.Duration {
	backoff = time.Duration(float64(backoff) * backoffFactor)
	if backoff > c.cfg.MaxBackoff {
		backoff = c.cfg.MaxBackoff
	}
	return backoff
}

func (c *Client) readPump(conn *websocket.Conn) {
	if c.cfg.PongWait > 0 {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
			return nil
		})
	}

	for {
		mt, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("Read error")
			} else {
				c.log.Info().Err(err).Msg("Connection ended")
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		c.dispatch(string(message))
	}
}

// dispatch runs the handler, isolating panics to the one message.
func (c *Client) dispatch(raw string) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Message handler panicked")
		}
	}()
	if c.handler != nil {
		c.handler(raw)
	}
}

func (c *Client) writePump(conn *websocket.Conn, stop chan struct{}) {
	var ping <-chan time.Time
	if c.cfg.PongWait > 0 {
		ticker := time.NewTicker(c.cfg.PongWait * 9 / 10)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-stop:
			return
		case <-c.done:
			return

		case frame := <-c.sendChan:
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				c.log.Warn().Err(err).Msg("Write error")
				conn.Close()
				return
			}

		case <-ping:
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (c *Client) drainSendQueue() int {
	n := 0
	for {
		select {
		case <-c.sendChan:
			n++
		default:
			return n
		}
	}
}

// Send hands a capture to the write pump. It never blocks and never reports
// an error: when the connection is not OPEN or the buffer is full the capture
// is dropped and false is returned.
func (c *Client) Send(req models.CaptureRequest) bool {
	frame := protocol.EncodeCapture(req.ID, req.Payload)

	// The read lock is held across the enqueue so a state change cannot
	// interleave between the check and the send.
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	if c.state != StateOpen {
		c.log.Debug().Str("captureId", req.ID).Str("state", c.state.String()).Msg("Capture dropped, connection not open")
		return false
	}

	select {
	case c.sendChan <- frame:
		return true
	case <-c.done:
		return false
	default:
		c.log.Warn().Str("captureId", req.ID).Msg("Send buffer full, capture dropped")
		return false
	}
}

// Close sends a normal closure, closes the connection and stops reconnecting.
// The client ends in CLOSED. Idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()

		c.connMu.Lock()
		conn := c.conn
		c.conn = nil
		c.connMu.Unlock()

		if conn != nil {
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteWait),
			)
			conn.Close()
		}
		c.setState(StateClosed)
		c.log.Info().Msg("Transport closed")
	})
	c.wg.Wait()
	return nil
}
