// Package transport owns the single persistent connection to the coordination
// service. Frames are JSON objects {"event": name, "data": payload}.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/wpprtc/internal/bus"
	"github.com/matheus3301/wpprtc/internal/status"
	"go.uber.org/zap"
)

const (
	// EventDisconnected is dispatched to subscribers once the reconnect
	// budget is exhausted. It carries no payload.
	EventDisconnected = "disconnected"
	// EventUserConnected announces the local user after every (re)connect.
	EventUserConnected = "user_connected"
)

// ErrNotConnected is returned by Emit while the link is down.
var ErrNotConnected = errors.New("transport: not connected")

// Config controls dialing and reconnection.
type Config struct {
	URL              string
	Token            string
	MaxRetries       int
	RetryDelay       time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	return c
}

// Frame is the unit exchanged on the socket.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler receives the raw payload of one inbound event.
type Handler func(data json.RawMessage)

// Channel is the bidirectional event channel. It is safe for concurrent use.
// Inbound events are dispatched sequentially on a single goroutine.
type Channel struct {
	cfg    Config
	dialer *websocket.Dialer
	link   *status.Machine
	bus    *bus.Bus
	logger *zap.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	identity string
	running  bool
	cancel   context.CancelFunc

	writeMu sync.Mutex

	hmu      sync.RWMutex
	handlers map[string]map[string]*Subscription
}

// New creates a channel. Nothing is dialed until Connect.
func New(cfg Config, b *bus.Bus, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Channel{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		link:     status.NewMachine(b),
		bus:      b,
		logger:   logger.Named("transport"),
		handlers: make(map[string]map[string]*Subscription),
	}
}

// State returns the current link state.
func (c *Channel) State() status.State {
	return c.link.Current()
}

// StateSince returns when the link entered its current state.
func (c *Channel) StateSince() time.Time {
	return c.link.Since()
}

// Recoveries counts drops the channel reconnected from without help.
func (c *Channel) Recoveries() int {
	return c.link.Restored()
}

// Connected reports whether a socket is currently open.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Identity returns the user id the channel announced itself with.
func (c *Channel) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Connect dials the service and announces identity. Calling it while the
// channel is already connected (or connecting) returns nil without dialing.
func (c *Channel) Connect(ctx context.Context, identity string) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.identity = identity
	c.mu.Unlock()

	_ = c.link.Transition(status.Connecting)
	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		_ = c.link.Transition(status.Disconnected)
		return fmt.Errorf("connect: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if !c.running {
		// Disconnect raced the dial.
		c.mu.Unlock()
		cancel()
		_ = conn.Close()
		return fmt.Errorf("connect: %w", ErrNotConnected)
	}
	c.conn = conn
	c.cancel = cancel
	c.mu.Unlock()

	_ = c.link.Transition(status.Connected)
	c.logger.Info("connected", zap.String("url", c.cfg.URL), zap.String("identity", identity))
	c.announce()

	go c.run(loopCtx, conn)
	return nil
}

// Disconnect closes the socket and drops every handler registration.
// It is safe to call at any time, any number of times.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	if c.cancel != nil {
		// Cancelled under mu so a reconnect that sees running cleared also
		// sees its context done.
		c.cancel()
	}
	c.conn = nil
	c.cancel = nil
	c.running = false
	c.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		c.logger.Info("disconnected")
	}

	c.hmu.Lock()
	c.handlers = make(map[string]map[string]*Subscription)
	c.hmu.Unlock()

	if c.link.Current() != status.Idle {
		_ = c.link.Transition(status.Idle)
	}
}

// Emit sends a named event. There is no acknowledgement at this layer.
func (c *Channel) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("emit %s: encode: %w", event, err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteJSON(Frame{Event: event, Data: data}); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

func (c *Channel) announce() {
	id := c.Identity()
	if err := c.Emit(EventUserConnected, id); err != nil {
		c.logger.Warn("announce failed", zap.Error(err))
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", c.cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	return conn, nil
}

func (c *Channel) run(ctx context.Context, conn *websocket.Conn) {
	for {
		err := c.readLoop(conn)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("connection lost", zap.Error(err))

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()
		_ = c.link.Transition(status.Reconnecting)

		conn = c.reconnect(ctx)
		if conn == nil {
			if ctx.Err() == nil {
				c.exhausted()
			}
			return
		}
	}
}

// reconnect retries with a fixed delay. It returns nil when the budget is
// spent or ctx is cancelled.
func (c *Channel) reconnect(ctx context.Context) *websocket.Conn {
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.RetryDelay):
		}

		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.Warn("reconnect attempt failed",
				zap.Int("attempt", attempt),
				zap.Int("max", c.cfg.MaxRetries),
				zap.Error(err))
			continue
		}

		c.mu.Lock()
		if ctx.Err() != nil || !c.running {
			c.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		c.conn = conn
		c.mu.Unlock()

		_ = c.link.Transition(status.Connected)
		c.logger.Info("reconnected", zap.Int("attempt", attempt))
		c.announce()
		return conn
	}
	return nil
}

func (c *Channel) exhausted() {
	c.mu.Lock()
	c.running = false
	c.conn = nil
	c.mu.Unlock()

	_ = c.link.Transition(status.Disconnected)
	c.logger.Error("reconnect budget exhausted", zap.Int("retries", c.cfg.MaxRetries))
	c.dispatch(EventDisconnected, nil)
	c.bus.Emit(bus.TransportDisconnected, c.cfg.MaxRetries)
}

func (c *Channel) readLoop(conn *websocket.Conn) error {
	if c.cfg.PingInterval > 0 {
		wait := 2 * c.cfg.PingInterval
		_ = conn.SetReadDeadline(time.Now().Add(wait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wait))
		})
		stop := make(chan struct{})
		defer close(stop)
		go c.keepalive(conn, stop)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
			c.logger.Warn("dropping malformed frame", zap.Int("bytes", len(data)), zap.Error(err))
			continue
		}
		c.dispatch(f.Event, f.Data)
	}
}

func (c *Channel) keepalive(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (c *Channel) dispatch(event string, data json.RawMessage) {
	c.hmu.RLock()
	subs := make([]*Subscription, 0, len(c.handlers[event]))
	for _, s := range c.handlers[event] {
		subs = append(subs, s)
	}
	c.hmu.RUnlock()

	for _, s := range subs {
		s.handler(data)
	}
}
