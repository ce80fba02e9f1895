// Package realtime owns the push-event connection: its state machine,
// bounded reconnection and subscriber registry.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/technosupport/ts-vms-monitor/internal/metrics"
)

type Config struct {
	URL              string
	ColdStartDelay   time.Duration
	RetryDelay       time.Duration
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	MaxAttempts      int
	EventBuffer      int
	Logger           zerolog.Logger
}

func (c *Config) setDefaults() {
	if c.ColdStartDelay < 0 {
		c.ColdStartDelay = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 3 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
}

type exitReason int

const (
	exitVoluntary exitReason = iota
	exitServerClose
	exitTransport
)

// Channel is a reconnecting websocket client authenticated with a bearer
// token. Inbound frames are published on Events; normalised events are
// fanned out to subscribers through Notify.
type Channel struct {
	cfg    Config
	log    zerolog.Logger
	dialer *websocket.Dialer
	events chan Frame

	base     context.Context
	stopBase context.CancelFunc

	mu         sync.Mutex
	state      State
	token      string
	authFailed bool
	closed     bool
	cycle      uint64
	cancel     context.CancelFunc
	conn       *websocket.Conn
	pending    []State
	observers  []func(State)

	notifyMu sync.Mutex

	subMu   sync.RWMutex
	subs    map[string]map[int]Handler
	nextSub int
}

func New(cfg Config) *Channel {
	cfg.setDefaults()
	base, stop := context.WithCancel(context.Background())
	return &Channel{
		cfg: cfg,
		log: cfg.Logger,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		events:   make(chan Frame, cfg.EventBuffer),
		base:     base,
		stopBase: stop,
		state:    Disconnected,
		subs:     make(map[string]map[int]Handler),
	}
}

// Events carries raw inbound frames in arrival order.
func (c *Channel) Events() <-chan Frame {
	return c.events
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange registers fn for every transition. Transitions are
// delivered in order; fn may call back into the channel.
func (c *Channel) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// SetCredential supplies or revokes the bearer token. An empty token is a
// hard teardown that cancels pending attempts. A new token clears a
// previous auth rejection and starts a connection cycle unless one is
// already established.
func (c *Channel) SetCredential(token string) {
	c.mu.Lock()
	if c.closed || token == c.token {
		c.mu.Unlock()
		return
	}
	c.token = token
	c.authFailed = false

	switch {
	case token == "":
		c.log.Info().Msg("credential revoked, tearing down live channel")
		c.teardownLocked()
	case c.state == Connected:
		// the handshake already authenticated; the new token applies on the next cycle
	default:
		c.teardownLocked()
		c.startLocked(c.cfg.ColdStartDelay)
	}
	c.mu.Unlock()
	c.flush()
}

// Connect starts a connection cycle. It does nothing without a credential,
// after the current credential was rejected, or while a cycle is active.
func (c *Channel) Connect() {
	c.mu.Lock()
	if c.closed || c.token == "" || c.authFailed || c.state == Connecting || c.state == Connected {
		c.mu.Unlock()
		return
	}
	c.startLocked(c.cfg.ColdStartDelay)
	c.mu.Unlock()
	c.flush()
}

// Reconnect tears down any connection and starts over after the longer
// reconnect delay.
func (c *Channel) Reconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	if c.token != "" && !c.authFailed {
		c.log.Info().Dur("delay", c.cfg.ReconnectDelay).Msg("manual reconnect")
		c.startLocked(c.cfg.ReconnectDelay)
	}
	c.mu.Unlock()
	c.flush()
}

// Close disconnects for good.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	c.closed = true
	c.stopBase()
	c.mu.Unlock()
	c.flush()
}

func (c *Channel) transitionLocked(to State) {
	from := c.state
	if from == to {
		return
	}
	if !validTransition(from, to) {
		c.log.Warn().Str("from", string(from)).Str("to", string(to)).Msg("ignoring invalid state transition")
		return
	}
	c.state = to
	c.pending = append(c.pending, to)
	metrics.SetConnectionState(string(to), AllStates)
	c.log.Debug().Str("from", string(from)).Str("to", string(to)).Msg("live channel state")
}

// setState applies a transition on behalf of cycle id; stale cycles are ignored.
func (c *Channel) setState(id uint64, to State) {
	c.mu.Lock()
	if id == c.cycle {
		c.transitionLocked(to)
	}
	c.mu.Unlock()
	c.flush()
}

// flush delivers queued transitions. Whoever holds notifyMu drains the
// queue, so re-entrant calls from observers return immediately.
func (c *Channel) flush() {
	for {
		if !c.notifyMu.TryLock() {
			return
		}
		c.mu.Lock()
		batch := c.pending
		c.pending = nil
		observers := slices.Clone(c.observers)
		c.mu.Unlock()

		for _, s := range batch {
			for _, fn := range observers {
				fn(s)
			}
		}
		c.notifyMu.Unlock()

		c.mu.Lock()
		more := len(c.pending) > 0
		c.mu.Unlock()
		if !more {
			return
		}
	}
}

func (c *Channel) teardownLocked() {
	c.cycle++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		closeConn(c.conn)
		c.conn = nil
	}
	c.transitionLocked(Disconnected)
}

func (c *Channel) startLocked(delay time.Duration) {
	if c.cancel != nil {
		c.cancel()
	}
	c.cycle++
	id := c.cycle
	ctx, cancel := context.WithCancel(c.base)
	c.cancel = cancel
	c.transitionLocked(Connecting)
	go c.run(ctx, id, c.token, delay)
}

func closeConn(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// run is one connection cycle: optional delay, up to MaxAttempts
// handshakes, then the read loop of the established connection.
func (c *Channel) run(ctx context.Context, id uint64, token string, delay time.Duration) {
	if !sleepCtx(ctx, delay) {
		return
	}

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		conn, status, err := c.dial(ctx, token)
		metrics.RecordConnectAttempt(err == nil)
		if err == nil {
			c.serve(ctx, id, conn)
			return
		}
		if ctx.Err() != nil {
			return
		}

		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			c.log.Warn().Int("status", status).Msg("live channel handshake rejected credential")
			c.mu.Lock()
			if id == c.cycle {
				c.authFailed = true
				c.transitionLocked(Error)
			}
			c.mu.Unlock()
			c.flush()
			return
		}

		c.log.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", c.cfg.MaxAttempts).Msg("live channel handshake failed")
		if attempt < c.cfg.MaxAttempts && !sleepCtx(ctx, c.cfg.RetryDelay) {
			return
		}
	}

	c.log.Error().Int("attempts", c.cfg.MaxAttempts).Msg("live channel giving up")
	c.setState(id, Error)
}

func (c *Channel) dial(ctx context.Context, token string) (*websocket.Conn, int, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	status := 0
	if resp != nil {
		status = resp.StatusCode
		if resp.Body != nil {
			_ = resp.Body.Close()
		}
	}
	return conn, status, err
}

func (c *Channel) serve(ctx context.Context, id uint64, conn *websocket.Conn) {
	c.mu.Lock()
	if id != c.cycle {
		c.mu.Unlock()
		closeConn(conn)
		return
	}
	c.conn = conn
	c.transitionLocked(Connected)
	c.mu.Unlock()
	c.flush()
	c.log.Info().Str("url", c.cfg.URL).Msg("live channel connected")

	reason := c.readLoop(ctx, conn)

	c.mu.Lock()
	if id != c.cycle {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	_ = conn.Close()

	switch reason {
	case exitServerClose:
		c.log.Info().Msg("server closed live channel, reconnecting once")
		c.transitionLocked(Disconnected)
		c.startLocked(0)
	case exitTransport:
		c.transitionLocked(Error)
	}
	c.mu.Unlock()
	c.flush()
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) exitReason {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return exitVoluntary
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseServiceRestart) {
				return exitServerClose
			}
			c.log.Warn().Err(err).Msg("live channel transport error")
			return exitTransport
		}

		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil || f.Kind == "" {
			if err == nil {
				err = errors.New("frame without event name")
			}
			c.log.Warn().Err(err).Msg("dropping malformed frame")
			metrics.RecordDrop("unknown", "malformed_frame")
			continue
		}
		f.ReceivedAt = time.Now()
		metrics.RecordEvent(f.Kind)

		select {
		case c.events <- f:
		case <-ctx.Done():
			return exitVoluntary
		}
	}
}
