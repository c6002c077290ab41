// Package realtime keeps one live WebSocket channel to the messaging relay
// per session. The Manager dials with the session token, announces the user
// with a join frame, fans incoming private messages out to handlers and
// reconnects with jittered exponential backoff until it is closed.
package realtime

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/homefix/messenger/internal/apperr"
	"github.com/homefix/messenger/internal/logger"
	"github.com/homefix/messenger/internal/metrics"
	"github.com/homefix/messenger/internal/model"
	"github.com/homefix/messenger/internal/protocol"
)

// ErrAlreadyRunning is returned by Run while another Run is active.
var ErrAlreadyRunning = errors.New("realtime: manager already running")

// State is the channel lifecycle state.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Disconnected
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Config holds the channel settings for one session.
type Config struct {
	URL               string        // ws(s)://host/ws
	Token             string        // session bearer token; empty closes immediately
	UserID            string        // announced via join after every connect
	HeartbeatInterval time.Duration // ping period (default: 25s); reads time out after twice this
	DialTimeout       time.Duration // per attempt (default: 10s)
	Backoff           BackoffConfig
}

// DefaultConfig returns channel defaults without session fields.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 25 * time.Second,
		DialTimeout:       10 * time.Second,
		Backoff:           DefaultBackoffConfig(),
	}
}

// Manager supervises the realtime channel. All methods are safe for
// concurrent use.
type Manager struct {
	cfg Config
	log *zap.SugaredLogger
	rnd func() float64

	mu        sync.Mutex
	state     State
	running   bool
	closed    bool
	cancel    context.CancelFunc
	onMessage []func(model.Message)
	onConnect []func(bool)
}

// New creates an idle Manager. Nothing is dialed until Run.
func New(cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	return &Manager{
		cfg:   cfg,
		log:   logger.Named("realtime"),
		state: Idle,
	}
}

// OnMessage registers fn for every private_message received. Handlers run
// on the read goroutine in arrival order.
func (m *Manager) OnMessage(fn func(model.Message)) {
	m.mu.Lock()
	m.onMessage = append(m.onMessage, fn)
	m.mu.Unlock()
}

// OnConnectionChange registers fn for every flip of the connected flag.
func (m *Manager) OnConnectionChange(fn func(bool)) {
	m.mu.Lock()
	m.onConnect = append(m.onConnect, fn)
	m.mu.Unlock()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether the channel is currently connected.
func (m *Manager) Connected() bool {
	return m.State() == Connected
}

// Close stops Run, closes the live connection and leaves the Manager in
// Closed. A closed Manager cannot be restarted.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	cancel := m.cancel
	running := m.running
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !running {
		m.setState(Closed)
	}
}

// ---------------------------------------------------------------------------
// Supervised loop
// ---------------------------------------------------------------------------

// Run connects and keeps the channel alive until ctx is cancelled or Close
// is called, and returns nil in both cases. Without a token it moves
// straight to Closed. With a positive MaxAttempts it gives up after that
// many consecutive failed attempts and returns a channel error.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	if m.closed || m.cfg.Token == "" {
		m.mu.Unlock()
		if m.cfg.Token == "" {
			m.log.Infow("no session token, channel closed")
		}
		m.setState(Closed)
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.mu.Unlock()

	defer func() {
		cancel()
		m.mu.Lock()
		m.running = false
		m.cancel = nil
		m.mu.Unlock()
		m.setState(Closed)
	}()

	bo := newBackoff(m.cfg.Backoff, m.rnd)
	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		m.setState(Connecting)
		conn, br, err := m.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			metrics.RealtimeEvents.WithLabelValues(protocol.EventConnectError).Inc()
			m.log.Warnw("[connect_error] dial failed", "url", m.cfg.URL, "err", apperr.ChannelError(err))
			m.setState(Disconnected)
			failures++
		} else {
			bo.Reset()
			failures = 0
			err := m.serve(ctx, conn, br)
			if ctx.Err() != nil {
				return nil
			}
			metrics.RealtimeEvents.WithLabelValues(protocol.EventDisconnect).Inc()
			m.log.Infow("[disconnect] channel dropped", "err", err)
			m.setState(Disconnected)
			failures++
		}

		if limit := m.cfg.Backoff.MaxAttempts; limit > 0 && failures >= limit {
			return apperr.ChannelError(fmt.Errorf("realtime: giving up after %d attempts", failures))
		}

		delay := bo.Next()
		m.log.Debugw("reconnecting", "in", delay, "attempt", failures)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		metrics.ChannelReconnects.Inc()
	}
}

// dial opens one connection carrying the token both as query parameter and
// as bearer header.
func (m *Manager) dial(ctx context.Context) (net.Conn, *bufio.Reader, error) {
	u, err := url.Parse(m.cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("realtime: dial: invalid url: %w", err)
	}
	q := u.Query()
	q.Set("token", m.cfg.Token)
	u.RawQuery = q.Encode()

	d := ws.Dialer{
		Timeout: m.cfg.DialTimeout,
		Header: ws.HandshakeHeaderHTTP(http.Header{
			"Authorization": []string{"Bearer " + m.cfg.Token},
		}),
	}
	conn, br, _, err := d.Dial(ctx, u.String())
	if err != nil {
		return nil, nil, fmt.Errorf("realtime: dial: %w", err)
	}
	return conn, br, nil
}

// serve runs one connection: join, heartbeat and the read loop. It returns
// when the connection fails or ctx is done, with the connection closed.
func (m *Manager) serve(ctx context.Context, conn net.Conn, br *bufio.Reader) error {
	defer conn.Close()

	w := &lockedWriter{w: conn}
	var r io.Reader = conn
	if br != nil {
		r = io.MultiReader(br, conn)
	}
	rw := struct {
		io.Reader
		io.Writer
	}{r, w}

	metrics.RealtimeEvents.WithLabelValues(protocol.EventConnect).Inc()
	m.log.Infow("[connect] channel connected", "url", m.cfg.URL, "token", logger.Redact(m.cfg.Token))
	m.setState(Connected)

	if err := m.join(w); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go m.heartbeat(conn, w, done)

	readTimeout := 2 * m.cfg.HeartbeatInterval
	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return fmt.Errorf("realtime: set deadline: %w", err)
		}
		data, op, err := wsutil.ReadServerData(rw)
		if err != nil {
			return fmt.Errorf("realtime: read: %w", err)
		}
		if op != ws.OpText {
			continue
		}
		m.handleFrame(data)
	}
}

// join announces the session user so the relay routes messages here.
func (m *Manager) join(w io.Writer) error {
	if m.cfg.UserID == "" {
		m.log.Warnw("no user id, join skipped")
		return nil
	}
	if err := writeFrame(w, protocol.EventJoin, m.cfg.UserID); err != nil {
		return fmt.Errorf("realtime: join: %w", err)
	}
	metrics.RealtimeEvents.WithLabelValues(protocol.EventJoin).Inc()
	m.log.Debugw("joined", "user_id", m.cfg.UserID)
	return nil
}

// heartbeat pings every interval. A failed write closes conn so the read
// loop fails and Run reconnects.
func (m *Manager) heartbeat(conn net.Conn, w io.Writer, done <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := writeFrame(w, protocol.EventPing, nil); err != nil {
				m.log.Warnw("heartbeat ping failed", "err", err)
				conn.Close()
				return
			}
		}
	}
}

func (m *Manager) handleFrame(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		m.log.Warnw("dropping malformed frame", "err", err)
		return
	}
	metrics.RealtimeEvents.WithLabelValues(eventLabel(env.Event)).Inc()

	switch env.Event {
	case protocol.EventPrivateMessage:
		msg, err := protocol.DecodeMessage(env)
		if err != nil {
			m.log.Warnw("dropping private_message", "err", err)
			return
		}
		m.mu.Lock()
		handlers := append(([]func(model.Message))(nil), m.onMessage...)
		m.mu.Unlock()
		for _, fn := range handlers {
			fn(msg)
		}
	case protocol.EventPong:
	case protocol.EventError:
		m.log.Warnw("relay reported error", "data", string(env.Data))
	default:
		m.log.Debugw("ignoring event", "event", env.Event)
	}
}

// eventLabel bounds the metric label set to the known server events.
func eventLabel(event string) string {
	switch event {
	case protocol.EventPrivateMessage, protocol.EventPong, protocol.EventError:
		return event
	}
	return "other"
}

// setState records s and notifies connection handlers when the connected
// flag flips.
func (m *Manager) setState(s State) {
	m.mu.Lock()
	prev := m.state
	if prev == Closed && s != Closed && m.closed {
		m.mu.Unlock()
		return
	}
	m.state = s
	handlers := append(([]func(bool))(nil), m.onConnect...)
	m.mu.Unlock()

	was, now := prev == Connected, s == Connected
	if was == now {
		return
	}
	if now {
		metrics.ChannelConnected.Set(1)
	} else {
		metrics.ChannelConnected.Set(0)
	}
	for _, fn := range handlers {
		fn(now)
	}
}

// ---------------------------------------------------------------------------
// Frame writing
// ---------------------------------------------------------------------------

// lockedWriter serializes writes to the connection. Every write carries a
// whole frame, so frames from the heartbeat, join and control replies never
// interleave.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// writeFrame encodes a masked client text frame and writes it in one call.
func writeFrame(w io.Writer, event string, data interface{}) error {
	payload, err := protocol.Encode(event, data)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := wsutil.WriteClientMessage(&buf, ws.OpText, payload); err != nil {
		return err
	}
	_, err = w.Write(buf.Bytes())
	return err
}
