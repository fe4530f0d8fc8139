package eventsub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onnwee/streamhub/backend/telemetry"
)

// ErrReconnectsExhausted is returned by Run after the reconnect attempt
// budget runs out without a session reaching active.
var ErrReconnectsExhausted = errors.New("eventsub: reconnect attempts exhausted")

// Subscriber registers the subscription catalog on a freshly welcomed
// session. Implemented by the Orchestrator.
type Subscriber interface {
	RegisterAll(ctx context.Context, sessionID string) (registered, failed int)
}

// frame is one reader result: a raw message or the read error that ended
// the connection.
type frame struct {
	data []byte
	err  error
}

// connHandle pairs a connection with the goroutine reading from it. The
// reader parks on abandon when the run loop walks away, so frames from a
// replaced connection never reach the loop.
type connHandle struct {
	conn    Conn
	frames  chan frame
	abandon chan struct{}
}

type dialResult struct {
	h   *connHandle
	err error
}

// Manager owns one websocket session to the EventSub service and drives the
// connection lifecycle: welcome handshake, keepalive watchdog, server-pushed
// session migration, and backoff reconnects. All connection state lives on
// the Run goroutine; other goroutines interact through channels and the
// atomic status fields.
type Manager struct {
	URL        string
	Dialer     Dialer
	Subscriber Subscriber
	Normalizer *Normalizer

	// Tuning knobs, zero values replaced by the package defaults.
	KeepaliveGrace time.Duration
	WelcomeTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
	EventBuffer    int

	initOnce sync.Once
	events   chan Event
	died     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once

	state     atomic.Int32
	attempts  atomic.Int32
	mu        sync.Mutex
	sessionID string
}

// Status is a point-in-time snapshot for the status endpoint.
type Status struct {
	State             string `json:"state"`
	SessionID         string `json:"session_id,omitempty"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
}

func (m *Manager) ensureInit() {
	m.initOnce.Do(func() {
		if m.KeepaliveGrace <= 0 {
			m.KeepaliveGrace = defaultKeepaliveGrace
		}
		if m.WelcomeTimeout <= 0 {
			m.WelcomeTimeout = defaultWelcomeTimeout
		}
		if m.InitialBackoff <= 0 {
			m.InitialBackoff = defaultInitialBackoff
		}
		if m.MaxBackoff <= 0 {
			m.MaxBackoff = defaultMaxBackoff
		}
		if m.MaxAttempts <= 0 {
			m.MaxAttempts = defaultMaxAttempts
		}
		if m.EventBuffer <= 0 {
			m.EventBuffer = 256
		}
		m.events = make(chan Event, m.EventBuffer)
		m.died = make(chan struct{})
		m.stop = make(chan struct{})
	})
}

// Events delivers normalized events. Closed when Run returns.
func (m *Manager) Events() <-chan Event {
	m.ensureInit()
	return m.events
}

// Disconnected is closed when the reconnect budget is exhausted and the
// manager gives up. A local Close does not trip it.
func (m *Manager) Disconnected() <-chan struct{} {
	m.ensureInit()
	return m.died
}

// Close asks the run loop to shut down cleanly. Safe to call more than once.
func (m *Manager) Close() {
	m.ensureInit()
	m.stopOnce.Do(func() { close(m.stop) })
}

// State reports the current connection state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Status reports a snapshot for the HTTP status endpoint.
func (m *Manager) Status() Status {
	m.mu.Lock()
	sid := m.sessionID
	m.mu.Unlock()
	return Status{
		State:             m.State().String(),
		SessionID:         sid,
		ReconnectAttempts: int(m.attempts.Load()),
	}
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
	telemetry.SetConnectionState(int(s))
	slog.Debug("eventsub state", "state", s.String())
}

func (m *Manager) setSession(id string) {
	m.mu.Lock()
	m.sessionID = id
	m.mu.Unlock()
}

// startReader spawns the per-connection reader goroutine. It exits on read
// error or when the handle is abandoned.
func (m *Manager) startReader(c Conn) *connHandle {
	h := &connHandle{
		conn:    c,
		frames:  make(chan frame),
		abandon: make(chan struct{}),
	}
	go func() {
		for {
			data, err := c.ReadMessage()
			select {
			case h.frames <- frame{data: data, err: err}:
			case <-h.abandon:
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return h
}

func dropHandle(h *connHandle) {
	close(h.abandon)
	_ = h.conn.Close()
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func armTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	t.Reset(d)
}

// Run drives the connection until ctx is cancelled, Close is called, or the
// reconnect budget is exhausted. It must be called exactly once.
func (m *Manager) Run(ctx context.Context) error {
	m.ensureInit()
	defer close(m.events)

	var (
		cur          *connHandle
		swapC        chan dialResult
		backoffC     <-chan time.Time
		reconnecting bool
		attempts     int
		keepaliveDur time.Duration
	)
	keepalive := time.NewTimer(time.Hour)
	stopTimer(keepalive)

	cleanup := func() {
		stopTimer(keepalive)
		if cur != nil {
			dropHandle(cur)
			cur = nil
		}
	}

	// scheduleAttempt spends one reconnect attempt and arms the backoff
	// timer. Returns false when the budget is exhausted.
	scheduleAttempt := func(reason string) bool {
		attempts++
		m.attempts.Store(int32(attempts))
		if attempts > m.MaxAttempts {
			slog.Error("eventsub giving up after exhausting reconnect attempts",
				"attempts", m.MaxAttempts, "reason", reason)
			return false
		}
		delay := reconnectDelay(attempts, m.InitialBackoff, m.MaxBackoff)
		slog.Info("eventsub reconnect scheduled",
			"attempt", attempts, "delay", delay, "reason", reason)
		backoffC = time.After(delay)
		return true
	}

	// rearmKeepalive restarts the watchdog. Until the welcome sets the
	// session's keepalive window, the welcome timeout stands in.
	rearmKeepalive := func() {
		d := keepaliveDur
		if d <= 0 {
			d = m.WelcomeTimeout
		}
		armTimer(keepalive, d)
	}

	// enterReconnect tears down the current connection and starts the
	// backoff cycle. The reconnecting flag keeps a second trigger (for
	// example a keepalive expiry racing a read error) from stacking a
	// second timer.
	enterReconnect := func(reason string) bool {
		if reconnecting {
			return true
		}
		reconnecting = true
		if swapC != nil {
			// A migration dial is still in flight; its socket belongs to
			// the session being torn down and must not be installed.
			go func(ch chan dialResult) {
				if res := <-ch; res.h != nil {
					dropHandle(res.h)
				}
			}(swapC)
			swapC = nil
		}
		m.setState(StateReconnecting)
		m.setSession("")
		cleanup()
		return scheduleAttempt(reason)
	}

	fail := func() error {
		m.setState(StateDisconnected)
		close(m.died)
		return ErrReconnectsExhausted
	}

	// Initial connect.
	m.setState(StateConnecting)
	telemetry.CountReconnectAttempt()
	if h, err := m.Dialer.DialContext(ctx, m.URL); err != nil {
		slog.Warn("eventsub dial failed", "url", m.URL, "error", err)
		if !enterReconnect("dial failed") {
			return fail()
		}
	} else {
		cur = m.startReader(h)
		m.setState(StateAwaitingWelcome)
		armTimer(keepalive, m.WelcomeTimeout)
	}

	for {
		var framesC chan frame
		if cur != nil {
			framesC = cur.frames
		}

		select {
		case <-ctx.Done():
			cleanup()
			m.setState(StateDisconnected)
			return ctx.Err()

		case <-m.stop:
			slog.Info("eventsub closing")
			cleanup()
			m.setState(StateDisconnected)
			return nil

		case <-keepalive.C:
			slog.Warn("eventsub keepalive window expired, dropping connection")
			if !enterReconnect("keepalive timeout") {
				return fail()
			}

		case <-backoffC:
			backoffC = nil
			m.setState(StateConnecting)
			telemetry.CountReconnectAttempt()
			h, err := m.Dialer.DialContext(ctx, m.URL)
			if err != nil {
				slog.Warn("eventsub reconnect dial failed", "attempt", attempts, "error", err)
				m.setState(StateReconnecting)
				if !scheduleAttempt("dial failed") {
					return fail()
				}
				continue
			}
			if cur != nil {
				dropHandle(cur)
			}
			cur = m.startReader(h)
			reconnecting = false
			m.setState(StateAwaitingWelcome)
			armTimer(keepalive, m.WelcomeTimeout)

		case res := <-swapC:
			swapC = nil
			if res.err != nil {
				// Keep the old connection; the server will drop it
				// eventually and the normal reconnect path takes over.
				slog.Warn("eventsub migration dial failed, keeping current session", "error", res.err)
				continue
			}
			old := cur
			cur = res.h
			if old != nil {
				dropHandle(old)
			}
			// Still active: subscriptions carry over to the new session.
			// The welcome on the new socket re-arms the keepalive window.
			armTimer(keepalive, m.WelcomeTimeout)
			slog.Info("eventsub session migrated")

		case f := <-framesC:
			if f.err != nil {
				slog.Warn("eventsub connection lost", "error", f.err)
				if !enterReconnect("read error") {
					return fail()
				}
				continue
			}
			env, err := parseEnvelope(f.data)
			if err != nil {
				slog.Warn("eventsub dropping malformed message", "error", err)
				continue
			}
			switch env.Metadata.MessageType {
			case msgWelcome:
				var p sessionPayload
				if err := json.Unmarshal(env.Payload, &p); err != nil {
					slog.Warn("eventsub malformed welcome", "error", err)
					continue
				}
				m.setSession(p.Session.ID)
				keepaliveDur = time.Duration(p.Session.KeepaliveTimeoutSeconds)*time.Second + m.KeepaliveGrace
				armTimer(keepalive, keepaliveDur)
				if m.State() == StateActive {
					// Welcome on a migrated socket; the session already
					// carries its subscriptions.
					continue
				}
				attempts = 0
				m.attempts.Store(0)
				m.setState(StateActive)
				slog.Info("eventsub session active", "session_id", p.Session.ID,
					"keepalive_timeout_s", p.Session.KeepaliveTimeoutSeconds)
				if m.Subscriber != nil {
					go func(sid string) {
						registered, failed := m.Subscriber.RegisterAll(ctx, sid)
						telemetry.SetSubscriptionsActive(registered)
						if failed > 0 {
							slog.Warn("eventsub running degraded",
								"registered", registered, "failed", failed)
						}
					}(p.Session.ID)
				}

			case msgKeepalive:
				rearmKeepalive()

			case msgNotification:
				rearmKeepalive()
				var p notificationPayload
				if err := json.Unmarshal(env.Payload, &p); err != nil {
					slog.Warn("eventsub malformed notification", "error", err)
					continue
				}
				ev, err := m.Normalizer.Normalize(env.Metadata.SubscriptionType, p.Event)
				if err != nil {
					slog.Debug("eventsub dropping notification", "type", env.Metadata.SubscriptionType, "error", err)
					telemetry.CountEventDropped()
					continue
				}
				telemetry.CountEvent(string(ev.Type()))
				select {
				case m.events <- ev:
				default:
					slog.Warn("eventsub event buffer full, dropping event", "type", ev.Type())
					telemetry.CountEventDropped()
				}

			case msgReconnect:
				rearmKeepalive()
				var p sessionPayload
				if err := json.Unmarshal(env.Payload, &p); err != nil || p.Session.ReconnectURL == "" {
					slog.Warn("eventsub reconnect message without usable url", "error", err)
					continue
				}
				if swapC != nil {
					continue
				}
				slog.Info("eventsub session migration requested")
				ch := make(chan dialResult, 1)
				swapC = ch
				go func(url string) {
					c, err := m.Dialer.DialContext(ctx, url)
					if err != nil {
						ch <- dialResult{err: err}
						return
					}
					ch <- dialResult{h: m.startReader(c)}
				}(p.Session.ReconnectURL)

			case msgRevocation:
				rearmKeepalive()
				var p revocationPayload
				if err := json.Unmarshal(env.Payload, &p); err == nil {
					slog.Warn("eventsub subscription revoked",
						"type", p.Subscription.Type, "status", p.Subscription.Status)
				}

			default:
				slog.Debug("eventsub ignoring message", "message_type", env.Metadata.MessageType)
			}
		}
	}
}
