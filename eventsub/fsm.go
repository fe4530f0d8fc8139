package eventsub

import "time"

// State is the connection state machine position.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingWelcome
	StateActive
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingWelcome:
		return "awaiting_welcome"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

const (
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second
	defaultMaxAttempts    = 10
	defaultKeepaliveGrace = 10 * time.Second

	// welcomeTimeout bounds how long a fresh connection may sit without a
	// session_welcome before it is treated as dead.
	defaultWelcomeTimeout = 15 * time.Second
)

// reconnectDelay returns the backoff before reconnect attempt n (1-based):
// initial, doubling each attempt, capped at max. With the defaults the
// schedule is 1s, 2s, 4s, 8s, 16s, then 30s for every further attempt.
func reconnectDelay(attempt int, initial, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
