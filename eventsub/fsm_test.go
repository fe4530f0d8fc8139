package eventsub

import (
	"testing"
	"time"
)

func TestReconnectDelaySchedule(t *testing.T) {
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		got := reconnectDelay(i+1, defaultInitialBackoff, defaultMaxBackoff)
		if got != w {
			t.Errorf("attempt %d: delay = %v, want %v", i+1, got, w)
		}
	}
}

func TestReconnectDelayClampsBadAttempt(t *testing.T) {
	if got := reconnectDelay(0, defaultInitialBackoff, defaultMaxBackoff); got != defaultInitialBackoff {
		t.Errorf("attempt 0: delay = %v, want %v", got, defaultInitialBackoff)
	}
	if got := reconnectDelay(-3, defaultInitialBackoff, defaultMaxBackoff); got != defaultInitialBackoff {
		t.Errorf("negative attempt: delay = %v, want %v", got, defaultInitialBackoff)
	}
}

func TestReconnectDelayRespectsCustomCap(t *testing.T) {
	if got := reconnectDelay(1, 10*time.Second, 5*time.Second); got != 5*time.Second {
		t.Errorf("initial above cap: delay = %v, want 5s", got)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateDisconnected:    "disconnected",
		StateConnecting:      "connecting",
		StateAwaitingWelcome: "awaiting_welcome",
		StateActive:          "active",
		StateReconnecting:    "reconnecting",
		State(99):            "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
