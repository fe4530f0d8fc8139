// Package telemetry provides Prometheus metrics, correlation-id aware logging
// helpers, and OpenTelemetry tracing setup.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	EventsReceived       *prometheus.CounterVec
	EventsDropped        prometheus.Counter
	ReconnectAttempts    prometheus.Counter
	MessagesSent         prometheus.Counter
	MessagesDropped      prometheus.Counter
	SubscriptionFailures prometheus.Counter
	TokenRefreshFailures prometheus.Counter

	// Gauges
	ConnectionStateGauge prometheus.Gauge // numeric eventsub state (see eventsub.State)
	OutboundQueueGauge   prometheus.Gauge
	SubscriptionsActive  prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{Name: "eventsub_events_received_total", Help: "Normalized events received, by type"}, []string{"type"})
		EventsDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "eventsub_events_dropped_total", Help: "Inbound notifications dropped (unknown type or full buffer)"})
		ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{Name: "eventsub_reconnect_attempts_total", Help: "Reconnect attempts started"})
		MessagesSent = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_sent_total", Help: "Outbound chat messages delivered"})
		MessagesDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_dropped_total", Help: "Outbound chat messages dropped after a failed send"})
		SubscriptionFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "eventsub_subscription_failures_total", Help: "EventSub subscription registrations rejected"})
		TokenRefreshFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "auth_token_refresh_failures_total", Help: "OAuth token refresh failures"})
		ConnectionStateGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "eventsub_connection_state", Help: "Connection state machine position"})
		OutboundQueueGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_outbound_queue_depth", Help: "Messages waiting in the outbound queue"})
		SubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{Name: "eventsub_subscriptions_active", Help: "Subscriptions registered on the current session"})
	})
}

// The helpers below are nil-safe so library code can run before Init (tests).

// CountEvent records one received event by type.
func CountEvent(eventType string) {
	if EventsReceived != nil {
		EventsReceived.WithLabelValues(eventType).Inc()
	}
}

// CountEventDropped records one dropped inbound notification.
func CountEventDropped() {
	if EventsDropped != nil {
		EventsDropped.Inc()
	}
}

// CountReconnectAttempt records one reconnect attempt.
func CountReconnectAttempt() {
	if ReconnectAttempts != nil {
		ReconnectAttempts.Inc()
	}
}

// CountSubscriptionFailure records one rejected subscription registration.
func CountSubscriptionFailure() {
	if SubscriptionFailures != nil {
		SubscriptionFailures.Inc()
	}
}

// SetSubscriptionsActive records how many subscriptions the current session carries.
func SetSubscriptionsActive(n int) {
	if SubscriptionsActive != nil {
		SubscriptionsActive.Set(float64(n))
	}
}

// CountMessageSent records one delivered outbound chat message.
func CountMessageSent() {
	if MessagesSent != nil {
		MessagesSent.Inc()
	}
}

// CountMessageDropped records one outbound chat message dropped after a failed send.
func CountMessageDropped() {
	if MessagesDropped != nil {
		MessagesDropped.Inc()
	}
}

// CountTokenRefreshFailure records one OAuth refresh failure.
func CountTokenRefreshFailure() {
	if TokenRefreshFailures != nil {
		TokenRefreshFailures.Inc()
	}
}

// SetConnectionState records the state machine position; safe before Init.
func SetConnectionState(s int) {
	if ConnectionStateGauge != nil {
		ConnectionStateGauge.Set(float64(s))
	}
}

// SetOutboundQueueDepth records the queue residency; safe before Init.
func SetOutboundQueueDepth(n int) {
	if OutboundQueueGauge != nil {
		OutboundQueueGauge.Set(float64(n))
	}
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding a correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
