// Package server exposes the HTTP API: health, readiness, live status,
// metrics and the OAuth bootstrap flow that credentials the bot and
// broadcaster identities. It includes permissive CORS for development and
// injects correlation IDs into request contexts for consistent logging.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/onnwee/streamhub/backend/chat"
	"github.com/onnwee/streamhub/backend/config"
	"github.com/onnwee/streamhub/backend/eventsub"
	"github.com/onnwee/streamhub/backend/telemetry"
)

// NewMux returns the HTTP handler with all routes.
// The provided context bounds the rate limiter cleanup goroutine.
func NewMux(ctx context.Context, db *sql.DB, cfg *config.Config, es *eventsub.Manager, disp *chat.Dispatcher) http.Handler {
	rateLimiter := newIPRateLimiter(ctx, loadRateLimiterConfig())
	corsCfg := loadCORSConfig()

	handlers := NewHandlers(db, cfg, es, disp)

	mux := http.NewServeMux()

	// Metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// OAuth bootstrap endpoints
	mux.HandleFunc("/auth/twitch/start", handlers.HandleTwitchOAuthStart)
	mux.HandleFunc("/auth/twitch/callback", handlers.HandleTwitchOAuthCallback)

	// Health and readiness endpoints
	mux.HandleFunc("/healthz", handlers.HandleHealthz)
	mux.HandleFunc("/readyz", handlers.HandleReadyz)

	// Live status of the event client
	mux.HandleFunc("/status", handlers.HandleStatus)

	// The OAuth endpoints drive a redirect dance against an external
	// identity provider; nothing else warrants rate limiting.
	selectiveHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/auth/") {
			rateLimitMiddleware(mux, rateLimiter).ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})

	// Wrap with correlation ID injector and tracing middleware
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reuse corr header if provided else generate
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.URL.Path),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start",
			slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		wrappedWriter := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		selectiveHandler.ServeHTTP(wrappedWriter, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", wrappedWriter.statusCode))
		if wrappedWriter.statusCode >= 400 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", wrappedWriter.statusCode))
		}
	})
	return withCORSConfig(handler, corsCfg)
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, db *sql.DB, cfg *config.Config, es *eventsub.Manager, disp *chat.Dispatcher) error {
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      NewMux(ctx, db, cfg, es, disp),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
