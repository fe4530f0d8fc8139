// Command backend is the main entrypoint for the streamhub event client.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Keeps the Twitch EventSub websocket session alive, normalizes
//     notifications into domain events and feeds the chat responders.
//   - Exposes an HTTP server with /healthz, /readyz, /status, /metrics and
//     the OAuth bootstrap flow for the bot and broadcaster identities.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/onnwee/streamhub/backend/auth"
	"github.com/onnwee/streamhub/backend/chat"
	"github.com/onnwee/streamhub/backend/config"
	"github.com/onnwee/streamhub/backend/db"
	"github.com/onnwee/streamhub/backend/eventsub"
	"github.com/onnwee/streamhub/backend/server"
	"github.com/onnwee/streamhub/backend/telemetry"
	"github.com/onnwee/streamhub/backend/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load("backend/.env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("streamhub", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Versioned migrations first, falling back to the embedded SQL for
	// deployments that predate the schema_migrations table.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		es   *eventsub.Manager
		disp *chat.Dispatcher
	)
	if err := cfg.ValidateEventSubReady(); err != nil {
		// HTTP-only mode: the OAuth bootstrap endpoints still work, so the
		// operator can finish configuration without a restart loop.
		slog.Warn("event client disabled", slog.Any("err", err))
	} else {
		store := &db.CredentialStore{DB: database}
		tokens := &auth.Manager{
			Store:             store,
			Service:           &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
			Refresh:           auth.NewRefreshFunc(cfg.TwitchClientID, cfg.TwitchClientSecret),
			BotUserID:         cfg.BotUserID,
			BroadcasterUserID: cfg.BroadcasterUserID,
		}
		tokens.Prime(ctx)
		tokens.StartRefresher(ctx, 5*time.Minute)

		api := &twitchapi.Client{ClientID: cfg.TwitchClientID, Tokens: tokens}
		disp = &chat.Dispatcher{
			Sender:            api,
			BroadcasterUserID: cfg.BroadcasterUserID,
			BotUserID:         cfg.BotUserID,
			MessagesPerSecond: cfg.MessagesPerSecond,
		}
		es = &eventsub.Manager{
			URL:    cfg.EventSubURL,
			Dialer: &eventsub.WSDialer{},
			Subscriber: &eventsub.Orchestrator{
				API:               api,
				Tokens:            tokens,
				BroadcasterUserID: cfg.BroadcasterUserID,
				BotUserID:         cfg.BotUserID,
			},
			Normalizer: &eventsub.Normalizer{BotUserID: cfg.BotUserID},
		}

		go func() {
			if err := es.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("event client stopped", slog.Any("err", err))
			}
		}()
		go respondToEvents(es.Events(), disp)
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (health/status/metrics/oauth)
	go func() {
		if err := server.Start(ctx, database, cfg, es, disp); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal or the event client giving up for good.
	if es != nil {
		select {
		case <-ctx.Done():
		case <-es.Disconnected():
			slog.Error("event connection lost permanently, shutting down")
			stop()
		}
	} else {
		<-ctx.Done()
	}
	slog.Info("shutting down")
	if es != nil {
		es.Close()
	}
	if disp != nil {
		disp.Shutdown()
	}
}

// respondToEvents is the built-in community responder: a !ping health check
// plus short acknowledgements for channel milestones.
func respondToEvents(events <-chan eventsub.Event, disp *chat.Dispatcher) {
	for ev := range events {
		switch e := ev.(type) {
		case eventsub.ChatMessage:
			if e.Self {
				continue
			}
			if strings.TrimSpace(e.Text) == "!ping" {
				disp.Reply(e.MessageID, "pong")
			}
		case eventsub.Raid:
			disp.Say(fmt.Sprintf("Welcome raiders! Thanks for the raid, %s (%d viewers)!", e.FromUserName, e.Viewers))
		case eventsub.GiftSubs:
			if e.Anonymous {
				disp.Say(fmt.Sprintf("An anonymous gifter just dropped %d subs, thank you!", e.Total))
			} else {
				disp.Say(fmt.Sprintf("%s just gifted %d subs, thank you!", e.UserName, e.Total))
			}
		case eventsub.Cheer:
			if e.Bits >= 100 && !e.Anonymous {
				disp.Say(fmt.Sprintf("Thanks for the %d bits, %s!", e.Bits, e.UserName))
			}
		}
	}
}
