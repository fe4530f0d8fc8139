package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.EventSubURL != "wss://eventsub.wss.twitch.tv/ws" {
		t.Errorf("EventSubURL = %s, want production endpoint", cfg.EventSubURL)
	}
	if cfg.MessagesPerSecond != 20 {
		t.Errorf("MessagesPerSecond = %d, want 20", cfg.MessagesPerSecond)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %s, want :8080", cfg.HTTPAddr)
	}
	if cfg.BotScopes == "" || cfg.BroadcasterScopes == "" {
		t.Error("default scopes should not be empty")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TWITCH_EVENTSUB_URL", "ws://localhost:9999/ws")
	t.Setenv("CHAT_MESSAGES_PER_SECOND", "5")
	t.Setenv("DB_DSN", "postgres://x:y@db:5432/z")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.EventSubURL != "ws://localhost:9999/ws" {
		t.Errorf("EventSubURL = %s", cfg.EventSubURL)
	}
	if cfg.MessagesPerSecond != 5 {
		t.Errorf("MessagesPerSecond = %d, want 5", cfg.MessagesPerSecond)
	}
	if cfg.DBDsn != "postgres://x:y@db:5432/z" {
		t.Errorf("DBDsn = %s", cfg.DBDsn)
	}
}

func TestLoadInvalidRate(t *testing.T) {
	t.Setenv("CHAT_MESSAGES_PER_SECOND", "zero")
	if _, err := Load(); err == nil {
		t.Error("Load() with invalid rate should return error")
	}
	t.Setenv("CHAT_MESSAGES_PER_SECOND", "-3")
	if _, err := Load(); err == nil {
		t.Error("Load() with negative rate should return error")
	}
}

func TestValidateEventSubReady(t *testing.T) {
	cfg := &Config{}
	if err := cfg.ValidateEventSubReady(); err == nil {
		t.Error("empty config should not be eventsub-ready")
	}
	cfg = &Config{
		TwitchClientID:     "id",
		TwitchClientSecret: "secret",
		BroadcasterUserID:  "123",
		BotUserID:          "456",
	}
	if err := cfg.ValidateEventSubReady(); err != nil {
		t.Errorf("ValidateEventSubReady() error = %v", err)
	}
}
