package db

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/onnwee/streamhub/backend/auth"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping postgres test")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := Migrate(context.Background(), database); err != nil {
		database.Close()
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		database.Exec(`DELETE FROM credentials`)
		database.Close()
	})
	return database
}

func TestConnectUsesProvidedDSN(t *testing.T) {
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping postgres test")
	}
	database, err := Connect(dsn)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer database.Close()
	if err := database.PingContext(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestCredentialStoreRoundTrip(t *testing.T) {
	database := testDB(t)
	store := &CredentialStore{DB: database}
	ctx := context.Background()

	rec := &auth.Record{
		Role: auth.RoleBot, UserID: "222",
		AccessToken: "access-1", RefreshToken: "refresh-1",
		ExpiresAt: time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		Scopes:    "user:read:chat user:write:chat",
	}
	if err := store.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := store.Load(ctx, auth.RoleBot, "222")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got == nil {
		t.Fatal("Load() = nil, want record")
	}
	if got.AccessToken != "access-1" || got.RefreshToken != "refresh-1" {
		t.Errorf("Load() = %+v", got)
	}
	if got.Scopes != rec.Scopes {
		t.Errorf("Scopes = %s, want %s", got.Scopes, rec.Scopes)
	}
}

func TestCredentialStoreRotation(t *testing.T) {
	database := testDB(t)
	store := &CredentialStore{DB: database}
	ctx := context.Background()

	first := &auth.Record{Role: auth.RoleBroadcaster, UserID: "111", AccessToken: "a1", RefreshToken: "r1", ExpiresAt: time.Now().Add(time.Hour)}
	if err := store.Upsert(ctx, first); err != nil {
		t.Fatal(err)
	}
	rotated := &auth.Record{Role: auth.RoleBroadcaster, UserID: "111", AccessToken: "a2", RefreshToken: "r2", ExpiresAt: time.Now().Add(4 * time.Hour)}
	if err := store.Upsert(ctx, rotated); err != nil {
		t.Fatal(err)
	}

	got, err := store.Load(ctx, auth.RoleBroadcaster, "111")
	if err != nil {
		t.Fatal(err)
	}
	// Both halves rotate together; a stale refresh token paired with a fresh
	// access token would brick the next refresh.
	if got.AccessToken != "a2" || got.RefreshToken != "r2" {
		t.Errorf("after rotation got %+v, want a2/r2", got)
	}

	var count int
	if err := database.QueryRow(`SELECT COUNT(*) FROM credentials WHERE role='broadcaster' AND user_id='111'`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("row count = %d, want 1 (upsert, not insert)", count)
	}
}

func TestCredentialStoreLoadAbsent(t *testing.T) {
	database := testDB(t)
	store := &CredentialStore{DB: database}
	got, err := store.Load(context.Background(), auth.RoleBot, "nope")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != nil {
		t.Errorf("Load() = %+v, want nil for absent record", got)
	}
}

func TestCountCredentials(t *testing.T) {
	database := testDB(t)
	store := &CredentialStore{DB: database}
	ctx := context.Background()

	n, err := CountCredentials(ctx, database)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("CountCredentials() = %d, want 0", n)
	}
	store.Upsert(ctx, &auth.Record{Role: auth.RoleBot, UserID: "222", AccessToken: "a", ExpiresAt: time.Now()})
	n, err = CountCredentials(ctx, database)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("CountCredentials() = %d, want 1", n)
	}
}
