package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// rewriteTransport redirects requests to a test server, keeping the
// production URLs in the code under test.
type rewriteTransport struct {
	Transport http.RoundTripper
	host      string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = strings.TrimPrefix(t.host, "http://")
	rt := t.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	return rt.RoundTrip(req)
}

func testClient(serverURL string) *http.Client {
	return &http.Client{Transport: &rewriteTransport{host: serverURL}}
}

func TestTokenSource_GetCached(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		if got := r.FormValue("grant_type"); got != "client_credentials" {
			t.Errorf("grant_type = %s, want client_credentials", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "app-token-1",
			"expires_in":   3600,
			"token_type":   "bearer",
		})
	}))
	defer server.Close()

	ts := &TokenSource{ClientID: "cid", ClientSecret: "cs", HTTPClient: testClient(server.URL)}
	ctx := context.Background()

	tok1, err := ts.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if tok1 != "app-token-1" {
		t.Errorf("Get() = %s, want app-token-1", tok1)
	}
	tok2, err := ts.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if tok2 != tok1 {
		t.Errorf("cached token = %s, want %s", tok2, tok1)
	}
	if callCount != 1 {
		t.Errorf("expected 1 exchange (cached), got %d", callCount)
	}
}

func TestTokenSource_ReExchangeNearExpiry(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		tok := "app-token-1"
		if callCount > 1 {
			tok = "app-token-2"
		}
		w.Header().Set("Content-Type", "application/json")
		// Expires inside the 60s buffer, so the next Get must re-exchange.
		json.NewEncoder(w).Encode(map[string]any{"access_token": tok, "expires_in": 30})
	}))
	defer server.Close()

	ts := &TokenSource{ClientID: "cid", ClientSecret: "cs", HTTPClient: testClient(server.URL)}
	ctx := context.Background()

	if _, err := ts.Get(ctx); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	tok, err := ts.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if tok != "app-token-2" {
		t.Errorf("Get() = %s, want re-exchanged app-token-2", tok)
	}
	if callCount != 2 {
		t.Errorf("expected 2 exchanges, got %d", callCount)
	}
}

func TestTokenSource_MissingCredentials(t *testing.T) {
	ts := &TokenSource{}
	if _, err := ts.Get(context.Background()); err == nil {
		t.Error("Get() with missing credentials should return error")
	}
}

func TestTokenSource_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer server.Close()

	ts := &TokenSource{ClientID: "bad", ClientSecret: "bad", HTTPClient: testClient(server.URL)}
	if _, err := ts.Get(context.Background()); err == nil {
		t.Error("Get() with server error should return error")
	}
}

func TestRefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.FormValue("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %s, want refresh_token", got)
		}
		if got := r.FormValue("refresh_token"); got != "old-refresh" {
			t.Errorf("refresh_token = %s, want old-refresh", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"expires_in":    14400,
			"scope":         []string{"user:read:chat", "user:write:chat"},
		})
	}))
	defer server.Close()

	res, err := RefreshToken(context.Background(), testClient(server.URL), "cid", "cs", "old-refresh")
	if err != nil {
		t.Fatalf("RefreshToken() error = %v", err)
	}
	if res.AccessToken != "new-access" || res.RefreshToken != "new-refresh" {
		t.Errorf("RefreshToken() = %+v, want rotated pair", res)
	}
	if len(res.Scope) != 2 {
		t.Errorf("Scope = %v, want 2 scopes", res.Scope)
	}
}

func TestRefreshToken_Revoked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":400,"message":"Invalid refresh token"}`))
	}))
	defer server.Close()

	if _, err := RefreshToken(context.Background(), testClient(server.URL), "cid", "cs", "revoked"); err == nil {
		t.Error("RefreshToken() with revoked token should return error")
	}
}

func TestRefreshToken_MissingParams(t *testing.T) {
	if _, err := RefreshToken(context.Background(), nil, "", "", ""); err == nil {
		t.Error("RefreshToken() with missing params should return error")
	}
}

func TestComputeExpiry(t *testing.T) {
	exp := ComputeExpiry(3600)
	if until := time.Until(exp); until < 59*time.Minute || until > 61*time.Minute {
		t.Errorf("ComputeExpiry(3600) = %v from now", until)
	}
	// Unknown lifetime defaults to an hour.
	exp = ComputeExpiry(0)
	if until := time.Until(exp); until < 59*time.Minute || until > 61*time.Minute {
		t.Errorf("ComputeExpiry(0) = %v from now, want ~60m default", until)
	}
}
