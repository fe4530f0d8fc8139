package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/streamhub/backend/auth"
	"github.com/onnwee/streamhub/backend/config"
	"github.com/onnwee/streamhub/backend/eventsub"
)

func testHandlers() *Handlers {
	return &Handlers{
		cfg: &config.Config{
			TwitchClientID:     "cid",
			TwitchClientSecret: "secret",
			TwitchRedirectURI:  "http://localhost:8080/auth/twitch/callback",
			TwitchChannel:      "somechannel",
			BroadcasterUserID:  "b1",
			BotUserID:          "bot1",
			BotScopes:          "user:read:chat user:write:chat",
			BroadcasterScopes:  "channel:read:subscriptions bits:read",
		},
		stateStore: make(map[string]oauthState),
	}
}

func TestHandleStatus(t *testing.T) {
	h := testHandlers()
	h.eventsubStatus = func() eventsub.Status {
		return eventsub.Status{State: "active", SessionID: "s1", ReconnectAttempts: 0}
	}
	h.queueDepth = func() int { return 3 }

	rec := httptest.NewRecorder()
	h.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ConnectionState != "active" || resp.SessionID != "s1" || resp.OutboundQueue != 3 {
		t.Errorf("response = %+v", resp)
	}
	if resp.Channel != "somechannel" {
		t.Errorf("channel = %q", resp.Channel)
	}
}

func TestHandleStatusWithoutClient(t *testing.T) {
	h := testHandlers()
	rec := httptest.NewRecorder()
	h.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	var resp statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ConnectionState != "disconnected" {
		t.Errorf("state = %q, want disconnected", resp.ConnectionState)
	}
}

func TestOAuthStartRedirects(t *testing.T) {
	h := testHandlers()
	rec := httptest.NewRecorder()
	h.HandleTwitchOAuthStart(rec, httptest.NewRequest(http.MethodGet, "/auth/twitch/start?role=broadcaster", nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("bad redirect: %v", err)
	}
	if loc.Host != "id.twitch.tv" {
		t.Errorf("redirect host = %q", loc.Host)
	}
	q := loc.Query()
	if q.Get("client_id") != "cid" {
		t.Errorf("client_id = %q", q.Get("client_id"))
	}
	if !strings.Contains(q.Get("scope"), "channel:read:subscriptions") {
		t.Errorf("scope = %q, want broadcaster scopes", q.Get("scope"))
	}
	state := q.Get("state")
	if state == "" {
		t.Fatal("no state in redirect")
	}
	st, ok := h.takeOAuthState(state)
	if !ok || st.role != auth.RoleBroadcaster {
		t.Errorf("stored state = %+v, ok=%v", st, ok)
	}
}

func TestOAuthStartRejectsBadRole(t *testing.T) {
	h := testHandlers()
	for _, target := range []string{"/auth/twitch/start", "/auth/twitch/start?role=admin"} {
		rec := httptest.NewRecorder()
		h.HandleTwitchOAuthStart(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
		}
	}
}

func TestOAuthStartRejectsUnconfigured(t *testing.T) {
	h := testHandlers()
	h.cfg.TwitchClientID = ""
	rec := httptest.NewRecorder()
	h.HandleTwitchOAuthStart(rec, httptest.NewRequest(http.MethodGet, "/auth/twitch/start?role=bot", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestOAuthCallbackRejectsBadState(t *testing.T) {
	h := testHandlers()
	rec := httptest.NewRecorder()
	h.HandleTwitchOAuthCallback(rec, httptest.NewRequest(http.MethodGet, "/auth/twitch/callback?code=abc&state=nope", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown state: status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.HandleTwitchOAuthCallback(rec, httptest.NewRequest(http.MethodGet, "/auth/twitch/callback", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing params: status = %d, want 400", rec.Code)
	}
}

func TestOAuthStateSingleUseAndExpiry(t *testing.T) {
	h := testHandlers()
	h.addOAuthState("s1", oauthState{role: auth.RoleBot, expiry: time.Now().Add(time.Minute)})
	if _, ok := h.takeOAuthState("s1"); !ok {
		t.Fatal("fresh state rejected")
	}
	if _, ok := h.takeOAuthState("s1"); ok {
		t.Error("state accepted twice")
	}

	h.addOAuthState("s2", oauthState{role: auth.RoleBot, expiry: time.Now().Add(-time.Second)})
	if _, ok := h.takeOAuthState("s2"); ok {
		t.Error("expired state accepted")
	}
}
