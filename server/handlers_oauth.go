package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/onnwee/streamhub/backend/auth"
)

// oauthConfig builds the authorization-code config for one role. The bot and
// broadcaster identities request different scope sets.
func (h *Handlers) oauthConfig(role auth.Role) *oauth2.Config {
	scopes := h.cfg.BotScopes
	if role == auth.RoleBroadcaster {
		scopes = h.cfg.BroadcasterScopes
	}
	return &oauth2.Config{
		ClientID:     h.cfg.TwitchClientID,
		ClientSecret: h.cfg.TwitchClientSecret,
		RedirectURL:  h.cfg.TwitchRedirectURI,
		Scopes:       strings.Fields(scopes),
		Endpoint:     endpoints.Twitch,
	}
}

func (h *Handlers) roleUserID(role auth.Role) string {
	if role == auth.RoleBroadcaster {
		return h.cfg.BroadcasterUserID
	}
	return h.cfg.BotUserID
}

// HandleTwitchOAuthStart initiates an authorization flow for one role
// (?role=bot|broadcaster) by redirecting to Twitch.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.cfg.TwitchClientID == "" || h.cfg.TwitchRedirectURI == "" {
		http.Error(w, "oauth not configured (need TWITCH_CLIENT_ID + TWITCH_REDIRECT_URI)", http.StatusBadRequest)
		return
	}
	role := auth.Role(r.URL.Query().Get("role"))
	if role != auth.RoleBot && role != auth.RoleBroadcaster {
		http.Error(w, "role must be bot or broadcaster", http.StatusBadRequest)
		return
	}
	if h.roleUserID(role) == "" {
		http.Error(w, "user id for role not configured", http.StatusBadRequest)
		return
	}
	// generate state
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", 500)
		return
	}
	st := hex.EncodeToString(b)
	h.addOAuthState(st, oauthState{role: role, expiry: time.Now().Add(10 * time.Minute)})
	http.Redirect(w, r, h.oauthConfig(role).AuthCodeURL(st), http.StatusFound)
}

// HandleTwitchOAuthCallback handles the redirect back from Twitch, exchanges
// the code and stores the credential for the role the state was issued for.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		http.Error(w, "missing code/state", 400)
		return
	}
	st, ok := h.takeOAuthState(state)
	if !ok {
		http.Error(w, "invalid state", 400)
		return
	}
	ctx := r.Context()
	tok, err := h.oauthConfig(st.role).Exchange(ctx, code)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	scopes := grantedScopes(tok)
	rec := &auth.Record{
		Role:         st.role,
		UserID:       h.roleUserID(st.role),
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		Scopes:       strings.Join(scopes, " "),
	}
	if err := h.creds.Upsert(ctx, rec); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	slog.Info("oauth credential stored", slog.String("role", string(st.role)), slog.Int("scopes", len(scopes)))
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"status": "ok", "role": st.role, "scopes": scopes, "expiry": tok.Expiry}); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

// grantedScopes pulls the scope list Twitch attaches to the token response.
func grantedScopes(tok *oauth2.Token) []string {
	raw, ok := tok.Extra("scope").([]any)
	if !ok {
		return nil
	}
	scopes := make([]string, 0, len(raw))
	for _, s := range raw {
		if str, ok := s.(string); ok {
			scopes = append(scopes, str)
		}
	}
	return scopes
}
