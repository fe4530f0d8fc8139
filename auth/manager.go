// Package auth owns the three OAuth credential lifecycles the event client
// depends on: the app access token (service role) and the bot/broadcaster
// user tokens. User tokens are cached read-through from a Store and
// refreshed proactively; every successful refresh is written back before the
// token is handed out, so a restart never loses a rotated refresh token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/streamhub/backend/telemetry"
	"github.com/onnwee/streamhub/backend/twitchapi"
)

// ErrCredentialUnavailable reports that no usable token exists for a role and
// refresh could not produce one. Callers disable the dependent capability; the
// process keeps running.
var ErrCredentialUnavailable = errors.New("credential unavailable")

// RefreshFunc performs a provider refresh grant and returns the rotated
// (access, refresh, expiry, scopes).
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// Manager resolves access tokens per role.
//
// Zero-value fields get defaults on first use; Store, Service and Refresh
// must be set for the corresponding roles to be available.
type Manager struct {
	Store   Store
	Service *twitchapi.TokenSource
	Refresh RefreshFunc

	BotUserID         string
	BroadcasterUserID string

	// Margin triggers a refresh when remaining token lifetime is at or below
	// it. Defaults to 5 minutes.
	Margin time.Duration

	mu    sync.Mutex
	cache map[Role]*Record
}

// NewRefreshFunc adapts the Twitch refresh grant to RefreshFunc.
func NewRefreshFunc(clientID, clientSecret string) RefreshFunc {
	return func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		res, err := twitchapi.RefreshToken(ctx, nil, clientID, clientSecret, refreshToken)
		if err != nil {
			return "", "", time.Time{}, "", err
		}
		return res.AccessToken, res.RefreshToken, twitchapi.ComputeExpiry(res.ExpiresIn), strings.Join(res.Scope, " "), nil
	}
}

// Prime loads the bot and broadcaster records from the store once at startup.
// Missing records are logged, not fatal: the role stays unavailable until the
// OAuth bootstrap flow seeds it.
func (m *Manager) Prime(ctx context.Context) {
	for _, p := range []struct {
		role   Role
		userID string
	}{
		{RoleBot, m.BotUserID},
		{RoleBroadcaster, m.BroadcasterUserID},
	} {
		if p.userID == "" {
			slog.Warn("credential role has no configured user id", slog.String("role", string(p.role)))
			continue
		}
		rec, err := m.load(ctx, p.role, p.userID)
		if err != nil {
			slog.Warn("credential load failed", slog.String("role", string(p.role)), slog.Any("err", err))
			continue
		}
		if rec == nil {
			slog.Warn("no stored credential; role unavailable until authorized", slog.String("role", string(p.role)), slog.String("user_id", p.userID))
			continue
		}
		slog.Info("credential loaded", slog.String("role", string(p.role)), slog.String("user_id", p.userID), slog.Time("expires_at", rec.ExpiresAt))
	}
}

// ServiceToken returns the app access token, exchanging client credentials
// transparently when the cached one is near expiry.
func (m *Manager) ServiceToken(ctx context.Context) (string, error) {
	if m.Service == nil {
		return "", fmt.Errorf("service token source not configured: %w", ErrCredentialUnavailable)
	}
	tok, err := m.Service.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("%v: %w", err, ErrCredentialUnavailable)
	}
	return tok, nil
}

// BotToken returns a usable access token for the bot identity.
func (m *Manager) BotToken(ctx context.Context) (string, error) {
	return m.userToken(ctx, RoleBot, m.BotUserID)
}

// BroadcasterToken returns a usable access token for the channel owner.
func (m *Manager) BroadcasterToken(ctx context.Context) (string, error) {
	return m.userToken(ctx, RoleBroadcaster, m.BroadcasterUserID)
}

func (m *Manager) margin() time.Duration {
	if m.Margin > 0 {
		return m.Margin
	}
	return 5 * time.Minute
}

// load fetches a record through the cache. Caller must not hold m.mu.
func (m *Manager) load(ctx context.Context, role Role, userID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(ctx, role, userID)
}

func (m *Manager) loadLocked(ctx context.Context, role Role, userID string) (*Record, error) {
	if m.cache == nil {
		m.cache = make(map[Role]*Record)
	}
	if rec, ok := m.cache[role]; ok && rec != nil && rec.UserID == userID {
		return rec, nil
	}
	if m.Store == nil {
		return nil, nil
	}
	rec, err := m.Store.Load(ctx, role, userID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		m.cache[role] = rec
	}
	return rec, nil
}

func (m *Manager) userToken(ctx context.Context, role Role, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("no user id configured for role %s: %w", role, ErrCredentialUnavailable)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.loadLocked(ctx, role, userID)
	if err != nil {
		return "", fmt.Errorf("load %s credential: %w", role, err)
	}
	if rec == nil {
		return "", fmt.Errorf("no stored credential for role %s: %w", role, ErrCredentialUnavailable)
	}
	if time.Until(rec.ExpiresAt) > m.margin() {
		return rec.AccessToken, nil
	}

	// Inside the margin: refresh now, never hand out a near-stale token.
	if m.Refresh == nil || rec.RefreshToken == "" {
		delete(m.cache, role)
		return "", fmt.Errorf("cannot refresh %s token: %w", role, ErrCredentialUnavailable)
	}
	access, refresh, expiry, scopes, err := m.Refresh(ctx, rec.RefreshToken)
	if err != nil {
		// Likely revoked. Drop the in-memory token so callers fail cleanly
		// instead of retrying with a stale credential.
		delete(m.cache, role)
		telemetry.CountTokenRefreshFailure()
		slog.Warn("token refresh failed", slog.String("role", string(role)), slog.Any("err", err))
		return "", fmt.Errorf("refresh %s token: %w", role, ErrCredentialUnavailable)
	}
	if refresh == "" {
		refresh = rec.RefreshToken
	}
	if scopes == "" {
		scopes = rec.Scopes
	}
	rotated := &Record{
		Role:         role,
		UserID:       userID,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiry,
		Scopes:       strings.TrimSpace(scopes),
	}
	// Persist before returning: the rotated refresh token must survive a
	// restart or the old one becomes unusable on the next refresh.
	if m.Store != nil {
		if err := m.Store.Upsert(ctx, rotated); err != nil {
			delete(m.cache, role)
			return "", fmt.Errorf("persist refreshed %s credential: %w", role, err)
		}
	}
	m.cache[role] = rotated
	slog.Info("token refreshed", slog.String("role", string(role)), slog.Time("expires_at", expiry))
	return rotated.AccessToken, nil
}
