package auth

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// StartRefresher launches a goroutine that periodically exercises the bot
// and broadcaster tokens, so refreshes happen on schedule instead of on the
// first API call after expiry. A role with no stored credential is skipped
// quietly; the OAuth bootstrap flow seeds it later.
//
// interval: how often to wake up and check. Checks are jittered to spread
// load when several instances share one database.
func (m *Manager) StartRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			// Per-iteration jitter (±20% of interval) for scheduling diversity.
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
			m.checkRoles(ctx)
		}
	}()
}

func (m *Manager) checkRoles(ctx context.Context) {
	for _, p := range []struct {
		role   Role
		userID string
	}{
		{RoleBot, m.BotUserID},
		{RoleBroadcaster, m.BroadcasterUserID},
	} {
		if p.userID == "" {
			continue
		}
		// userToken refreshes anything inside the margin as a side effect.
		if _, err := m.userToken(ctx, p.role, p.userID); err != nil {
			slog.Debug("scheduled token check", slog.String("role", string(p.role)), slog.Any("err", err))
		}
	}
}
