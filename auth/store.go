package auth

import (
	"context"
	"time"
)

// Role identifies one of the three OAuth identities the client keeps
// authenticated simultaneously.
type Role string

const (
	// RoleService is the app access token (client-credentials grant). It has
	// no refresh token; it is re-exchanged when close to expiry.
	RoleService Role = "service"
	// RoleBot is the user token the bot identity chats with.
	RoleBot Role = "bot"
	// RoleBroadcaster is the channel owner's user token, required for
	// channel-lifecycle subscriptions and channel management calls.
	RoleBroadcaster Role = "broadcaster"
)

// Record is one persisted credential set for a (role, user id) pair.
type Record struct {
	Role         Role
	UserID       string
	AccessToken  string
	RefreshToken string // empty for RoleService
	ExpiresAt    time.Time
	Scopes       string // space-separated granted scopes
}

// Store is the external keyed credential storage. The manager never reasons
// about the engine behind it.
type Store interface {
	// Load returns the record for (role, userID), or nil when absent.
	Load(ctx context.Context, role Role, userID string) (*Record, error)
	// Upsert stores or replaces the record for (record.Role, record.UserID).
	Upsert(ctx context.Context, rec *Record) error
}
