package eventsub

import (
	"context"
	"log/slog"

	"github.com/onnwee/streamhub/backend/telemetry"
	"github.com/onnwee/streamhub/backend/twitchapi"
)

// tokenRole picks which OAuth identity authorizes a subscription. Chat
// subscriptions ride on the bot token; channel-level subscriptions need the
// broadcaster's authorization.
type tokenRole int

const (
	roleBot tokenRole = iota
	roleBroadcaster
)

// descriptor is one entry of the subscription catalog.
type descriptor struct {
	Type      string
	Version   string
	Role      tokenRole
	Condition func(o *Orchestrator) map[string]string
}

func broadcasterOnly(o *Orchestrator) map[string]string {
	return map[string]string{"broadcaster_user_id": o.BroadcasterUserID}
}

// catalog is every subscription registered on a fresh session.
var catalog = []descriptor{
	{Type: "channel.chat.message", Version: "1", Role: roleBot, Condition: func(o *Orchestrator) map[string]string {
		return map[string]string{"broadcaster_user_id": o.BroadcasterUserID, "user_id": o.BotUserID}
	}},
	{Type: "channel.subscribe", Version: "1", Role: roleBroadcaster, Condition: broadcasterOnly},
	{Type: "channel.subscription.message", Version: "1", Role: roleBroadcaster, Condition: broadcasterOnly},
	{Type: "channel.subscription.gift", Version: "1", Role: roleBroadcaster, Condition: broadcasterOnly},
	{Type: "channel.cheer", Version: "1", Role: roleBroadcaster, Condition: broadcasterOnly},
	{Type: "channel.raid", Version: "1", Role: roleBroadcaster, Condition: func(o *Orchestrator) map[string]string {
		return map[string]string{"to_broadcaster_user_id": o.BroadcasterUserID}
	}},
	{Type: "channel.follow", Version: "2", Role: roleBroadcaster, Condition: func(o *Orchestrator) map[string]string {
		return map[string]string{"broadcaster_user_id": o.BroadcasterUserID, "moderator_user_id": o.BotUserID}
	}},
}

// SubscriptionCreator creates one EventSub subscription. Satisfied by
// *twitchapi.Client.
type SubscriptionCreator interface {
	CreateEventSubSubscription(ctx context.Context, token string, sub *twitchapi.SubscriptionRequest) error
}

// Orchestrator registers the subscription catalog against a welcomed
// session. Subscriptions are bound to the websocket session, so a brand new
// session always starts from zero; nothing is ever torn down here.
type Orchestrator struct {
	API               SubscriptionCreator
	Tokens            twitchapi.TokenProvider
	BroadcasterUserID string
	BotUserID         string
}

// RegisterAll creates every catalog subscription on the given session. A
// rejected subscription is logged and skipped so one revoked scope cannot
// take down the whole feed.
func (o *Orchestrator) RegisterAll(ctx context.Context, sessionID string) (registered, failed int) {
	for _, d := range catalog {
		tok, err := o.token(ctx, d.Role)
		if err != nil {
			slog.Error("eventsub subscription skipped, no token",
				"type", d.Type, "error", err)
			telemetry.CountSubscriptionFailure()
			failed++
			continue
		}
		req := &twitchapi.SubscriptionRequest{
			Type:      d.Type,
			Version:   d.Version,
			Condition: d.Condition(o),
		}
		req.Transport.Method = "websocket"
		req.Transport.SessionID = sessionID
		if err := o.API.CreateEventSubSubscription(ctx, tok, req); err != nil {
			slog.Error("eventsub subscription rejected", "type", d.Type, "error", err)
			telemetry.CountSubscriptionFailure()
			failed++
			continue
		}
		slog.Info("eventsub subscription registered", "type", d.Type, "version", d.Version)
		registered++
	}
	return registered, failed
}

func (o *Orchestrator) token(ctx context.Context, r tokenRole) (string, error) {
	if r == roleBot {
		return o.Tokens.BotToken(ctx)
	}
	return o.Tokens.BroadcasterToken(ctx)
}
