package eventsub

import (
	"encoding/json"
	"testing"
)

func TestNormalizeChatMessage(t *testing.T) {
	n := &Normalizer{BotUserID: "bot-1"}
	raw := json.RawMessage(`{
		"chatter_user_id": "u2",
		"chatter_user_login": "viewer",
		"chatter_user_name": "Viewer",
		"message_id": "m1",
		"message": {"text": "hello there"},
		"badges": [{"set_id": "moderator", "id": "1"}, {"set_id": "vip", "id": "1"}],
		"cheer": {"bits": 100},
		"reply": {"parent_message_id": "m0"}
	}`)
	ev, err := n.Normalize("channel.chat.message", raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	msg, ok := ev.(ChatMessage)
	if !ok {
		t.Fatalf("got %T, want ChatMessage", ev)
	}
	if msg.Text != "hello there" || msg.UserLogin != "viewer" || msg.MessageID != "m1" {
		t.Errorf("unexpected fields: %+v", msg)
	}
	if !msg.IsMod || !msg.IsVIP || msg.IsBroadcaster {
		t.Errorf("badge flags wrong: %+v", msg)
	}
	if msg.Bits != 100 || msg.ReplyParentID != "m0" {
		t.Errorf("cheer/reply wrong: %+v", msg)
	}
	if msg.Self {
		t.Error("Self should be false for a viewer message")
	}
}

func TestNormalizeChatMessageSelf(t *testing.T) {
	n := &Normalizer{BotUserID: "bot-1"}
	raw := json.RawMessage(`{"chatter_user_id": "bot-1", "message": {"text": "pong"}}`)
	ev, err := n.Normalize("channel.chat.message", raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !ev.(ChatMessage).Self {
		t.Error("Self should be true when the chatter is the bot")
	}
}

func TestNormalizeResubHiddenStreak(t *testing.T) {
	n := &Normalizer{}
	raw := json.RawMessage(`{
		"user_id": "u1", "user_login": "fan", "user_name": "Fan",
		"tier": "1000", "cumulative_months": 14, "streak_months": null,
		"message": {"text": "over a year!"}
	}`)
	ev, err := n.Normalize("channel.subscription.message", raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	r := ev.(Resub)
	if r.CumulativeMonths != 14 || r.StreakMonths != 0 {
		t.Errorf("months wrong: %+v", r)
	}
	if r.Text != "over a year!" {
		t.Errorf("Text = %q", r.Text)
	}
}

func TestNormalizeAnonymousGift(t *testing.T) {
	n := &Normalizer{}
	raw := json.RawMessage(`{
		"user_id": null, "user_login": null, "user_name": null,
		"tier": "1000", "total": 5, "cumulative_total": null, "is_anonymous": true
	}`)
	ev, err := n.Normalize("channel.subscription.gift", raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	g := ev.(GiftSubs)
	if !g.Anonymous || g.Total != 5 || g.CumulativeTotal != 0 {
		t.Errorf("gift wrong: %+v", g)
	}
}

func TestNormalizeRaid(t *testing.T) {
	n := &Normalizer{}
	raw := json.RawMessage(`{
		"from_broadcaster_user_id": "u9",
		"from_broadcaster_user_login": "raider",
		"from_broadcaster_user_name": "Raider",
		"viewers": 250
	}`)
	ev, err := n.Normalize("channel.raid", raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	r := ev.(Raid)
	if r.FromUserLogin != "raider" || r.Viewers != 250 {
		t.Errorf("raid wrong: %+v", r)
	}
}

func TestNormalizeFollowTimestamp(t *testing.T) {
	n := &Normalizer{}
	raw := json.RawMessage(`{"user_id": "u1", "user_login": "newfan", "followed_at": "2026-08-30T12:00:00Z"}`)
	ev, err := n.Normalize("channel.follow", raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	f := ev.(Follow)
	if f.FollowedAt.IsZero() {
		t.Error("FollowedAt not parsed")
	}
}

func TestNormalizeUnknownType(t *testing.T) {
	n := &Normalizer{}
	if _, err := n.Normalize("channel.shoutout.create", json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected error for unknown subscription type")
	}
}
