package eventsub

import (
	"encoding/json"
	"fmt"
	"time"
)

// Normalizer maps raw notification payloads into the Event union. One mapping
// rule per subscription type; unknown types yield an error the caller logs
// and drops, so platform additions never break the connection.
type Normalizer struct {
	// BotUserID marks chat messages sent by the bot itself (Self flag).
	BotUserID string
}

// Normalize converts one notification event into its tagged variant.
func (n *Normalizer) Normalize(subscriptionType string, raw json.RawMessage) (Event, error) {
	switch subscriptionType {
	case "channel.chat.message":
		return n.chatMessage(raw)
	case "channel.subscribe":
		return n.subscribe(raw)
	case "channel.subscription.message":
		return n.resub(raw)
	case "channel.subscription.gift":
		return n.giftSubs(raw)
	case "channel.cheer":
		return n.cheer(raw)
	case "channel.raid":
		return n.raid(raw)
	case "channel.follow":
		return n.follow(raw)
	default:
		return nil, fmt.Errorf("unknown event type %q", subscriptionType)
	}
}

func (n *Normalizer) chatMessage(raw json.RawMessage) (Event, error) {
	var ev struct {
		ChatterUserID    string `json:"chatter_user_id"`
		ChatterUserLogin string `json:"chatter_user_login"`
		ChatterUserName  string `json:"chatter_user_name"`
		MessageID        string `json:"message_id"`
		Message          struct {
			Text string `json:"text"`
		} `json:"message"`
		Badges []struct {
			SetID string `json:"set_id"`
			ID    string `json:"id"`
		} `json:"badges"`
		Cheer *struct {
			Bits int `json:"bits"`
		} `json:"cheer"`
		Reply *struct {
			ParentMessageID string `json:"parent_message_id"`
		} `json:"reply"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode chat message: %w", err)
	}
	out := ChatMessage{
		MessageID: ev.MessageID,
		UserID:    ev.ChatterUserID,
		UserLogin: ev.ChatterUserLogin,
		UserName:  ev.ChatterUserName,
		Text:      ev.Message.Text,
		Self:      ev.ChatterUserID != "" && ev.ChatterUserID == n.BotUserID,
	}
	for _, b := range ev.Badges {
		switch b.SetID {
		case "moderator":
			out.IsMod = true
		case "broadcaster":
			out.IsBroadcaster = true
		case "vip":
			out.IsVIP = true
		}
	}
	if ev.Cheer != nil {
		out.Bits = ev.Cheer.Bits
	}
	if ev.Reply != nil {
		out.ReplyParentID = ev.Reply.ParentMessageID
	}
	return out, nil
}

func (n *Normalizer) subscribe(raw json.RawMessage) (Event, error) {
	var ev struct {
		UserID    string `json:"user_id"`
		UserLogin string `json:"user_login"`
		UserName  string `json:"user_name"`
		Tier      string `json:"tier"`
		IsGift    bool   `json:"is_gift"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode subscribe: %w", err)
	}
	return Subscribe{
		UserID: ev.UserID, UserLogin: ev.UserLogin, UserName: ev.UserName,
		Tier: ev.Tier, IsGift: ev.IsGift,
	}, nil
}

func (n *Normalizer) resub(raw json.RawMessage) (Event, error) {
	var ev struct {
		UserID           string `json:"user_id"`
		UserLogin        string `json:"user_login"`
		UserName         string `json:"user_name"`
		Tier             string `json:"tier"`
		CumulativeMonths int    `json:"cumulative_months"`
		StreakMonths     *int   `json:"streak_months"` // null when the user hides their streak
		Message          struct {
			Text string `json:"text"`
		} `json:"message"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode resub: %w", err)
	}
	out := Resub{
		UserID: ev.UserID, UserLogin: ev.UserLogin, UserName: ev.UserName,
		Tier:             ev.Tier,
		CumulativeMonths: ev.CumulativeMonths,
		Text:             ev.Message.Text,
	}
	if ev.StreakMonths != nil {
		out.StreakMonths = *ev.StreakMonths
	}
	return out, nil
}

func (n *Normalizer) giftSubs(raw json.RawMessage) (Event, error) {
	var ev struct {
		UserID          string `json:"user_id"`
		UserLogin       string `json:"user_login"`
		UserName        string `json:"user_name"`
		Tier            string `json:"tier"`
		Total           int    `json:"total"`
		CumulativeTotal *int   `json:"cumulative_total"` // null for anonymous gifters
		IsAnonymous     bool   `json:"is_anonymous"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode gift subs: %w", err)
	}
	out := GiftSubs{
		UserID: ev.UserID, UserLogin: ev.UserLogin, UserName: ev.UserName,
		Tier: ev.Tier, Total: ev.Total, Anonymous: ev.IsAnonymous,
	}
	if ev.CumulativeTotal != nil {
		out.CumulativeTotal = *ev.CumulativeTotal
	}
	return out, nil
}

func (n *Normalizer) cheer(raw json.RawMessage) (Event, error) {
	var ev struct {
		UserID      string `json:"user_id"`
		UserLogin   string `json:"user_login"`
		UserName    string `json:"user_name"`
		Bits        int    `json:"bits"`
		Message     string `json:"message"`
		IsAnonymous bool   `json:"is_anonymous"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode cheer: %w", err)
	}
	return Cheer{
		UserID: ev.UserID, UserLogin: ev.UserLogin, UserName: ev.UserName,
		Bits: ev.Bits, Text: ev.Message, Anonymous: ev.IsAnonymous,
	}, nil
}

func (n *Normalizer) raid(raw json.RawMessage) (Event, error) {
	var ev struct {
		FromBroadcasterUserID    string `json:"from_broadcaster_user_id"`
		FromBroadcasterUserLogin string `json:"from_broadcaster_user_login"`
		FromBroadcasterUserName  string `json:"from_broadcaster_user_name"`
		Viewers                  int    `json:"viewers"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode raid: %w", err)
	}
	return Raid{
		FromUserID:    ev.FromBroadcasterUserID,
		FromUserLogin: ev.FromBroadcasterUserLogin,
		FromUserName:  ev.FromBroadcasterUserName,
		Viewers:       ev.Viewers,
	}, nil
}

func (n *Normalizer) follow(raw json.RawMessage) (Event, error) {
	var ev struct {
		UserID     string `json:"user_id"`
		UserLogin  string `json:"user_login"`
		UserName   string `json:"user_name"`
		FollowedAt string `json:"followed_at"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode follow: %w", err)
	}
	out := Follow{UserID: ev.UserID, UserLogin: ev.UserLogin, UserName: ev.UserName}
	if ev.FollowedAt != "" {
		t, err := time.Parse(time.RFC3339, ev.FollowedAt)
		if err == nil {
			out.FollowedAt = t
		}
	}
	return out, nil
}
