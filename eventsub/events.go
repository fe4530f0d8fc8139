package eventsub

import "time"

// EventType discriminates the normalized event variants.
type EventType string

const (
	EventChatMessage EventType = "chat_message"
	EventSubscribe   EventType = "subscribe"
	EventResub       EventType = "resub"
	EventGiftSubs    EventType = "gift_subs"
	EventCheer       EventType = "cheer"
	EventRaid        EventType = "raid"
	EventFollow      EventType = "follow"
)

// Event is the normalized form of one inbound notification. It is a sealed
// union: the only implementations are the structs in this file, so consumers
// can switch exhaustively on the concrete type or on Type().
type Event interface {
	Type() EventType
}

// ChatMessage is one chat line, with capability flags derived from badges.
type ChatMessage struct {
	MessageID     string
	UserID        string
	UserLogin     string
	UserName      string
	Text          string
	Bits          int
	ReplyParentID string
	IsMod         bool
	IsBroadcaster bool
	IsVIP         bool
	Self          bool // sent by the bot's own identity
}

func (ChatMessage) Type() EventType { return EventChatMessage }

// Subscribe is a first-time sub (possibly received as a gift).
type Subscribe struct {
	UserID    string
	UserLogin string
	UserName  string
	Tier      string
	IsGift    bool
}

func (Subscribe) Type() EventType { return EventSubscribe }

// Resub is a resubscription share, with the viewer's optional message.
type Resub struct {
	UserID           string
	UserLogin        string
	UserName         string
	Tier             string
	CumulativeMonths int
	StreakMonths     int
	Text             string
}

func (Resub) Type() EventType { return EventResub }

// GiftSubs is a batch of gifted subs from one gifter.
type GiftSubs struct {
	UserID          string
	UserLogin       string
	UserName        string
	Tier            string
	Total           int
	CumulativeTotal int
	Anonymous       bool
}

func (GiftSubs) Type() EventType { return EventGiftSubs }

// Cheer is a bits cheer.
type Cheer struct {
	UserID    string
	UserLogin string
	UserName  string
	Bits      int
	Text      string
	Anonymous bool
}

func (Cheer) Type() EventType { return EventCheer }

// Raid is an incoming raid.
type Raid struct {
	FromUserID    string
	FromUserLogin string
	FromUserName  string
	Viewers       int
}

func (Raid) Type() EventType { return EventRaid }

// Follow is a new follower.
type Follow struct {
	UserID     string
	UserLogin  string
	UserName   string
	FollowedAt time.Time
}

func (Follow) Type() EventType { return EventFollow }
