package eventsub

import (
	"encoding/json"
	"fmt"
)

// Wire message types delivered over the EventSub websocket.
const (
	msgWelcome      = "session_welcome"
	msgKeepalive    = "session_keepalive"
	msgNotification = "notification"
	msgReconnect    = "session_reconnect"
	msgRevocation   = "revocation"
)

// envelope is the outer shape of every inbound websocket message.
type envelope struct {
	Metadata struct {
		MessageID           string `json:"message_id"`
		MessageType         string `json:"message_type"`
		MessageTimestamp    string `json:"message_timestamp"`
		SubscriptionType    string `json:"subscription_type"`
		SubscriptionVersion string `json:"subscription_version"`
	} `json:"metadata"`
	Payload json.RawMessage `json:"payload"`
}

// sessionPayload carries the session object from session_welcome and
// session_reconnect messages.
type sessionPayload struct {
	Session struct {
		ID                      string `json:"id"`
		Status                  string `json:"status"`
		KeepaliveTimeoutSeconds int    `json:"keepalive_timeout_seconds"`
		ReconnectURL            string `json:"reconnect_url"`
	} `json:"session"`
}

// notificationPayload carries one subscription event.
type notificationPayload struct {
	Subscription struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"subscription"`
	Event json.RawMessage `json:"event"`
}

// revocationPayload reports a subscription the platform turned off.
type revocationPayload struct {
	Subscription struct {
		ID     string `json:"id"`
		Type   string `json:"type"`
		Status string `json:"status"`
	} `json:"subscription"`
}

func parseEnvelope(data []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed eventsub message: %w", err)
	}
	if env.Metadata.MessageType == "" {
		return nil, fmt.Errorf("eventsub message missing message_type")
	}
	return &env, nil
}
