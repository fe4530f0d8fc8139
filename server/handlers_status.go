package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/onnwee/streamhub/backend/eventsub"
)

// statusResponse is the JSON body of GET /status.
type statusResponse struct {
	Channel           string `json:"channel"`
	ConnectionState   string `json:"connection_state"`
	SessionID         string `json:"session_id,omitempty"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
	OutboundQueue     int    `json:"outbound_queue"`
}

// HandleStatus reports the live view of the event client: connection state,
// current session and how deep the outbound chat queue is.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	st := eventsub.Status{State: eventsub.StateDisconnected.String()}
	if h.eventsubStatus != nil {
		st = h.eventsubStatus()
	}
	depth := 0
	if h.queueDepth != nil {
		depth = h.queueDepth()
	}
	resp := statusResponse{
		Channel:           h.cfg.TwitchChannel,
		ConnectionState:   st.State,
		SessionID:         st.SessionID,
		ReconnectAttempts: st.ReconnectAttempts,
		OutboundQueue:     depth,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}
