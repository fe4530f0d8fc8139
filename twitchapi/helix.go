// Package twitchapi contains clients for the Twitch OAuth and Helix APIs:
// token grants, EventSub subscription registration, chat message delivery,
// and the one-shot channel management calls used by command handlers.
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

const helixBase = "https://api.twitch.tv/helix"

// TokenProvider supplies an access token per credential role. Satisfied by
// *auth.Manager.
type TokenProvider interface {
	ServiceToken(ctx context.Context) (string, error)
	BotToken(ctx context.Context) (string, error)
	BroadcasterToken(ctx context.Context) (string, error)
}

// Client issues Helix API calls using the appropriate token role per endpoint.
type Client struct {
	ClientID   string
	Tokens     TokenProvider
	HTTPClient *http.Client
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// do performs one authenticated Helix request. A nil out skips body decoding.
func (c *Client) do(ctx context.Context, method, path, token string, query url.Values, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, helixBase+path, rd)
	if err != nil {
		return err
	}
	if query != nil {
		req.URL.RawQuery = query.Encode()
	}
	req.Header.Set("Client-Id", c.ClientID)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("helix %s %s failed: %s: %s", method, path, resp.Status, string(b))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// SendChatMessage posts one chat message as the bot. This is the call behind
// the rate-limited outbound queue; everything else in this file is a direct
// one-shot.
func (c *Client) SendChatMessage(ctx context.Context, broadcasterID, senderID, text, replyParentID string) error {
	tok, err := c.Tokens.BotToken(ctx)
	if err != nil {
		return err
	}
	payload := map[string]string{
		"broadcaster_id": broadcasterID,
		"sender_id":      senderID,
		"message":        text,
	}
	if replyParentID != "" {
		payload["reply_parent_message_id"] = replyParentID
	}
	var body struct {
		Data []struct {
			IsSent     bool `json:"is_sent"`
			DropReason *struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"drop_reason"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/chat/messages", tok, nil, payload, &body); err != nil {
		return err
	}
	if len(body.Data) > 0 && !body.Data[0].IsSent {
		if dr := body.Data[0].DropReason; dr != nil {
			return fmt.Errorf("chat message dropped: %s: %s", dr.Code, dr.Message)
		}
		return fmt.Errorf("chat message dropped")
	}
	return nil
}

// SubscriptionRequest is the body of one EventSub subscription registration.
type SubscriptionRequest struct {
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	Transport struct {
		Method    string `json:"method"`
		SessionID string `json:"session_id"`
	} `json:"transport"`
}

// CreateEventSubSubscription registers one websocket-transport subscription
// with the given user token (role is decided by the caller per descriptor).
func (c *Client) CreateEventSubSubscription(ctx context.Context, token string, sub *SubscriptionRequest) error {
	return c.do(ctx, http.MethodPost, "/eventsub/subscriptions", token, nil, sub, nil)
}

// SendAnnouncement posts a highlighted announcement in chat as the bot,
// moderating on behalf of the broadcaster.
func (c *Client) SendAnnouncement(ctx context.Context, broadcasterID, moderatorID, text, color string) error {
	tok, err := c.Tokens.BroadcasterToken(ctx)
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	q.Set("moderator_id", moderatorID)
	payload := map[string]string{"message": text}
	if color != "" {
		payload["color"] = color
	}
	return c.do(ctx, http.MethodPost, "/chat/announcements", tok, q, payload, nil)
}

// CreateClip captures a clip of the live broadcast and returns its id and edit URL.
func (c *Client) CreateClip(ctx context.Context, broadcasterID string) (id, editURL string, err error) {
	tok, err := c.Tokens.BroadcasterToken(ctx)
	if err != nil {
		return "", "", err
	}
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	var body struct {
		Data []struct {
			ID      string `json:"id"`
			EditURL string `json:"edit_url"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/clips", tok, q, nil, &body); err != nil {
		return "", "", err
	}
	if len(body.Data) == 0 {
		return "", "", fmt.Errorf("empty clip response")
	}
	return body.Data[0].ID, body.Data[0].EditURL, nil
}

// CreatePoll starts a channel poll and returns the poll id.
func (c *Client) CreatePoll(ctx context.Context, broadcasterID, title string, choices []string, durationSeconds int) (string, error) {
	tok, err := c.Tokens.BroadcasterToken(ctx)
	if err != nil {
		return "", err
	}
	type choice struct {
		Title string `json:"title"`
	}
	cs := make([]choice, 0, len(choices))
	for _, t := range choices {
		cs = append(cs, choice{Title: t})
	}
	payload := map[string]any{
		"broadcaster_id": broadcasterID,
		"title":          title,
		"choices":        cs,
		"duration":       durationSeconds,
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/polls", tok, nil, payload, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("empty poll response")
	}
	return body.Data[0].ID, nil
}

// EndPoll terminates a running poll. status is "TERMINATED" (results shown)
// or "ARCHIVED" (hidden).
func (c *Client) EndPoll(ctx context.Context, broadcasterID, pollID, status string) error {
	tok, err := c.Tokens.BroadcasterToken(ctx)
	if err != nil {
		return err
	}
	payload := map[string]string{
		"broadcaster_id": broadcasterID,
		"id":             pollID,
		"status":         status,
	}
	return c.do(ctx, http.MethodPatch, "/polls", tok, nil, payload, nil)
}

// UpdateChannel modifies the stream title and/or category. Empty fields are
// left unchanged.
func (c *Client) UpdateChannel(ctx context.Context, broadcasterID, title, gameID string) error {
	tok, err := c.Tokens.BroadcasterToken(ctx)
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	payload := map[string]string{}
	if title != "" {
		payload["title"] = title
	}
	if gameID != "" {
		payload["game_id"] = gameID
	}
	if len(payload) == 0 {
		return fmt.Errorf("nothing to update")
	}
	return c.do(ctx, http.MethodPatch, "/channels", tok, q, payload, nil)
}

// Chatter is one user currently connected to chat.
type Chatter struct {
	UserID    string `json:"user_id"`
	UserLogin string `json:"user_login"`
	UserName  string `json:"user_name"`
}

// GetChatters lists users currently in the broadcaster's chat.
func (c *Client) GetChatters(ctx context.Context, broadcasterID, moderatorID string) ([]Chatter, error) {
	tok, err := c.Tokens.BroadcasterToken(ctx)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	q.Set("moderator_id", moderatorID)
	q.Set("first", "1000")
	var body struct {
		Data []Chatter `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/chat/chatters", tok, q, nil, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// Emote is one channel emote.
type Emote struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// GetChannelEmotes lists the broadcaster's custom emotes (app token suffices).
func (c *Client) GetChannelEmotes(ctx context.Context, broadcasterID string) ([]Emote, error) {
	tok, err := c.Tokens.ServiceToken(ctx)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	var body struct {
		Data []Emote `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/chat/emotes", tok, q, nil, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// GetUserID resolves a login name to its user ID (app token suffices).
func (c *Client) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	tok, err := c.Tokens.ServiceToken(ctx)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("login", login)
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/users", tok, q, nil, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user not found")
	}
	return body.Data[0].ID, nil
}
