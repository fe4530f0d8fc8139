// Package server exposes the HTTP API handlers.
package server

import (
	"database/sql"
	"sync"
	"time"

	"github.com/onnwee/streamhub/backend/auth"
	"github.com/onnwee/streamhub/backend/chat"
	"github.com/onnwee/streamhub/backend/config"
	dbpkg "github.com/onnwee/streamhub/backend/db"
	"github.com/onnwee/streamhub/backend/eventsub"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
)

// oauthState tracks one pending authorization flow: which role it will
// credential, and when the state expires.
type oauthState struct {
	role   auth.Role
	expiry time.Time
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db    *sql.DB
	cfg   *config.Config
	creds *dbpkg.CredentialStore

	eventsubStatus func() eventsub.Status
	queueDepth     func() int

	stateStore map[string]oauthState
	stateMu    sync.RWMutex
}

// NewHandlers creates a new Handlers instance with the given dependencies.
// The event manager and dispatcher may be nil (status reports defaults).
func NewHandlers(db *sql.DB, cfg *config.Config, es *eventsub.Manager, disp *chat.Dispatcher) *Handlers {
	h := &Handlers{
		db:         db,
		cfg:        cfg,
		creds:      &dbpkg.CredentialStore{DB: db},
		stateStore: make(map[string]oauthState),
	}
	if es != nil {
		h.eventsubStatus = es.Status
	}
	if disp != nil {
		h.queueDepth = disp.QueueDepth
	}
	return h
}

// cleanExpiredStates removes expired OAuth states from the store.
// Callers must hold stateMu.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, st := range h.stateStore {
		if now.After(st.expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState adds a new OAuth state to the store with cleanup if needed.
func (h *Handlers) addOAuthState(state string, st oauthState) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	// Clean expired states periodically to prevent unbounded growth
	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}

	// Refuse to grow past the cap; the flow fails, which beats memory
	// exhaustion from a state-spamming client.
	if len(h.stateStore) >= maxOAuthStates {
		return
	}

	h.stateStore[state] = st
}

// takeOAuthState consumes a pending state, returning false when it is
// unknown or expired. States are single use.
func (h *Handlers) takeOAuthState(state string) (oauthState, bool) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	st, ok := h.stateStore[state]
	if !ok {
		return oauthState{}, false
	}
	delete(h.stateStore, state)
	if time.Now().After(st.expiry) {
		return oauthState{}, false
	}
	return st, true
}
