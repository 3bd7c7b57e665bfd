package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"racecore/pkg/logging"
	"racecore/pkg/session"
	"racecore/pkg/store"
)

// SessionProvider provides access to the live session state.
type SessionProvider interface {
	GetState() session.State
}

// ReplayLister lists recorded replay sessions.
type ReplayLister interface {
	ListSessions(ctx context.Context, limit int) ([]*store.Session, error)
}

// SessionHandler handles session and replay endpoints.
type SessionHandler struct {
	session SessionProvider
	replays ReplayLister
}

// NewSessionHandler creates a new SessionHandler. Returns nil without a session.
// The replay lister is optional.
func NewSessionHandler(sess SessionProvider, replays ReplayLister) *SessionHandler {
	if sess == nil {
		return nil
	}
	return &SessionHandler{session: sess, replays: replays}
}

// HandleSession returns the live session with its event timeline.
// GET /api/session
func (h *SessionHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	state := h.session.GetState()
	if state.Events == nil {
		state.Events = []logging.Event{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(state); err != nil {
		slog.Error("Failed to encode session", "error", err)
	}
}

// HandleReplays lists recorded sessions, newest first.
// GET /api/replays?limit=N
func (h *SessionHandler) HandleReplays(w http.ResponseWriter, r *http.Request) {
	sessions := []*store.Session{}
	if h.replays != nil {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		list, err := h.replays.ListSessions(r.Context(), limit)
		if err != nil {
			slog.Error("Failed to list replays", "error", err)
			http.Error(w, "failed to list replays", http.StatusInternalServerError)
			return
		}
		if list != nil {
			sessions = list
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(sessions); err != nil {
		slog.Error("Failed to encode replays", "error", err)
	}
}
