package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sasha-s/go-deadlock"

	"racecore/pkg/core"
)

const (
	writeWait    = 2 * time.Second
	pongWait     = 30 * time.Second
	pingInterval = 10 * time.Second
)

// StatusResponse is the API response structure.
type StatusResponse struct {
	*core.Snapshot
	Running bool `json:"running"`
}

// StatusHandler keeps the latest published snapshot and fans it out to
// websocket subscribers.
type StatusHandler struct {
	mu          deadlock.RWMutex
	snap        *core.Snapshot
	subscribers map[chan *core.Snapshot]struct{}
	upgrader    websocket.Upgrader
}

func NewStatusHandler() *StatusHandler {
	return &StatusHandler{
		subscribers: make(map[chan *core.Snapshot]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Update implements core.StatusSink. Slow subscribers only ever see the most
// recent snapshot.
func (h *StatusHandler) Update(snap *core.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snap = snap

	for ch := range h.subscribers {
		select {
		case ch <- snap:
		default:
			// Drop the stale one and retry once.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// Latest returns the last snapshot, or nil before the first frame.
func (h *StatusHandler) Latest() *core.Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snap
}

func (h *StatusHandler) subscribe() chan *core.Snapshot {
	ch := make(chan *core.Snapshot, 1)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *StatusHandler) unsubscribe(ch chan *core.Snapshot) {
	h.mu.Lock()
	delete(h.subscribers, ch)
	h.mu.Unlock()
}

// Subscribers returns the number of connected stream clients.
func (h *StatusHandler) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// HandleStatus returns the latest snapshot.
// GET /api/status
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.Latest()
	resp := StatusResponse{Snapshot: snap, Running: snap != nil}
	if snap == nil {
		resp.Snapshot = &core.Snapshot{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode status response", "error", err)
	}
}

// HandleStream pushes every published HUD frame over a websocket.
// GET /api/status/stream
func (h *StatusHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Status stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := h.subscribe()
	defer h.unsubscribe(ch)
	slog.Debug("Status stream connected", "remote", r.RemoteAddr)

	// The reader only exists to process control frames and notice the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			slog.Debug("Status stream closed", "remote", r.RemoteAddr)
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case snap := <-ch:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteJSON(snap.HUDs); err != nil {
				slog.Debug("Status stream write failed", "error", err)
				return
			}
		}
	}
}
