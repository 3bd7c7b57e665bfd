// Package session keeps the identity and event timeline of the current race
// session.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"racecore/pkg/logging"
)

// maxEvents bounds the in-memory timeline.
const maxEvents = 200

// Manager handles the transient race session context.
type Manager struct {
	mu      sync.RWMutex
	id      string
	started time.Time
	events  []logging.Event
	counts  map[string]int
}

// NewManager starts a fresh session.
func NewManager() *Manager {
	m := &Manager{}
	m.reset()
	return m
}

func (m *Manager) reset() {
	m.id = uuid.New().String()
	m.started = time.Now()
	m.events = nil
	m.counts = make(map[string]int)
}

// AddEvent records an event in the timeline and appends it to the events log.
func (m *Manager) AddEvent(event *logging.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.events = append(m.events, *event)
	if len(m.events) > maxEvents {
		m.events = m.events[len(m.events)-maxEvents:]
	}
	m.counts[event.Type]++
	m.mu.Unlock()

	logging.LogEvent(event)
}

// State is the serializable view of the session.
type State struct {
	ID        string          `json:"id"`
	StartedAt time.Time       `json:"started_at"`
	Events    []logging.Event `json:"events"`
	Counts    map[string]int  `json:"counts"`
}

// GetState returns a copy of the session state.
func (m *Manager) GetState() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int, len(m.counts))
	for k, v := range m.counts {
		counts[k] = v
	}
	return State{
		ID:        m.id,
		StartedAt: m.started,
		Events:    append([]logging.Event(nil), m.events...),
		Counts:    counts,
	}
}

// ID returns the current session id.
func (m *Manager) ID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.id
}

// ResetSession starts a new session with an empty timeline.
func (m *Manager) ResetSession(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
}
