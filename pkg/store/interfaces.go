package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("not found")

// Session describes one recorded run.
type Session struct {
	ID         string    `json:"id"`
	Track      string    `json:"track"`
	Cars       int       `json:"cars"`
	FrameCount int64     `json:"frame_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Frame is one stored input frame. Inputs and Commands hold the encoded
// per-car input and race control commands exactly as the recorder wrote them.
// Commands is nil for frames without any.
type Frame struct {
	Index    int64
	Dt       float64
	Inputs   []byte
	Commands []byte
}

// SessionStore handles recorded session metadata.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	LatestSession(ctx context.Context) (*Session, error)
	ListSessions(ctx context.Context, limit int) ([]*Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// FrameStore handles the frames of a session.
type FrameStore interface {
	AppendFrames(ctx context.Context, sessionID string, frames []Frame) error
	// GetFrames returns up to limit frames with index >= from, in order.
	GetFrames(ctx context.Context, sessionID string, from int64, limit int) ([]Frame, error)
}

// StateStore handles small persistent key/value state.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
	DeleteState(ctx context.Context, key string) error
}
