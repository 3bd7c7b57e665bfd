package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"racecore/pkg/sim"
	"racecore/pkg/store"
)

// LatestSession selects the most recently recorded session.
const LatestSession = "latest"

const pageSize = 500

// Player feeds a recorded session back as an input source, frame by frame.
type Player struct {
	store   Store
	session *store.Session

	mu     sync.Mutex
	buf    []store.Frame
	pos    int
	next   int64
	done   bool
	closed bool
}

// NewPlayer opens a recorded session. An empty id or "latest" picks the most
// recent one.
func NewPlayer(ctx context.Context, s Store, sessionID string) (*Player, error) {
	var (
		sess *store.Session
		err  error
	)
	if sessionID == "" || sessionID == LatestSession {
		sess, err = s.LatestSession(ctx)
	} else {
		sess, err = s.GetSession(ctx, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open replay: %w", err)
	}
	return &Player{store: s, session: sess}, nil
}

// Session returns the metadata of the session being played.
func (p *Player) Session() *store.Session {
	return p.session
}

// NextFrame implements sim.InputSource.
func (p *Player) NextFrame(ctx context.Context) (sim.Frame, error) {
	if err := ctx.Err(); err != nil {
		return sim.Frame{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return sim.Frame{}, sim.ErrClosed
	}
	if p.pos >= len(p.buf) {
		if err := p.fill(ctx); err != nil {
			return sim.Frame{}, err
		}
	}

	f := p.buf[p.pos]
	p.pos++

	var inputs []sim.Input
	if len(f.Inputs) > 0 {
		if err := json.Unmarshal(f.Inputs, &inputs); err != nil {
			return sim.Frame{}, fmt.Errorf("failed to decode frame %d: %w", f.Index, err)
		}
	}
	var commands []sim.Command
	if len(f.Commands) > 0 {
		if err := json.Unmarshal(f.Commands, &commands); err != nil {
			return sim.Frame{}, fmt.Errorf("failed to decode commands of frame %d: %w", f.Index, err)
		}
	}
	return sim.Frame{Dt: f.Dt, Inputs: inputs, Commands: commands}, nil
}

func (p *Player) fill(ctx context.Context) error {
	if p.done {
		return sim.ErrExhausted
	}
	page, err := p.store.GetFrames(ctx, p.session.ID, p.next, pageSize)
	if err != nil {
		return fmt.Errorf("failed to load frames from %d: %w", p.next, err)
	}
	if len(page) < pageSize {
		p.done = true
	}
	if len(page) == 0 {
		return sim.ErrExhausted
	}
	p.buf, p.pos = page, 0
	p.next = page[len(page)-1].Index + 1
	return nil
}

// Close implements sim.InputSource.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
