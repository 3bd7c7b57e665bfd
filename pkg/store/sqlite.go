package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"racecore/pkg/db"
)

// Store defines the repository interface.
// It composes all sub-interfaces for full store access.
// Consumers should depend on specific sub-interfaces when possible.
type Store interface {
	SessionStore
	FrameStore
	StateStore

	// Close closes the store connection.
	Close() error
}

// SQLiteStore implements Store.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore creates a new store.
func NewSQLiteStore(db *db.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Sessions ---

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO sessions (id, track, cars, frame_count, created_at) VALUES (?, ?, ?, 0, ?)`
	_, err := s.db.ExecContext(ctx, query, sess.ID, sess.Track, sess.Cars, sess.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
	return err
}

const sessionColumns = `id, track, cars, frame_count, created_at`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var sess Session
	var created sql.NullString
	if err := row.Scan(&sess.ID, &sess.Track, &sess.Cars, &sess.FrameCount, &created); err != nil {
		return nil, err
	}
	if created.Valid {
		// The driver may hand DATETIME columns back already parsed and reformatted
		if t, err := time.Parse("2006-01-02 15:04:05", created.String); err == nil {
			sess.CreatedAt = t
		} else if t, err := time.Parse(time.RFC3339Nano, created.String); err == nil {
			sess.CreatedAt = t
		}
	}
	return &sess, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return sess, err
}

func (s *SQLiteStore) LatestSession(ctx context.Context) (*Session, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions ORDER BY created_at DESC, rowid DESC LIMIT 1")
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest session: %w", ErrNotFound)
	}
	return sess, err
}

func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, "SELECT "+sessionColumns+" FROM sessions ORDER BY created_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM frames WHERE session_id = ?", id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Frames ---

// AppendFrames writes a batch in one transaction and bumps the session's frame count.
func (s *SQLiteStore) AppendFrames(ctx context.Context, sessionID string, frames []Frame) error {
	if len(frames) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO frames (session_id, idx, dt, inputs, commands) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range frames {
		// Transparent Compression
		val := frames[i].Inputs
		if compressed, err := compress(val); err == nil {
			val = compressed
		}
		if _, err := stmt.ExecContext(ctx, sessionID, frames[i].Index, frames[i].Dt, val, frames[i].Commands); err != nil {
			return fmt.Errorf("frame %d: %w", frames[i].Index, err)
		}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET frame_count = (SELECT count(*) FROM frames WHERE session_id = ?) WHERE id = ?`,
		sessionID, sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetFrames(ctx context.Context, sessionID string, from int64, limit int) ([]Frame, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, dt, inputs, commands FROM frames WHERE session_id = ? AND idx >= ? ORDER BY idx LIMIT ?`,
		sessionID, from, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Frame
	for rows.Next() {
		var f Frame
		if err := rows.Scan(&f.Index, &f.Dt, &f.Inputs, &f.Commands); err != nil {
			return nil, err
		}
		// Transparent Decompression
		if len(f.Inputs) > 2 && f.Inputs[0] == 0x1f && f.Inputs[1] == 0x8b {
			if raw, err := decompress(f.Inputs); err == nil {
				f.Inputs = raw
			}
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// --- Compression Pooling ---

var (
	// Pool for gzip writers to reuse flate state
	gzipWriterPool = sync.Pool{
		New: func() interface{} {
			return gzip.NewWriter(io.Discard)
		},
	}
	bufferPool = sync.Pool{
		New: func() interface{} {
			return new(bytes.Buffer)
		},
	}
)

func compress(data []byte) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	w := gzipWriterPool.Get().(*gzip.Writer)
	defer gzipWriterPool.Put(w)
	w.Reset(buf)

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	// Must copy because buf is returned to pool
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// --- State ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, bool) {
	var val string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM persistent_state WHERE key = ?", key).Scan(&val)
	if err != nil {
		return "", false
	}
	return val, true
}

func (s *SQLiteStore) SetState(ctx context.Context, key, val string) error {
	query := `INSERT OR REPLACE INTO persistent_state (key, value, created_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, key, val, time.Now())
	return err
}

func (s *SQLiteStore) DeleteState(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM persistent_state WHERE key = ?", key)
	return err
}
