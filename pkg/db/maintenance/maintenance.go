package maintenance

import (
	"context"
	"log/slog"
	"time"

	"racecore/pkg/db"
	"racecore/pkg/store"
)

const lastPruneStateKey = "replay_last_prune"

// minPruneInterval keeps restarts from pruning more than once a day.
const minPruneInterval = 24 * time.Hour

// Run executes the replay database maintenance. Sessions older than retention
// are removed; a retention of zero keeps everything. It blocks until completion
// and never fails startup.
func Run(ctx context.Context, s store.StateStore, d *db.DB, retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	if last, ok := s.GetState(ctx, lastPruneStateKey); ok {
		if t, err := time.Parse(time.RFC3339, last); err == nil && time.Since(t) < minPruneInterval {
			return nil
		}
	}

	slog.Info("Starting replay maintenance...", "retention", retention)
	n, err := d.PruneSessions(retention)
	if err != nil {
		slog.Error("Session pruning failed", "error", err)
		return nil
	}
	slog.Info("Session pruning completed", "removed", n)

	if err := s.SetState(ctx, lastPruneStateKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
		slog.Warn("Failed to store prune time", "error", err)
	}
	return nil
}
