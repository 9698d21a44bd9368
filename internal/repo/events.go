// Package repo provides the prediction event log. Two implementations share
// one contract: an in-memory append log (the default) and a SQLite-backed
// log for deployments that want events to survive a restart.
package repo

import (
	"context"
	"time"

	"github.com/inferstack/sentry-gate/internal/models"
)

// EventStore is the append/query contract the aggregation engine builds on.
// Append never blocks behind readers and never rejects a well-formed event.
// Snapshot returns a consistent copy of every event with Timestamp in
// [start, end]: an event is either fully visible in the snapshot or absent,
// never partially observed.
type EventStore interface {
	Append(ctx context.Context, event models.PredictionEvent) error
	Snapshot(ctx context.Context, start, end time.Time) ([]models.PredictionEvent, error)
	Count(ctx context.Context) (int, error)
	Prune(ctx context.Context, olderThan time.Time) (int, error)
	Close() error
}
