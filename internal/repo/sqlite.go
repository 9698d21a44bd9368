package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/inferstack/sentry-gate/internal/models"
	"github.com/inferstack/sentry-gate/internal/utils"
)

const createEventsTable = `
CREATE TABLE IF NOT EXISTS prediction_events (
	id            TEXT PRIMARY KEY,
	sentiment     TEXT NOT NULL,
	confidence    REAL NOT NULL,
	latency_ns    INTEGER NOT NULL,
	input_length  INTEGER NOT NULL,
	model_version TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_prediction_events_created_at
	ON prediction_events (created_at);
`

// SQLiteEventStore persists the event log in a local SQLite database. It
// honors the same snapshot semantics as the memory store: a transaction
// boundary stands in for the read lock.
type SQLiteEventStore struct {
	db *sql.DB
}

// NewSQLiteEventStore opens (creating if needed) the database at path.
func NewSQLiteEventStore(path string) (*SQLiteEventStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, utils.NewAppError("repo.open", "open sqlite database", err)
	}
	// modernc sqlite serialises writes internally; a single connection
	// avoids SQLITE_BUSY churn under concurrent appends.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createEventsTable); err != nil {
		db.Close()
		return nil, utils.NewAppError("repo.migrate", "create events schema", err)
	}
	return &SQLiteEventStore{db: db}, nil
}

// Append inserts the event.
func (s *SQLiteEventStore) Append(ctx context.Context, event models.PredictionEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prediction_events
			(id, sentiment, confidence, latency_ns, input_length, model_version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, string(event.Sentiment), event.Confidence, int64(event.Latency),
		event.InputLength, event.ModelVersion, event.Timestamp.UTC().UnixNano(),
	)
	if err != nil {
		return utils.NewAppError("repo.append", "insert prediction event", err)
	}
	return nil
}

// Snapshot returns every event with created_at in [start, end].
func (s *SQLiteEventStore) Snapshot(ctx context.Context, start, end time.Time) ([]models.PredictionEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sentiment, confidence, latency_ns, input_length, model_version, created_at
		 FROM prediction_events
		 WHERE created_at >= ? AND created_at <= ?
		 ORDER BY created_at ASC`,
		start.UTC().UnixNano(), end.UTC().UnixNano(),
	)
	if err != nil {
		return nil, utils.NewAppError("repo.snapshot", "query prediction events", err)
	}
	defer rows.Close()

	var events []models.PredictionEvent
	for rows.Next() {
		var (
			ev        models.PredictionEvent
			sentiment string
			latencyNs int64
			createdAt int64
		)
		if err := rows.Scan(&ev.ID, &sentiment, &ev.Confidence, &latencyNs,
			&ev.InputLength, &ev.ModelVersion, &createdAt); err != nil {
			return nil, utils.NewAppError("repo.snapshot", "scan prediction event", err)
		}
		ev.Sentiment = models.Sentiment(sentiment)
		ev.Latency = time.Duration(latencyNs)
		ev.Timestamp = time.Unix(0, createdAt).UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError("repo.snapshot", "iterate prediction events", err)
	}
	return events, nil
}

// Count reports the total number of stored events.
func (s *SQLiteEventStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM prediction_events`).Scan(&count)
	if err != nil {
		return 0, utils.NewAppError("repo.count", "count prediction events", err)
	}
	return count, nil
}

// Prune deletes events older than the given time.
func (s *SQLiteEventStore) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM prediction_events WHERE created_at < ?`, olderThan.UTC().UnixNano())
	if err != nil {
		return 0, utils.NewAppError("repo.prune", "delete old prediction events", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(affected), nil
}

// Close releases the underlying database handle.
func (s *SQLiteEventStore) Close() error { return s.db.Close() }
