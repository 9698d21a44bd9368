package repo

import (
	"context"
	"sync"
	"time"

	"github.com/inferstack/sentry-gate/internal/models"
)

// MemoryEventStore keeps the event log in process memory, guarded by a
// read-write lock so aggregation snapshots do not serialize appends
// against each other.
type MemoryEventStore struct {
	mu        sync.RWMutex
	events    []models.PredictionEvent
	retention time.Duration
	appends   int
}

// retentionSweepEvery bounds how often Append pays for a prune pass.
const retentionSweepEvery = 512

// NewMemoryEventStore creates an empty in-memory log. A zero retention
// keeps events forever; a positive retention prunes older events
// opportunistically during Append.
func NewMemoryEventStore(retention time.Duration) *MemoryEventStore {
	return &MemoryEventStore{retention: retention}
}

// Append adds the event to the log.
func (s *MemoryEventStore) Append(_ context.Context, event models.PredictionEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)

	if s.retention > 0 {
		s.appends++
		if s.appends >= retentionSweepEvery {
			s.appends = 0
			s.pruneLocked(time.Now().UTC().Add(-s.retention))
		}
	}
	return nil
}

// Snapshot copies every event with Timestamp in [start, end]. The copy is
// taken under the read lock, so concurrent appends are either entirely in
// or entirely out of the returned slice.
func (s *MemoryEventStore) Snapshot(_ context.Context, start, end time.Time) ([]models.PredictionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]models.PredictionEvent, 0, len(s.events))
	for _, ev := range s.events {
		if ev.Timestamp.Before(start) || ev.Timestamp.After(end) {
			continue
		}
		matched = append(matched, ev)
	}
	return matched, nil
}

// Count reports the total number of retained events.
func (s *MemoryEventStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events), nil
}

// Prune drops events older than the given time and reports how many went.
func (s *MemoryEventStore) Prune(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(olderThan), nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryEventStore) Close() error { return nil }

func (s *MemoryEventStore) pruneLocked(olderThan time.Time) int {
	kept := s.events[:0]
	for _, ev := range s.events {
		if ev.Timestamp.Before(olderThan) {
			continue
		}
		kept = append(kept, ev)
	}
	dropped := len(s.events) - len(kept)
	s.events = kept
	return dropped
}
