// Package evidence is the append-only log of observations that all
// optimization decisions trace back to. Collaborating systems push raw
// events here; the monitor, suggester, and evaluator only ever read.
package evidence

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/caelum-ai/kaizen/internal/storage"
	"github.com/caelum-ai/kaizen/internal/types"
)

// Store validates and persists evidence events. Writes are immutable:
// there is no update or delete path, and strength recomputes always
// re-derive from the full event history.
type Store struct {
	storage storage.Storage
}

// NewStore creates an evidence store backed by the given storage
func NewStore(store storage.Storage) *Store {
	return &Store{storage: store}
}

// Record validates and appends a single event. A zero ID or Timestamp
// is filled in; everything else must already be valid.
func (s *Store) Record(ctx context.Context, event *types.EvidenceEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return err
	}

	if err := s.storage.AppendEvent(ctx, event); err != nil {
		return &types.StorageError{Op: "append_event", Err: err}
	}
	return nil
}

// RecordBatch appends a batch of events. The batch is not atomic: a
// failure partway leaves the earlier events recorded, and the error
// identifies nothing about which ones. Callers treat events as cheap
// and redundant rather than transactional.
func (s *Store) RecordBatch(ctx context.Context, events []*types.EvidenceEvent) error {
	for _, event := range events {
		if err := s.Record(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Query returns events matching the filter in chronological order
func (s *Store) Query(ctx context.Context, filter types.EventFilter) ([]*types.EvidenceEvent, error) {
	events, err := s.storage.QueryEvents(ctx, filter)
	if err != nil {
		return nil, &types.StorageError{Op: "query_events", Err: err}
	}
	return events, nil
}

// Aggregate summarizes one subject+metric series inside a time window
func (s *Store) Aggregate(ctx context.Context, subject, metric string, after, before time.Time) (*types.EventAggregate, error) {
	agg, err := s.storage.AggregateEvents(ctx, subject, metric, after, before)
	if err != nil {
		return nil, &types.StorageError{Op: "aggregate_events", Err: err}
	}
	return agg, nil
}

// Subjects lists the distinct subjects seen since the given time
func (s *Store) Subjects(ctx context.Context, since time.Time) ([]string, error) {
	subjects, err := s.storage.EventSubjects(ctx, since)
	if err != nil {
		return nil, &types.StorageError{Op: "event_subjects", Err: err}
	}
	return subjects, nil
}

// RunCount reports how many distinct cycle runs contributed events for
// a subject+metric. Principle minting requires corroboration across
// independent runs, not just event volume.
func (s *Store) RunCount(ctx context.Context, subject, metric string) (int, error) {
	count, err := s.storage.CountEventRuns(ctx, subject, metric)
	if err != nil {
		return 0, &types.StorageError{Op: "count_event_runs", Err: err}
	}
	return count, nil
}
