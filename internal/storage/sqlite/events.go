package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/caelum-ai/kaizen/internal/types"
)

// AppendEvent stores a new evidence event. Events are immutable: there
// is no corresponding update or delete.
func (s *SQLiteStorage) AppendEvent(ctx context.Context, event *types.EvidenceEvent) error {
	query := `
		INSERT INTO evidence_events (
			id, subject, metric, value, timestamp, principle_id, run_id, polarity
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Subject,
		event.Metric,
		event.Value,
		event.Timestamp,
		event.PrincipleID,
		event.RunID,
		event.Polarity,
	)
	if err != nil {
		return fmt.Errorf("failed to store evidence event (subject=%s, metric=%s): %w", event.Subject, event.Metric, err)
	}

	return nil
}

// QueryEvents retrieves events matching the given filter, oldest first
func (s *SQLiteStorage) QueryEvents(ctx context.Context, filter types.EventFilter) ([]*types.EvidenceEvent, error) {
	query := `
		SELECT id, subject, metric, value, timestamp, principle_id, run_id, polarity
		FROM evidence_events
		WHERE 1=1
	`
	args := []interface{}{}

	// Apply filters
	if filter.Subject != "" {
		query += " AND subject = ?"
		args = append(args, filter.Subject)
	}
	if filter.Metric != "" {
		query += " AND metric = ?"
		args = append(args, filter.Metric)
	}
	if filter.PrincipleID != "" {
		query += " AND principle_id = ?"
		args = append(args, filter.PrincipleID)
	}
	if filter.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, filter.RunID)
	}
	if !filter.After.IsZero() {
		query += " AND timestamp > ?"
		args = append(args, filter.After)
	}
	if !filter.Before.IsZero() {
		query += " AND timestamp < ?"
		args = append(args, filter.Before)
	}

	// Chronological order: consumers fold over events oldest to newest
	query += " ORDER BY timestamp ASC"

	// Apply limit
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query evidence events: %w", err)
	}
	defer rows.Close()

	return s.scanEvents(rows)
}

// AggregateEvents computes summary statistics for one subject+metric
// series inside a time window. Zero times mean an unbounded window.
func (s *SQLiteStorage) AggregateEvents(ctx context.Context, subject, metric string, after, before time.Time) (*types.EventAggregate, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(AVG(value), 0),
		       COALESCE(MIN(value), 0),
		       COALESCE(MAX(value), 0),
		       COALESCE(SUM(value), 0)
		FROM evidence_events
		WHERE subject = ? AND metric = ?
	`
	args := []interface{}{subject, metric}

	if !after.IsZero() {
		query += " AND timestamp > ?"
		args = append(args, after)
	}
	if !before.IsZero() {
		query += " AND timestamp < ?"
		args = append(args, before)
	}

	var agg types.EventAggregate
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&agg.Count, &agg.Mean, &agg.Min, &agg.Max, &agg.Sum,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate evidence events (subject=%s, metric=%s): %w", subject, metric, err)
	}

	return &agg, nil
}

// EventSubjects returns the distinct subjects that have produced events
// since the given time
func (s *SQLiteStorage) EventSubjects(ctx context.Context, since time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT subject
		FROM evidence_events
		WHERE timestamp > ?
		ORDER BY subject ASC
	`

	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query event subjects: %w", err)
	}
	defer rows.Close()

	var subjects []string
	for rows.Next() {
		var subject string
		if err := rows.Scan(&subject); err != nil {
			return nil, fmt.Errorf("failed to scan subject: %w", err)
		}
		subjects = append(subjects, subject)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subject rows: %w", err)
	}

	return subjects, nil
}

// CountEventRuns returns how many distinct cycle runs produced events
// for the given subject+metric. Events outside any run don't count.
func (s *SQLiteStorage) CountEventRuns(ctx context.Context, subject, metric string) (int, error) {
	query := `
		SELECT COUNT(DISTINCT run_id)
		FROM evidence_events
		WHERE subject = ? AND metric = ? AND run_id != ''
	`

	var count int
	err := s.db.QueryRowContext(ctx, query, subject, metric).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count event runs (subject=%s, metric=%s): %w", subject, metric, err)
	}

	return count, nil
}

// scanEvents is a helper function to scan rows into EvidenceEvent structs
func (s *SQLiteStorage) scanEvents(rows *sql.Rows) ([]*types.EvidenceEvent, error) {
	var result []*types.EvidenceEvent

	for rows.Next() {
		var event types.EvidenceEvent
		var timestamp time.Time

		err := rows.Scan(
			&event.ID,
			&event.Subject,
			&event.Metric,
			&event.Value,
			&timestamp,
			&event.PrincipleID,
			&event.RunID,
			&event.Polarity,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evidence event: %w", err)
		}

		event.Timestamp = timestamp
		result = append(result, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating evidence event rows: %w", err)
	}

	return result, nil
}
