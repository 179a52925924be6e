package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/caelum-ai/kaizen/internal/types"
)

// AppendEvent stores a new evidence event
func (s *PostgresStorage) AppendEvent(ctx context.Context, event *types.EvidenceEvent) error {
	query := `
		INSERT INTO evidence_events (
			id, subject, metric, value, timestamp, principle_id, run_id, polarity
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.pool.Exec(ctx, query,
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
func (s *PostgresStorage) QueryEvents(ctx context.Context, filter types.EventFilter) ([]*types.EvidenceEvent, error) {
	query := `
		SELECT id, subject, metric, value, timestamp, principle_id, run_id, polarity
		FROM evidence_events
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.Subject != "" {
		query += fmt.Sprintf(" AND subject = $%d", argNum)
		args = append(args, filter.Subject)
		argNum++
	}
	if filter.Metric != "" {
		query += fmt.Sprintf(" AND metric = $%d", argNum)
		args = append(args, filter.Metric)
		argNum++
	}
	if filter.PrincipleID != "" {
		query += fmt.Sprintf(" AND principle_id = $%d", argNum)
		args = append(args, filter.PrincipleID)
		argNum++
	}
	if filter.RunID != "" {
		query += fmt.Sprintf(" AND run_id = $%d", argNum)
		args = append(args, filter.RunID)
		argNum++
	}
	if !filter.After.IsZero() {
		query += fmt.Sprintf(" AND timestamp > $%d", argNum)
		args = append(args, filter.After)
		argNum++
	}
	if !filter.Before.IsZero() {
		query += fmt.Sprintf(" AND timestamp < $%d", argNum)
		args = append(args, filter.Before)
		argNum++
	}

	query += " ORDER BY timestamp ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query evidence events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// AggregateEvents computes summary statistics for one subject+metric
// series inside a time window
func (s *PostgresStorage) AggregateEvents(ctx context.Context, subject, metric string, after, before time.Time) (*types.EventAggregate, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(AVG(value), 0),
		       COALESCE(MIN(value), 0),
		       COALESCE(MAX(value), 0),
		       COALESCE(SUM(value), 0)
		FROM evidence_events
		WHERE subject = $1 AND metric = $2
	`
	args := []interface{}{subject, metric}
	argNum := 3

	if !after.IsZero() {
		query += fmt.Sprintf(" AND timestamp > $%d", argNum)
		args = append(args, after)
		argNum++
	}
	if !before.IsZero() {
		query += fmt.Sprintf(" AND timestamp < $%d", argNum)
		args = append(args, before)
	}

	var agg types.EventAggregate
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&agg.Count, &agg.Mean, &agg.Min, &agg.Max, &agg.Sum,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate evidence events (subject=%s, metric=%s): %w", subject, metric, err)
	}

	return &agg, nil
}

// EventSubjects returns the distinct subjects that have produced events
// since the given time
func (s *PostgresStorage) EventSubjects(ctx context.Context, since time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT subject
		FROM evidence_events
		WHERE timestamp > $1
		ORDER BY subject ASC
	`

	rows, err := s.pool.Query(ctx, query, since)
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
// for the given subject+metric
func (s *PostgresStorage) CountEventRuns(ctx context.Context, subject, metric string) (int, error) {
	query := `
		SELECT COUNT(DISTINCT run_id)
		FROM evidence_events
		WHERE subject = $1 AND metric = $2 AND run_id != ''
	`

	var count int
	err := s.pool.QueryRow(ctx, query, subject, metric).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count event runs (subject=%s, metric=%s): %w", subject, metric, err)
	}

	return count, nil
}

func scanEvents(rows pgx.Rows) ([]*types.EvidenceEvent, error) {
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
