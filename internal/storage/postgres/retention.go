package postgres

import (
	"context"
	"fmt"
	"time"
)

// PruneEvents deletes evidence events past their retention cutoff.
// Events linked to a principle use the later linkedBefore cutoff since
// strength recomputation re-reads them. Deletes run in batches to keep
// individual statements short.
func (s *PostgresStorage) PruneEvents(ctx context.Context, unlinkedBefore, linkedBefore time.Time, batch int) (int, error) {
	if batch < 1 {
		batch = 1000
	}

	query := `
		DELETE FROM evidence_events WHERE id IN (
			SELECT id FROM evidence_events
			WHERE (principle_id = '' AND timestamp < $1)
			   OR (principle_id != '' AND timestamp < $2)
			ORDER BY timestamp ASC
			LIMIT $3
		)
	`

	total := 0
	for {
		tag, err := s.pool.Exec(ctx, query, unlinkedBefore, linkedBefore, batch)
		if err != nil {
			return total, fmt.Errorf("failed to prune evidence events: %w", err)
		}
		n := tag.RowsAffected()
		total += int(n)
		if n < int64(batch) {
			return total, nil
		}
	}
}

// PruneCycleRuns deletes finished runs that started before the cutoff,
// always keeping the newest keep finished runs. Unfinished runs are
// never touched.
func (s *PostgresStorage) PruneCycleRuns(ctx context.Context, before time.Time, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	query := `
		DELETE FROM cycle_runs WHERE run_id IN (
			SELECT run_id FROM cycle_runs
			WHERE finished_at IS NOT NULL AND started_at < $1
			  AND run_id NOT IN (
				SELECT run_id FROM cycle_runs
				WHERE finished_at IS NOT NULL
				ORDER BY started_at DESC
				LIMIT $2
			  )
		)
	`

	tag, err := s.pool.Exec(ctx, query, before, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune cycle runs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
