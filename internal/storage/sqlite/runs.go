package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/caelum-ai/kaizen/internal/types"
)

// SaveCycleRun inserts or updates a cycle run record. Runs are saved
// once when they start and again as each phase completes, so the
// persisted record survives a crash mid-cycle.
func (s *SQLiteStorage) SaveCycleRun(ctx context.Context, run *types.CycleRun) error {
	phaseJSON, err := json.Marshal(run.PhaseResults)
	if err != nil {
		return fmt.Errorf("failed to marshal phase results: %w", err)
	}
	learnedJSON, err := json.Marshal(run.PrinciplesLearned)
	if err != nil {
		return fmt.Errorf("failed to marshal principles learned: %w", err)
	}

	var finishedAt sql.NullTime
	if run.FinishedAt != nil {
		finishedAt = sql.NullTime{Time: *run.FinishedAt, Valid: true}
	}

	query := `
		INSERT INTO cycle_runs (
			run_id, started_at, finished_at, status, failure_reason,
			phase_results, principles_learned
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			finished_at = excluded.finished_at,
			status = excluded.status,
			failure_reason = excluded.failure_reason,
			phase_results = excluded.phase_results,
			principles_learned = excluded.principles_learned
	`

	_, err = s.db.ExecContext(ctx, query,
		run.RunID,
		run.StartedAt,
		finishedAt,
		run.Status,
		run.FailureReason,
		string(phaseJSON),
		string(learnedJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to save cycle run %s: %w", run.RunID, err)
	}

	return nil
}

// GetCycleRun retrieves a cycle run by ID
func (s *SQLiteStorage) GetCycleRun(ctx context.Context, runID string) (*types.CycleRun, error) {
	query := `
		SELECT run_id, started_at, finished_at, status, failure_reason,
		       phase_results, principles_learned
		FROM cycle_runs
		WHERE run_id = ?
	`

	row := s.db.QueryRowContext(ctx, query, runID)
	run, err := scanCycleRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("cycle run %s: %w", runID, types.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get cycle run %s: %w", runID, err)
	}

	return run, nil
}

// ListCycleRuns retrieves the most recent cycle runs, newest first
func (s *SQLiteStorage) ListCycleRuns(ctx context.Context, limit int) ([]*types.CycleRun, error) {
	query := `
		SELECT run_id, started_at, finished_at, status, failure_reason,
		       phase_results, principles_learned
		FROM cycle_runs
		ORDER BY started_at DESC
	`
	args := []interface{}{}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycle runs: %w", err)
	}
	defer rows.Close()

	var result []*types.CycleRun
	for rows.Next() {
		run, err := scanCycleRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cycle run: %w", err)
		}
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cycle run rows: %w", err)
	}

	return result, nil
}

func scanCycleRun(row scanner) (*types.CycleRun, error) {
	var run types.CycleRun
	var startedAt time.Time
	var finishedAt sql.NullTime
	var phaseJSON, learnedJSON string

	err := row.Scan(
		&run.RunID,
		&startedAt,
		&finishedAt,
		&run.Status,
		&run.FailureReason,
		&phaseJSON,
		&learnedJSON,
	)
	if err != nil {
		return nil, err
	}

	run.StartedAt = startedAt
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}

	if err := json.Unmarshal([]byte(phaseJSON), &run.PhaseResults); err != nil {
		return nil, fmt.Errorf("failed to unmarshal phase results: %w", err)
	}
	if err := json.Unmarshal([]byte(learnedJSON), &run.PrinciplesLearned); err != nil {
		return nil, fmt.Errorf("failed to unmarshal principles learned: %w", err)
	}

	return &run, nil
}
