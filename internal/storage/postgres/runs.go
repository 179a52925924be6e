package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/caelum-ai/kaizen/internal/types"
)

// SaveCycleRun inserts or updates a cycle run record
func (s *PostgresStorage) SaveCycleRun(ctx context.Context, run *types.CycleRun) error {
	phaseJSON, err := json.Marshal(run.PhaseResults)
	if err != nil {
		return fmt.Errorf("failed to marshal phase results: %w", err)
	}
	learnedJSON, err := json.Marshal(run.PrinciplesLearned)
	if err != nil {
		return fmt.Errorf("failed to marshal principles learned: %w", err)
	}

	query := `
		INSERT INTO cycle_runs (
			run_id, started_at, finished_at, status, failure_reason,
			phase_results, principles_learned
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT(run_id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			status = EXCLUDED.status,
			failure_reason = EXCLUDED.failure_reason,
			phase_results = EXCLUDED.phase_results,
			principles_learned = EXCLUDED.principles_learned
	`

	_, err = s.pool.Exec(ctx, query,
		run.RunID,
		run.StartedAt,
		run.FinishedAt,
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
func (s *PostgresStorage) GetCycleRun(ctx context.Context, runID string) (*types.CycleRun, error) {
	query := `
		SELECT run_id, started_at, finished_at, status, failure_reason,
		       phase_results, principles_learned
		FROM cycle_runs
		WHERE run_id = $1
	`

	row := s.pool.QueryRow(ctx, query, runID)
	run, err := scanCycleRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("cycle run %s: %w", runID, types.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get cycle run %s: %w", runID, err)
	}

	return run, nil
}

// ListCycleRuns retrieves the most recent cycle runs, newest first
func (s *PostgresStorage) ListCycleRuns(ctx context.Context, limit int) ([]*types.CycleRun, error) {
	query := `
		SELECT run_id, started_at, finished_at, status, failure_reason,
		       phase_results, principles_learned
		FROM cycle_runs
		ORDER BY started_at DESC
	`
	args := []interface{}{}

	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
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

func scanCycleRun(row pgx.Row) (*types.CycleRun, error) {
	var run types.CycleRun
	var startedAt time.Time
	var finishedAt *time.Time
	var phaseJSON, learnedJSON []byte

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
	run.FinishedAt = finishedAt

	if err := json.Unmarshal(phaseJSON, &run.PhaseResults); err != nil {
		return nil, fmt.Errorf("failed to unmarshal phase results: %w", err)
	}
	if err := json.Unmarshal(learnedJSON, &run.PrinciplesLearned); err != nil {
		return nil, fmt.Errorf("failed to unmarshal principles learned: %w", err)
	}

	return &run, nil
}
