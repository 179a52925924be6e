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

// SavePrinciple inserts or updates a principle
func (s *PostgresStorage) SavePrinciple(ctx context.Context, p *types.Principle) error {
	conditionsJSON, err := json.Marshal(p.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}
	actionsJSON, err := json.Marshal(p.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}

	query := `
		INSERT INTO principles (
			id, title, description, category, conditions, actions,
			evidence_strength, prior, supporting, contradicting, retired,
			created_at, last_reinforced_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT(id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			conditions = EXCLUDED.conditions,
			actions = EXCLUDED.actions,
			evidence_strength = EXCLUDED.evidence_strength,
			prior = EXCLUDED.prior,
			supporting = EXCLUDED.supporting,
			contradicting = EXCLUDED.contradicting,
			retired = EXCLUDED.retired,
			last_reinforced_at = EXCLUDED.last_reinforced_at
	`

	_, err = s.pool.Exec(ctx, query,
		p.ID,
		p.Title,
		p.Description,
		p.Category,
		string(conditionsJSON),
		string(actionsJSON),
		p.EvidenceStrength,
		p.Prior,
		p.Supporting,
		p.Contradicting,
		p.Retired,
		p.CreatedAt,
		p.LastReinforcedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save principle %s: %w", p.ID, err)
	}

	return nil
}

// GetPrinciple retrieves a principle by ID
func (s *PostgresStorage) GetPrinciple(ctx context.Context, id string) (*types.Principle, error) {
	query := `
		SELECT id, title, description, category, conditions, actions,
		       evidence_strength, prior, supporting, contradicting, retired,
		       created_at, last_reinforced_at
		FROM principles
		WHERE id = $1
	`

	row := s.pool.QueryRow(ctx, query, id)
	p, err := scanPrinciple(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("principle %s: %w", id, types.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get principle %s: %w", id, err)
	}

	return p, nil
}

// ListPrinciples retrieves principles matching the filter, strongest first
func (s *PostgresStorage) ListPrinciples(ctx context.Context, filter types.PrincipleFilter) ([]*types.Principle, error) {
	query := `
		SELECT id, title, description, category, conditions, actions,
		       evidence_strength, prior, supporting, contradicting, retired,
		       created_at, last_reinforced_at
		FROM principles
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.MinStrength > 0 {
		query += fmt.Sprintf(" AND evidence_strength >= $%d", argNum)
		args = append(args, filter.MinStrength)
		argNum++
	}
	if filter.Category != "" {
		query += fmt.Sprintf(" AND category = $%d", argNum)
		args = append(args, filter.Category)
	}
	if !filter.IncludeRetired {
		query += " AND retired = FALSE"
	}

	query += " ORDER BY evidence_strength DESC, last_reinforced_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query principles: %w", err)
	}
	defer rows.Close()

	var result []*types.Principle
	for rows.Next() {
		p, err := scanPrinciple(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan principle: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating principle rows: %w", err)
	}

	return result, nil
}

func scanPrinciple(row pgx.Row) (*types.Principle, error) {
	var p types.Principle
	var conditionsJSON, actionsJSON []byte
	var createdAt, lastReinforcedAt time.Time

	err := row.Scan(
		&p.ID,
		&p.Title,
		&p.Description,
		&p.Category,
		&conditionsJSON,
		&actionsJSON,
		&p.EvidenceStrength,
		&p.Prior,
		&p.Supporting,
		&p.Contradicting,
		&p.Retired,
		&createdAt,
		&lastReinforcedAt,
	)
	if err != nil {
		return nil, err
	}

	p.CreatedAt = createdAt
	p.LastReinforcedAt = lastReinforcedAt

	if err := json.Unmarshal(conditionsJSON, &p.Conditions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
	}
	if err := json.Unmarshal(actionsJSON, &p.Actions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
	}

	return &p, nil
}
