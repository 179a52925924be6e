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

// SavePrinciple inserts or updates a principle
func (s *SQLiteStorage) SavePrinciple(ctx context.Context, p *types.Principle) error {
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
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			category = excluded.category,
			conditions = excluded.conditions,
			actions = excluded.actions,
			evidence_strength = excluded.evidence_strength,
			prior = excluded.prior,
			supporting = excluded.supporting,
			contradicting = excluded.contradicting,
			retired = excluded.retired,
			last_reinforced_at = excluded.last_reinforced_at
	`

	_, err = s.db.ExecContext(ctx, query,
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
func (s *SQLiteStorage) GetPrinciple(ctx context.Context, id string) (*types.Principle, error) {
	query := `
		SELECT id, title, description, category, conditions, actions,
		       evidence_strength, prior, supporting, contradicting, retired,
		       created_at, last_reinforced_at
		FROM principles
		WHERE id = ?
	`

	row := s.db.QueryRowContext(ctx, query, id)
	p, err := scanPrinciple(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("principle %s: %w", id, types.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get principle %s: %w", id, err)
	}

	return p, nil
}

// ListPrinciples retrieves principles matching the filter, strongest first
func (s *SQLiteStorage) ListPrinciples(ctx context.Context, filter types.PrincipleFilter) ([]*types.Principle, error) {
	query := `
		SELECT id, title, description, category, conditions, actions,
		       evidence_strength, prior, supporting, contradicting, retired,
		       created_at, last_reinforced_at
		FROM principles
		WHERE 1=1
	`
	args := []interface{}{}

	if filter.MinStrength > 0 {
		query += " AND evidence_strength >= ?"
		args = append(args, filter.MinStrength)
	}
	if filter.Category != "" {
		query += " AND category = ?"
		args = append(args, filter.Category)
	}
	if !filter.IncludeRetired {
		query += " AND retired = 0"
	}

	query += " ORDER BY evidence_strength DESC, last_reinforced_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
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

// scanner abstracts over *sql.Row and *sql.Rows for shared scan code
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPrinciple(row scanner) (*types.Principle, error) {
	var p types.Principle
	var conditionsJSON, actionsJSON string
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

	if err := json.Unmarshal([]byte(conditionsJSON), &p.Conditions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
	}
	if err := json.Unmarshal([]byte(actionsJSON), &p.Actions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
	}

	return &p, nil
}
