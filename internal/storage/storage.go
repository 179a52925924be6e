package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/caelum-ai/kaizen/internal/storage/postgres"
	"github.com/caelum-ai/kaizen/internal/storage/sqlite"
	"github.com/caelum-ai/kaizen/internal/types"
)

// Storage defines the interface for optimization state backends
type Storage interface {
	// Evidence events - append-only observations
	AppendEvent(ctx context.Context, event *types.EvidenceEvent) error
	QueryEvents(ctx context.Context, filter types.EventFilter) ([]*types.EvidenceEvent, error)
	AggregateEvents(ctx context.Context, subject, metric string, after, before time.Time) (*types.EventAggregate, error)
	EventSubjects(ctx context.Context, since time.Time) ([]string, error)
	CountEventRuns(ctx context.Context, subject, metric string) (int, error)

	// Principles
	SavePrinciple(ctx context.Context, p *types.Principle) error
	GetPrinciple(ctx context.Context, id string) (*types.Principle, error)
	ListPrinciples(ctx context.Context, filter types.PrincipleFilter) ([]*types.Principle, error)

	// Cycle runs
	SaveCycleRun(ctx context.Context, run *types.CycleRun) error
	GetCycleRun(ctx context.Context, runID string) (*types.CycleRun, error)
	ListCycleRuns(ctx context.Context, limit int) ([]*types.CycleRun, error)

	// Retention. Pruning is the only path that deletes rows; the data
	// APIs above stay append-only.
	PruneEvents(ctx context.Context, unlinkedBefore, linkedBefore time.Time, batch int) (int, error)
	PruneCycleRuns(ctx context.Context, before time.Time, keep int) (int, error)

	// Lifecycle
	Close() error
}

// Config holds database configuration
type Config struct {
	// Backend selects the storage implementation: "sqlite" or "postgres".
	// Default: "sqlite"
	Backend string

	// Path is the SQLite database file path
	// Default: ".kaizen/kaizen.db"
	// Special value ":memory:" creates an in-memory database (useful for tests)
	Path string

	// DSN is the PostgreSQL connection string, used when Backend is "postgres"
	DSN string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Backend: "sqlite",
		Path:    ".kaizen/kaizen.db",
	}
}

// NewStorage creates a storage backend from the config. SQLite is the
// default; PostgreSQL is selected with Backend "postgres".
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	switch cfg.Backend {
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			path = ".kaizen/kaizen.db"
		}
		return sqlite.New(path)
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres backend requires a DSN")
		}
		return postgres.New(ctx, &postgres.Config{ConnString: cfg.DSN})
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
