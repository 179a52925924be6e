package sqlite

import "github.com/caelum-ai/kaizen/internal/storage/migrations"

// registerMigrations declares the schema history. Shipped versions are
// frozen; schema changes get a new version.
func registerMigrations(m *migrations.Manager) {
	m.Register(migrations.Migration{
		Version:     1,
		Description: "base schema: evidence events, principles, cycle runs",
		Up:          schemaV1,
		Down:        schemaV1Down,
	})
}

const schemaV1 = `
-- Evidence events table (append-only; retention sweeps are the only deletes)
CREATE TABLE IF NOT EXISTS evidence_events (
    id TEXT PRIMARY KEY,
    subject TEXT NOT NULL,
    metric TEXT NOT NULL,
    value REAL NOT NULL,
    timestamp DATETIME NOT NULL,
    principle_id TEXT NOT NULL DEFAULT '',
    run_id TEXT NOT NULL DEFAULT '',
    polarity TEXT NOT NULL DEFAULT 'neutral'
);

CREATE INDEX IF NOT EXISTS idx_events_subject_metric ON evidence_events(subject, metric, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_principle ON evidence_events(principle_id);
CREATE INDEX IF NOT EXISTS idx_events_run ON evidence_events(run_id);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON evidence_events(timestamp);

-- Principles table
CREATE TABLE IF NOT EXISTS principles (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL CHECK(length(title) <= 200),
    description TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT 'open_ended',
    conditions TEXT NOT NULL DEFAULT '[]',
    actions TEXT NOT NULL DEFAULT '[]',
    evidence_strength REAL NOT NULL DEFAULT 0 CHECK(evidence_strength >= 0 AND evidence_strength <= 1),
    prior REAL NOT NULL DEFAULT 0 CHECK(prior >= 0 AND prior <= 1),
    supporting REAL NOT NULL DEFAULT 0,
    contradicting REAL NOT NULL DEFAULT 0,
    retired INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_reinforced_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_principles_category ON principles(category);
CREATE INDEX IF NOT EXISTS idx_principles_strength ON principles(evidence_strength);
CREATE INDEX IF NOT EXISTS idx_principles_retired ON principles(retired);

-- Cycle runs table
CREATE TABLE IF NOT EXISTS cycle_runs (
    run_id TEXT PRIMARY KEY,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    status TEXT NOT NULL DEFAULT 'running',
    failure_reason TEXT NOT NULL DEFAULT '',
    phase_results TEXT NOT NULL DEFAULT '{}',
    principles_learned TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON cycle_runs(started_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON cycle_runs(status);
`

const schemaV1Down = `
DROP TABLE IF EXISTS evidence_events;
DROP TABLE IF EXISTS principles;
DROP TABLE IF EXISTS cycle_runs;
`
