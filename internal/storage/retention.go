package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RetentionConfig bounds database growth. Zero TTLs are rejected by the
// sweeper; disable retention by not starting it instead.
type RetentionConfig struct {
	// EventTTL is how long raw evidence events are kept.
	// Default: 30 days
	EventTTL time.Duration

	// LinkedEventTTL is how long events linked to a principle are kept.
	// Strength recomputation re-reads linked evidence, so this must be
	// at least EventTTL. Default: 90 days
	LinkedEventTTL time.Duration

	// RunTTL is how long finished cycle run records are kept.
	// Default: 90 days
	RunTTL time.Duration

	// RunsKeep is the minimum number of finished runs retained no matter
	// how old, so history queries never go empty. Default: 50
	RunsKeep int

	// SweepInterval is how often the background sweep runs.
	// Default: 24h
	SweepInterval time.Duration

	// BatchSize is how many events each delete statement removes.
	// Default: 1000
	BatchSize int
}

// DefaultRetentionConfig returns the default retention policy
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		EventTTL:       30 * 24 * time.Hour,
		LinkedEventTTL: 90 * 24 * time.Hour,
		RunTTL:         90 * 24 * time.Hour,
		RunsKeep:       50,
		SweepInterval:  24 * time.Hour,
		BatchSize:      1000,
	}
}

// SweepStats reports what one retention pass removed
type SweepStats struct {
	EventsPruned int
	RunsPruned   int
}

// Sweeper periodically prunes expired evidence and old run records
type Sweeper struct {
	store  Storage
	cfg    *RetentionConfig
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSweeper creates a retention sweeper over the given storage
func NewSweeper(store Storage, cfg *RetentionConfig, logger *zap.Logger) *Sweeper {
	if cfg == nil {
		cfg = DefaultRetentionConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		store:  store,
		cfg:    cfg,
		logger: logger.Named("retention"),
	}
}

// Start launches the background sweep loop. The first sweep happens one
// interval in, not at startup, so daemon start stays fast.
func (s *Sweeper) Start() error {
	if s.cfg.EventTTL <= 0 || s.cfg.RunTTL <= 0 || s.cfg.SweepInterval <= 0 {
		return fmt.Errorf("retention TTLs and sweep interval must be positive")
	}
	if s.cfg.LinkedEventTTL < s.cfg.EventTTL {
		return fmt.Errorf("linked event TTL (%s) must be >= event TTL (%s)",
			s.cfg.LinkedEventTTL, s.cfg.EventTTL)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("retention sweeper already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.loop()

	s.logger.Info("retention sweeper started",
		zap.Duration("event_ttl", s.cfg.EventTTL),
		zap.Duration("linked_event_ttl", s.cfg.LinkedEventTTL),
		zap.Duration("run_ttl", s.cfg.RunTTL),
		zap.Duration("sweep_interval", s.cfg.SweepInterval))
	return nil
}

// Stop halts the background loop and waits for it to exit
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	doneCh := s.doneCh
	s.mu.Unlock()

	<-doneCh
	s.logger.Info("retention sweeper stopped")
}

func (s *Sweeper) loop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Warn("retention sweep failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// SweepOnce runs one retention pass: expired events first, then old
// finished runs. Partial progress survives an error.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepStats, error) {
	now := time.Now().UTC()
	var stats SweepStats

	events, err := s.store.PruneEvents(ctx,
		now.Add(-s.cfg.EventTTL), now.Add(-s.cfg.LinkedEventTTL), s.cfg.BatchSize)
	stats.EventsPruned = events
	if err != nil {
		return stats, err
	}

	runs, err := s.store.PruneCycleRuns(ctx, now.Add(-s.cfg.RunTTL), s.cfg.RunsKeep)
	stats.RunsPruned = runs
	if err != nil {
		return stats, err
	}

	if stats.EventsPruned > 0 || stats.RunsPruned > 0 {
		s.logger.Info("retention sweep pruned records",
			zap.Int("events", stats.EventsPruned),
			zap.Int("runs", stats.RunsPruned))
	}
	return stats, nil
}
