// Package config loads the kaizen configuration file, layers environment
// overrides on top, and converts the file sections into the subsystem
// configs. Every field is optional; an absent file is the default
// configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/caelum-ai/kaizen/internal/engine"
	"github.com/caelum-ai/kaizen/internal/monitor"
	"github.com/caelum-ai/kaizen/internal/observer"
	"github.com/caelum-ai/kaizen/internal/optimizer"
	"github.com/caelum-ai/kaizen/internal/principles"
	"github.com/caelum-ai/kaizen/internal/storage"
	"github.com/caelum-ai/kaizen/internal/types"
)

// Environment variables recognized across the CLI and daemon
const (
	// EnvConfig points at the configuration file
	EnvConfig = "KAIZEN_CONFIG"

	// EnvDB overrides the sqlite database path
	EnvDB = "KAIZEN_DB"

	// EnvSocket overrides the control socket path
	EnvSocket = "KAIZEN_SOCKET"
)

// DataDir is the default directory kaizen keeps its state in
const DataDir = ".kaizen"

// Duration is a time.Duration that reads "30s", "5m", "1h", "2d", "1w"
// from YAML
type Duration time.Duration

// ParseDuration parses a duration with day and week suffixes on top of
// the units time.ParseDuration accepts
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if s == "0" {
		return 0, nil
	}
	if parsed, err := time.ParseDuration(s); err == nil {
		return parsed, nil
	}

	var mult time.Duration
	switch s[len(s)-1] {
	case 'd':
		mult = 24 * time.Hour
	case 'w':
		mult = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid duration %q (use s, m, h, d, or w)", s)
	}
	n, err := strconv.ParseFloat(s[:len(s)-1], 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid duration %q (use s, m, h, d, or w)", s)
	}
	return time.Duration(n * float64(mult)), nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	if d == 0 {
		return "0", nil
	}
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// String renders day and week multiples with the suffixes ParseDuration
// reads, and everything else like time.Duration
func (d Duration) String() string {
	v := time.Duration(d)
	switch {
	case v != 0 && v%(7*24*time.Hour) == 0:
		return fmt.Sprintf("%dw", v/(7*24*time.Hour))
	case v != 0 && v%(24*time.Hour) == 0:
		return fmt.Sprintf("%dd", v/(24*time.Hour))
	default:
		return v.String()
	}
}

// Config is the full configuration file
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Cycle      CycleConfig      `yaml:"cycle"`
	Principles PrinciplesConfig `yaml:"principles"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Control    ControlConfig    `yaml:"control"`
	Inventory  InventoryConfig  `yaml:"inventory"`
	Observer   ObserverConfig   `yaml:"observer"`
	Retention  RetentionConfig  `yaml:"retention"`
}

// StorageConfig selects and locates the persistence backend
type StorageConfig struct {
	// Backend is "sqlite" or "postgres"
	Backend string `yaml:"backend"`

	// Path is the sqlite database file
	Path string `yaml:"path"`

	// DSN is the postgres connection string
	DSN string `yaml:"dsn,omitempty"`
}

// CycleConfig tunes the optimization cycle
type CycleConfig struct {
	Interval           Duration `yaml:"interval"`
	SettleDelay        Duration `yaml:"settle_delay"`
	MaxChanges         int      `yaml:"max_changes"`
	MaxSuggestions     int      `yaml:"max_suggestions"`
	ApplyTimeout       Duration `yaml:"apply_timeout"`
	ApplyConcurrency   int      `yaml:"apply_concurrency"`
	ApplyRatePerMinute int      `yaml:"apply_rate_per_minute"`
	NoiseThreshold     float64  `yaml:"noise_threshold"`

	// AlertTriggerSeverity is the least severe alert that starts a cycle
	// between scheduled ones: low, medium, high, or critical
	AlertTriggerSeverity string `yaml:"alert_trigger_severity"`

	// ApplyCommands routes suggestion categories to shell commands.
	// Empty means recommend-only: suggestions are logged, not executed.
	// The key "default" catches categories without their own entry.
	ApplyCommands map[string]string `yaml:"apply_commands,omitempty"`
}

// PrinciplesConfig tunes evidence strength computation
type PrinciplesConfig struct {
	SmoothingWeight   float64  `yaml:"smoothing_weight"`
	EvidenceHalfLife  Duration `yaml:"evidence_half_life"` // 0 disables age weighting
	RetirementFloor   float64  `yaml:"retirement_floor"`
	MintPrior         float64  `yaml:"mint_prior"`
	MintCorroboration int      `yaml:"mint_corroboration"`
	MintSuccessFloor  float64  `yaml:"mint_success_floor"`
}

// MonitorConfig tunes the performance monitor
type MonitorConfig struct {
	Interval       Duration           `yaml:"interval"`
	Window         Duration           `yaml:"window"`
	MinSamples     int                `yaml:"min_samples"`
	TriggerOnAlert bool               `yaml:"trigger_on_alert"`
	Thresholds     monitor.Thresholds `yaml:"thresholds"`
}

// ControlConfig locates the control socket
type ControlConfig struct {
	Socket string `yaml:"socket"`
}

// InventoryConfig locates the tool inventory file
type InventoryConfig struct {
	Path string `yaml:"path"`
}

// ObserverConfig tunes live task observation
type ObserverConfig struct {
	// Window is how many recent tasks the analysis window keeps
	Window int `yaml:"window"`
}

// RetentionConfig bounds database growth
type RetentionConfig struct {
	// Enabled turns the daemon's background retention sweep on
	Enabled bool `yaml:"enabled"`

	// Events is how long raw evidence events are kept
	Events Duration `yaml:"events"`

	// LinkedEvents is how long principle-linked evidence is kept.
	// Must be at least Events; strength recomputation re-reads it.
	LinkedEvents Duration `yaml:"linked_events"`

	// Runs is how long finished cycle run records are kept
	Runs Duration `yaml:"runs"`

	// RunsKeep is the minimum number of finished runs retained no
	// matter how old
	RunsKeep int `yaml:"runs_keep"`

	// SweepEvery is how often the sweep runs
	SweepEvery Duration `yaml:"sweep_every"`

	// Batch is how many events each delete statement removes
	Batch int `yaml:"batch"`
}

// DefaultConfig returns the configuration an absent file means
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend: "sqlite",
			Path:    filepath.Join(DataDir, "kaizen.db"),
		},
		Cycle: CycleConfig{
			Interval:             Duration(time.Hour),
			SettleDelay:          Duration(30 * time.Second),
			MaxChanges:           3,
			MaxSuggestions:       10,
			ApplyTimeout:         Duration(30 * time.Second),
			ApplyConcurrency:     2,
			ApplyRatePerMinute:   10,
			NoiseThreshold:       0.05,
			AlertTriggerSeverity: string(types.SeverityHigh),
		},
		Principles: PrinciplesConfig{
			SmoothingWeight:   3,
			EvidenceHalfLife:  Duration(720 * time.Hour),
			RetirementFloor:   0.2,
			MintPrior:         0.75,
			MintCorroboration: 3,
			MintSuccessFloor:  0.8,
		},
		Monitor: MonitorConfig{
			Interval:       Duration(5 * time.Minute),
			Window:         Duration(time.Hour),
			MinSamples:     3,
			TriggerOnAlert: true,
			Thresholds:     monitor.DefaultThresholds(),
		},
		Control: ControlConfig{
			Socket: filepath.Join(DataDir, "kaizen.sock"),
		},
		Inventory: InventoryConfig{
			Path: filepath.Join(DataDir, "inventory.yaml"),
		},
		Observer: ObserverConfig{
			Window: 100,
		},
		Retention: RetentionConfig{
			Enabled:      true,
			Events:       Duration(30 * 24 * time.Hour),
			LinkedEvents: Duration(90 * 24 * time.Hour),
			Runs:         Duration(90 * 24 * time.Hour),
			RunsKeep:     50,
			SweepEvery:   Duration(24 * time.Hour),
			Batch:        1000,
		},
	}
}

// DefaultPath resolves the configuration file location
func DefaultPath() string {
	if path := os.Getenv(EnvConfig); path != "" {
		return path
	}
	return filepath.Join(DataDir, "config.yaml")
}

// Load reads the configuration file at path (DefaultPath when empty),
// layers it over the defaults, and applies environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg.applyEnv()
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if db := os.Getenv(EnvDB); db != "" {
		c.Storage.Path = db
	}
	if socket := os.Getenv(EnvSocket); socket != "" {
		c.Control.Socket = socket
	}
}

// Validate checks the configuration for values no subsystem accepts
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "", "sqlite":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend must be sqlite or postgres (got %q)", c.Storage.Backend)
	}

	if c.Cycle.Interval <= 0 {
		return fmt.Errorf("cycle.interval must be positive (got %s)", time.Duration(c.Cycle.Interval))
	}
	if c.Cycle.SettleDelay < 0 {
		return fmt.Errorf("cycle.settle_delay cannot be negative (got %s)", time.Duration(c.Cycle.SettleDelay))
	}
	if c.Cycle.MaxChanges < 1 {
		return fmt.Errorf("cycle.max_changes must be at least 1 (got %d)", c.Cycle.MaxChanges)
	}
	if c.Cycle.MaxSuggestions < c.Cycle.MaxChanges {
		return fmt.Errorf("cycle.max_suggestions (%d) must be >= cycle.max_changes (%d)",
			c.Cycle.MaxSuggestions, c.Cycle.MaxChanges)
	}
	if c.Cycle.ApplyTimeout <= 0 {
		return fmt.Errorf("cycle.apply_timeout must be positive (got %s)", time.Duration(c.Cycle.ApplyTimeout))
	}
	if c.Cycle.ApplyConcurrency < 1 {
		return fmt.Errorf("cycle.apply_concurrency must be at least 1 (got %d)", c.Cycle.ApplyConcurrency)
	}
	if c.Cycle.ApplyRatePerMinute < 0 {
		return fmt.Errorf("cycle.apply_rate_per_minute cannot be negative (got %d)", c.Cycle.ApplyRatePerMinute)
	}
	if c.Cycle.NoiseThreshold < 0 || c.Cycle.NoiseThreshold >= 1 {
		return fmt.Errorf("cycle.noise_threshold must be in [0, 1) (got %g)", c.Cycle.NoiseThreshold)
	}
	if !types.AlertSeverity(c.Cycle.AlertTriggerSeverity).IsValid() {
		return fmt.Errorf("cycle.alert_trigger_severity must be low, medium, high, or critical (got %q)",
			c.Cycle.AlertTriggerSeverity)
	}
	for category, command := range c.Cycle.ApplyCommands {
		if strings.TrimSpace(command) == "" {
			return fmt.Errorf("cycle.apply_commands[%q] has no command", category)
		}
	}

	if c.Principles.SmoothingWeight <= 0 {
		return fmt.Errorf("principles.smoothing_weight must be positive (got %g)", c.Principles.SmoothingWeight)
	}
	if c.Principles.EvidenceHalfLife < 0 {
		return fmt.Errorf("principles.evidence_half_life cannot be negative (got %s)",
			time.Duration(c.Principles.EvidenceHalfLife))
	}
	if c.Principles.RetirementFloor < 0 || c.Principles.RetirementFloor >= 1 {
		return fmt.Errorf("principles.retirement_floor must be in [0, 1) (got %g)", c.Principles.RetirementFloor)
	}
	if c.Principles.MintPrior <= 0 || c.Principles.MintPrior > 1 {
		return fmt.Errorf("principles.mint_prior must be in (0, 1] (got %g)", c.Principles.MintPrior)
	}
	if c.Principles.MintCorroboration < 1 {
		return fmt.Errorf("principles.mint_corroboration must be at least 1 (got %d)", c.Principles.MintCorroboration)
	}
	if c.Principles.MintSuccessFloor < 0 || c.Principles.MintSuccessFloor > 1 {
		return fmt.Errorf("principles.mint_success_floor must be in [0, 1] (got %g)", c.Principles.MintSuccessFloor)
	}

	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive (got %s)", time.Duration(c.Monitor.Interval))
	}
	if c.Monitor.Window <= 0 {
		return fmt.Errorf("monitor.window must be positive (got %s)", time.Duration(c.Monitor.Window))
	}
	if c.Monitor.MinSamples < 1 {
		return fmt.Errorf("monitor.min_samples must be at least 1 (got %d)", c.Monitor.MinSamples)
	}

	if c.Observer.Window < 1 {
		return fmt.Errorf("observer.window must be at least 1 (got %d)", c.Observer.Window)
	}

	if c.Retention.Enabled {
		if c.Retention.Events <= 0 {
			return fmt.Errorf("retention.events must be positive (got %s)", time.Duration(c.Retention.Events))
		}
		if c.Retention.LinkedEvents < c.Retention.Events {
			return fmt.Errorf("retention.linked_events (%s) must be >= retention.events (%s)",
				time.Duration(c.Retention.LinkedEvents), time.Duration(c.Retention.Events))
		}
		if c.Retention.Runs <= 0 {
			return fmt.Errorf("retention.runs must be positive (got %s)", time.Duration(c.Retention.Runs))
		}
		if c.Retention.RunsKeep < 0 {
			return fmt.Errorf("retention.runs_keep cannot be negative (got %d)", c.Retention.RunsKeep)
		}
		if c.Retention.SweepEvery <= 0 {
			return fmt.Errorf("retention.sweep_every must be positive (got %s)", time.Duration(c.Retention.SweepEvery))
		}
		if c.Retention.Batch < 100 || c.Retention.Batch > 10000 {
			return fmt.Errorf("retention.batch must be between 100 and 10000 (got %d)", c.Retention.Batch)
		}
	}
	return nil
}

// SaveDefault writes the default configuration to path, creating parent
// directories. Refuses to overwrite an existing file.
func SaveDefault(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}
	header := "# kaizen configuration. Every field is optional; delete any\n# section to fall back to its defaults.\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ToStorage converts the storage section
func (c *Config) ToStorage() *storage.Config {
	return &storage.Config{
		Backend: c.Storage.Backend,
		Path:    c.Storage.Path,
		DSN:     c.Storage.DSN,
	}
}

// ToEngine converts the cycle section. Fields the file does not expose
// keep the engine's defaults.
func (c *Config) ToEngine() *engine.Config {
	cfg := engine.DefaultConfig()
	cfg.CycleInterval = time.Duration(c.Cycle.Interval)
	cfg.SettleDelay = time.Duration(c.Cycle.SettleDelay)
	cfg.NoiseThreshold = c.Cycle.NoiseThreshold
	cfg.MaxSuggestionsPerCycle = c.Cycle.MaxChanges
	cfg.MaxSuggestions = c.Cycle.MaxSuggestions
	cfg.PerSuggestionTimeout = time.Duration(c.Cycle.ApplyTimeout)
	cfg.MaxConcurrentApplies = c.Cycle.ApplyConcurrency
	cfg.AlertTriggerSeverity = types.AlertSeverity(c.Cycle.AlertTriggerSeverity)
	return cfg
}

// ToPrinciples converts the principles section
func (c *Config) ToPrinciples() *principles.Config {
	cfg := principles.DefaultConfig()
	cfg.PriorWeight = c.Principles.SmoothingWeight
	cfg.EvidenceHalfLife = time.Duration(c.Principles.EvidenceHalfLife)
	cfg.RetirementFloor = c.Principles.RetirementFloor
	cfg.MintPrior = c.Principles.MintPrior
	cfg.MintMinRuns = c.Principles.MintCorroboration
	cfg.MintMinSuccessRate = c.Principles.MintSuccessFloor
	return cfg
}

// ToMonitor converts the monitor section
func (c *Config) ToMonitor() *monitor.Config {
	cfg := monitor.DefaultConfig()
	cfg.Interval = time.Duration(c.Monitor.Interval)
	cfg.Window = time.Duration(c.Monitor.Window)
	cfg.MinSamples = c.Monitor.MinSamples
	cfg.Thresholds = c.Monitor.Thresholds
	return cfg
}

// ToObserver converts the observer section
func (c *Config) ToObserver() *observer.Config {
	return &observer.Config{WindowSize: c.Observer.Window}
}

// ToRetention converts the retention section
func (c *Config) ToRetention() *storage.RetentionConfig {
	cfg := storage.DefaultRetentionConfig()
	cfg.EventTTL = time.Duration(c.Retention.Events)
	cfg.LinkedEventTTL = time.Duration(c.Retention.LinkedEvents)
	cfg.RunTTL = time.Duration(c.Retention.Runs)
	cfg.RunsKeep = c.Retention.RunsKeep
	cfg.SweepInterval = time.Duration(c.Retention.SweepEvery)
	cfg.BatchSize = c.Retention.Batch
	return cfg
}

// ToOptimizer assembles the full optimizer configuration
func (c *Config) ToOptimizer() *optimizer.Config {
	cfg := optimizer.DefaultConfig()
	cfg.Monitor = c.ToMonitor()
	cfg.Principles = c.ToPrinciples()
	cfg.Engine = c.ToEngine()
	cfg.Observer = c.ToObserver()
	cfg.TriggerOnAlert = c.Monitor.TriggerOnAlert
	return cfg
}
