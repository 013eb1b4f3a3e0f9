// Package config loads the engine configuration from a YAML file and
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cisift/cisift/internal/dedup"
	"github.com/cisift/cisift/internal/metadata"
	"github.com/cisift/cisift/internal/tracker"
)

// Config is the full engine configuration.
type Config struct {
	// JournalPath is where the SQLite pipeline journal lives.
	JournalPath string `yaml:"journal_path"`

	// BranchPattern extracts the feature id from a branch name. The
	// first capture group is the id. Empty uses the built-in pattern.
	BranchPattern string `yaml:"branch_pattern"`

	// JobNames maps provider job ids to stable job names. CI providers
	// rename jobs freely; correlation keys must not drift with them.
	JobNames map[string]string `yaml:"job_names"`

	Dedup   DedupConfig   `yaml:"dedup"`
	Tracker TrackerConfig `yaml:"tracker"`
}

// DedupConfig mirrors the duplicate detector tunables.
type DedupConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	HeadTailLines       int     `yaml:"head_tail_lines"`
	MaxCandidates       int     `yaml:"max_candidates"`
	FailOpen            bool    `yaml:"fail_open"`
}

// TrackerConfig mirrors the tracker retry policy.
type TrackerConfig struct {
	MaxAttempts        int      `yaml:"max_attempts"`
	InitialBackoff     Duration `yaml:"initial_backoff"`
	BackoffMultiplier  float64  `yaml:"backoff_multiplier"`
	PerCallTimeout     Duration `yaml:"per_call_timeout"`
	RequestsPerSecond  float64  `yaml:"requests_per_second"`
	MaxConcurrentCalls int      `yaml:"max_concurrent_calls"`
}

// Duration decodes Go duration strings ("500ms", "30s") from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Default returns the default configuration.
func Default() *Config {
	d := dedup.DefaultConfig()
	r := tracker.DefaultRetryConfig()
	return &Config{
		JournalPath: defaultJournalPath(),
		Dedup: DedupConfig{
			SimilarityThreshold: d.SimilarityThreshold,
			HeadTailLines:       d.HeadTailLines,
			MaxCandidates:       d.MaxCandidates,
			FailOpen:            d.FailOpen,
		},
		Tracker: TrackerConfig{
			MaxAttempts:        r.MaxAttempts,
			InitialBackoff:     Duration(r.InitialBackoff),
			BackoffMultiplier:  r.BackoffMultiplier,
			PerCallTimeout:     Duration(r.PerCallTimeout),
			RequestsPerSecond:  r.RequestsPerSecond,
			MaxConcurrentCalls: r.MaxConcurrentCalls,
		},
	}
}

func defaultJournalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "cisift.db"
	}
	return filepath.Join(home, ".cisift", "journal.db")
}

// Load reads the file at path over the defaults, then applies
// environment overrides. A missing file is not an error; an unreadable
// or invalid one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays CISIFT_* environment variables, including the
// detector's CISIFT_DEDUP_* set, over whatever the file provided.
func (c *Config) applyEnv() error {
	if v := os.Getenv("CISIFT_JOURNAL_PATH"); v != "" {
		c.JournalPath = v
	}
	if v := os.Getenv("CISIFT_BRANCH_PATTERN"); v != "" {
		c.BranchPattern = v
	}

	d := c.DedupConfig()
	if err := d.ApplyEnv(); err != nil {
		return err
	}
	c.Dedup = DedupConfig{
		SimilarityThreshold: d.SimilarityThreshold,
		HeadTailLines:       d.HeadTailLines,
		MaxCandidates:       d.MaxCandidates,
		FailOpen:            d.FailOpen,
	}
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.JournalPath == "" {
		return fmt.Errorf("journal_path is required")
	}
	if c.BranchPattern != "" {
		if _, err := regexp.Compile(c.BranchPattern); err != nil {
			return fmt.Errorf("invalid branch_pattern: %w", err)
		}
	}
	if err := c.DedupConfig().Validate(); err != nil {
		return fmt.Errorf("dedup: %w", err)
	}
	if err := c.RetryConfig().Validate(); err != nil {
		return fmt.Errorf("tracker: %w", err)
	}
	return nil
}

// DedupConfig converts to the detector's config type.
func (c *Config) DedupConfig() dedup.Config {
	return dedup.Config{
		SimilarityThreshold: c.Dedup.SimilarityThreshold,
		HeadTailLines:       c.Dedup.HeadTailLines,
		MaxCandidates:       c.Dedup.MaxCandidates,
		FailOpen:            c.Dedup.FailOpen,
	}
}

// RetryConfig converts to the tracker's retry config type.
func (c *Config) RetryConfig() tracker.RetryConfig {
	return tracker.RetryConfig{
		MaxAttempts:        c.Tracker.MaxAttempts,
		InitialBackoff:     time.Duration(c.Tracker.InitialBackoff),
		BackoffMultiplier:  c.Tracker.BackoffMultiplier,
		PerCallTimeout:     time.Duration(c.Tracker.PerCallTimeout),
		RequestsPerSecond:  c.Tracker.RequestsPerSecond,
		MaxConcurrentCalls: c.Tracker.MaxConcurrentCalls,
	}
}

// JobResolver builds the job-name resolver from the configured mapping.
// Returns nil when no mapping is configured.
func (c *Config) JobResolver() metadata.JobNameResolver {
	if len(c.JobNames) == 0 {
		return nil
	}
	names := c.JobNames
	return func(jobID string) (string, bool) {
		name, ok := names[jobID]
		return name, ok
	}
}
