package dedup

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the tunable constants of the duplicate detector. The
// similarity threshold and the head/tail window are configuration, not
// algorithmic constants: they were chosen empirically and carry no
// derivation.
type Config struct {
	// SimilarityThreshold is the minimum common-lines ratio (0.0-1.0)
	// for the similarity strategy to declare a duplicate.
	// Higher values = more conservative (fewer suppressed records,
	// more near-duplicate spam).
	// Default: 0.80
	SimilarityThreshold float64

	// HeadTailLines is how many lines from each end of the normalized
	// excerpts the head/tail strategy compares.
	// Default: 10
	HeadTailLines int

	// MaxCandidates caps how many open candidates one detection run
	// will compare against. Keeps a pathological candidate list from
	// stalling the pipeline.
	// Default: 50
	MaxCandidates int

	// FailOpen controls behavior when a candidate's body cannot be
	// parsed. When true the candidate is treated as not-a-duplicate so
	// a possibly-new failure is never silently suppressed.
	// Default: true
	FailOpen bool
}

// DefaultConfig returns the default detector configuration.
//
// The defaults prefer false-negative duplication (an extra record) over
// false-positive suppression (a silently lost bug).
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.80,
		HeadTailLines:       10,
		MaxCandidates:       50,
		FailOpen:            true,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.SimilarityThreshold < 0.0 || c.SimilarityThreshold > 1.0 {
		return fmt.Errorf("similarity_threshold must be between 0.0 and 1.0 (got %.2f)", c.SimilarityThreshold)
	}
	if c.HeadTailLines <= 0 {
		return fmt.Errorf("head_tail_lines must be positive (got %d)", c.HeadTailLines)
	}
	if c.HeadTailLines > 500 {
		return fmt.Errorf("head_tail_lines too large (got %d, max 500)", c.HeadTailLines)
	}
	if c.MaxCandidates <= 0 {
		return fmt.Errorf("max_candidates must be positive (got %d)", c.MaxCandidates)
	}
	if c.MaxCandidates > 500 {
		return fmt.Errorf("max_candidates too large (got %d, max 500)", c.MaxCandidates)
	}
	return nil
}

// String returns a human-readable representation of the config
func (c Config) String() string {
	return fmt.Sprintf("Config{Threshold: %.2f, HeadTail: %d, MaxCandidates: %d, FailOpen: %t}",
		c.SimilarityThreshold, c.HeadTailLines, c.MaxCandidates, c.FailOpen)
}

// ConfigFromEnv creates a Config from environment variables, falling
// back to defaults.
//
// Environment variables:
//   - CISIFT_DEDUP_SIMILARITY_THRESHOLD: Minimum common-lines ratio (default: 0.80)
//   - CISIFT_DEDUP_HEAD_TAIL_LINES: Head/tail window in lines (default: 10)
//   - CISIFT_DEDUP_MAX_CANDIDATES: Candidate comparison cap (default: 50)
//   - CISIFT_DEDUP_FAIL_OPEN: Treat unparseable candidates as not-duplicate (default: true)
//
// Returns an error if any environment variable has an invalid value.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration from environment: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays the CISIFT_DEDUP_* environment variables on top of
// the receiver's current values. Unset variables leave their fields
// alone, so file-loaded values survive. Validation is the caller's.
func (c *Config) ApplyEnv() error {
	if err := parseEnvFloat("CISIFT_DEDUP_SIMILARITY_THRESHOLD", &c.SimilarityThreshold); err != nil {
		return err
	}
	if err := parseEnvInt("CISIFT_DEDUP_HEAD_TAIL_LINES", &c.HeadTailLines); err != nil {
		return err
	}
	if err := parseEnvInt("CISIFT_DEDUP_MAX_CANDIDATES", &c.MaxCandidates); err != nil {
		return err
	}
	if err := parseEnvBool("CISIFT_DEDUP_FAIL_OPEN", &c.FailOpen); err != nil {
		return err
	}
	return nil
}

func parseEnvFloat(key string, dest *float64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

func parseEnvBool(key string, dest *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}
