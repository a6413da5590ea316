package crawler

import (
	"fmt"
	"time"
)

// Run defaults.
const (
	DefaultConcurrency   = 160
	DefaultFetchTimeout  = 12 * time.Second
	DefaultRetryAttempts = 3
	DefaultRetryBackoff  = 150 * time.Millisecond
	DefaultRetryJitter   = 10 * time.Millisecond
	DefaultProbeCeiling  = 999
	DefaultProbeMisses   = 3
	DefaultShutdownGrace = 15 * time.Second
)

// Config captures every knob that influences a crawl run. It is decoupled
// from Viper so the engine can be configured directly in tests.
type Config struct {
	Concurrency   int
	FetchTimeout  time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
	RetryJitter   time.Duration
	// ProbeCeiling bounds sequential probing when a category has no page-count
	// marker. The dead-page predicate is the real stop condition.
	ProbeCeiling int
	// ProbeMisses is how many consecutive unresolvable pages end probing.
	ProbeMisses   int
	ShutdownGrace time.Duration
	// MaxCategories and MaxLeaves cap partial runs; zero means unlimited.
	MaxCategories int
	MaxLeaves     int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:   DefaultConcurrency,
		FetchTimeout:  DefaultFetchTimeout,
		RetryAttempts: DefaultRetryAttempts,
		RetryBackoff:  DefaultRetryBackoff,
		RetryJitter:   DefaultRetryJitter,
		ProbeCeiling:  DefaultProbeCeiling,
		ProbeMisses:   DefaultProbeMisses,
		ShutdownGrace: DefaultShutdownGrace,
	}
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("crawler.fetch_timeout must be > 0")
	}
	if c.RetryAttempts <= 0 {
		return fmt.Errorf("crawler.retry_attempts must be > 0")
	}
	if c.RetryBackoff < 0 || c.RetryJitter < 0 {
		return fmt.Errorf("crawler retry delays must be >= 0")
	}
	if c.ProbeCeiling < 1 {
		return fmt.Errorf("crawler.probe_ceiling must be >= 1")
	}
	if c.ProbeMisses < 1 {
		return fmt.Errorf("crawler.probe_misses must be >= 1")
	}
	if c.ShutdownGrace < 0 {
		return fmt.Errorf("crawler.shutdown_grace must be >= 0")
	}
	if c.MaxCategories < 0 || c.MaxLeaves < 0 {
		return fmt.Errorf("crawler limits must be >= 0")
	}
	return nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.ProbeCeiling <= 0 {
		c.ProbeCeiling = d.ProbeCeiling
	}
	if c.ProbeMisses <= 0 {
		c.ProbeMisses = d.ProbeMisses
	}
	return c
}
