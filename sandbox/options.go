// Package sandbox provides a CodeRunner that evaluates JavaScript in an
// embedded engine where a materialized tools object is the only reachable
// capability.
package sandbox

import (
	"time"

	relay "github.com/nevindra/relay"
)

// Option configures a Runner.
type Option func(*runnerConfig)

type runnerConfig struct {
	timeout   time.Duration
	maxValue  int
	now       func() time.Time
	newCallID func() string
}

func defaultConfig() runnerConfig {
	return runnerConfig{
		timeout:   30 * time.Second,
		maxValue:  64 * 1024, // 64KB
		now:       time.Now,
		newCallID: relay.NewCallID,
	}
}

// WithTimeout sets the wall-clock bound on one evaluation.
// Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *runnerConfig) { c.timeout = d }
}

// WithMaxValue sets the maximum size in bytes of the serialized completion
// value. Larger values are truncated. Default: 64KB.
func WithMaxValue(bytes int) Option {
	return func(c *runnerConfig) { c.maxValue = bytes }
}

// WithClock overrides the receipt timestamp source. For tests.
func WithClock(now func() time.Time) Option {
	return func(c *runnerConfig) { c.now = now }
}

// WithCallIDs overrides the receipt callId generator. For tests.
func WithCallIDs(gen func() string) Option {
	return func(c *runnerConfig) { c.newCallID = gen }
}
