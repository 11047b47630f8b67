package safepay

import (
	"fmt"
	"time"
)

// TimeoutConfig holds timeout configuration for calls to external
// collaborators. Every outbound call carries one of these bounds so a
// slow rail or parser converts into a typed failure, never an unbounded
// hang.
type TimeoutConfig struct {
	// RailTimeout is the maximum time to wait for settlement-rail calls.
	RailTimeout time.Duration

	// ParserTimeout is the maximum time to wait for the intent parser.
	ParserTimeout time.Duration

	// RequestTimeout is the overall timeout for outbound HTTP requests.
	RequestTimeout time.Duration
}

// DefaultTimeouts provides sensible defaults for external calls.
var DefaultTimeouts = TimeoutConfig{
	RailTimeout:    30 * time.Second,
	ParserTimeout:  10 * time.Second,
	RequestTimeout: 60 * time.Second,
}

// WithRailTimeout returns a new TimeoutConfig with updated rail timeout.
func (tc TimeoutConfig) WithRailTimeout(d time.Duration) TimeoutConfig {
	tc.RailTimeout = d
	return tc
}

// WithParserTimeout returns a new TimeoutConfig with updated parser timeout.
func (tc TimeoutConfig) WithParserTimeout(d time.Duration) TimeoutConfig {
	tc.ParserTimeout = d
	return tc
}

// Validate ensures timeout values are reasonable.
func (tc TimeoutConfig) Validate() error {
	if tc.RailTimeout <= 0 {
		return fmt.Errorf("rail timeout must be positive, got %v", tc.RailTimeout)
	}
	if tc.ParserTimeout <= 0 {
		return fmt.Errorf("parser timeout must be positive, got %v", tc.ParserTimeout)
	}
	if tc.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %v", tc.RequestTimeout)
	}
	if tc.RequestTimeout < tc.RailTimeout {
		return fmt.Errorf("request timeout (%v) should be >= rail timeout (%v)",
			tc.RequestTimeout, tc.RailTimeout)
	}
	return nil
}
