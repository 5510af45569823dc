package realtime

import (
	"fmt"
	"math"
	"time"
)

// BackoffConfig shapes the delay between reconnect attempts.
//
// Delay for attempt n (1-based) is Initial*Multiplier^(n-1), capped at Max,
// then spread by ±Jitter. After MaxAttempts consecutive failures the manager
// stops and stays disconnected.
type BackoffConfig struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	Jitter      float64
	MaxAttempts int
}

// DefaultBackoff returns the production reconnect policy.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		Initial:     time.Second,
		Max:         30 * time.Second,
		Multiplier:  2,
		Jitter:      0.2,
		MaxAttempts: 10,
	}
}

// Validate checks field ranges.
func (b BackoffConfig) Validate() error {
	switch {
	case b.Initial <= 0:
		return fmt.Errorf("%w: backoff initial must be > 0", ErrConfig)
	case b.Max < b.Initial:
		return fmt.Errorf("%w: backoff max must be >= initial", ErrConfig)
	case b.Multiplier < 1:
		return fmt.Errorf("%w: backoff multiplier must be >= 1", ErrConfig)
	case b.Jitter < 0 || b.Jitter > 1:
		return fmt.Errorf("%w: backoff jitter must be within [0,1]", ErrConfig)
	case b.MaxAttempts < 1:
		return fmt.Errorf("%w: backoff max attempts must be >= 1", ErrConfig)
	}
	return nil
}

// Delay returns the wait before attempt (1-based). rnd must be in [0,1).
func (b BackoffConfig) Delay(attempt int, rnd float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt-1))
	if d > float64(b.Max) || math.IsInf(d, 0) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		d *= 1 + b.Jitter*(2*rnd-1)
	}
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Exhausted reports whether failures consecutive failures reach the ceiling.
func (b BackoffConfig) Exhausted(failures int) bool {
	return failures >= b.MaxAttempts
}
