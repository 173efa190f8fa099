package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Policy describes bounded exponential backoff. The zero value performs a
// single attempt.
type Policy struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseDelay   time.Duration `yaml:"baseDelay"`
	MaxDelay    time.Duration `yaml:"maxDelay"`
	Jitter      float64       `yaml:"jitter"` // fraction of the delay, 0..1

	// Sleep waits between attempts. Nil means a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error `yaml:"-"`
}

// Backoff returns the delay after the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter > 0 {
		j := min(p.Jitter, 1)
		// uniform in [delay*(1-j), delay*(1+j)]
		spread := float64(delay) * j
		delay = time.Duration(float64(delay) - spread + rand.Float64()*2*spread)
	}
	return delay
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Do runs op until it succeeds, returns an error retryable rejects, or the
// attempt ceiling is reached. It returns the number of attempts made and
// the last error.
func (p Policy) Do(ctx context.Context, retryable func(error) bool, op func(ctx context.Context, attempt int) error) (int, error) {
	limit := p.attempts()
	var lastErr error
	for attempt := 1; attempt <= limit; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return attempt - 1, fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return attempt - 1, err
		}

		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if retryable != nil && !retryable(lastErr) {
			return attempt, lastErr
		}
		if attempt == limit {
			break
		}

		if err := p.sleep(ctx, p.Backoff(attempt)); err != nil {
			return attempt, fmt.Errorf("%w (last error: %v)", err, lastErr)
		}
	}
	return limit, lastErr
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
