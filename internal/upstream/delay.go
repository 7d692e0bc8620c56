package upstream

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryDelay returns the wait before retry number attempt+1. A hint from the
// upstream, zero included, replaces the exponential delay.
func retryDelay(initial time.Duration, attempt int, hint time.Duration, hinted bool) time.Duration {
	if hinted {
		return hint
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	return initial << uint(attempt)
}

// hintedBackOff is a backoff.BackOff that follows retryDelay and reads the
// hint from the most recent failure.
type hintedBackOff struct {
	initial time.Duration
	attempt int
	hint    func() (time.Duration, bool)
}

var _ backoff.BackOff = (*hintedBackOff)(nil)

func (b *hintedBackOff) NextBackOff() time.Duration {
	hint, hinted := b.hint()
	d := retryDelay(b.initial, b.attempt, hint, hinted)
	b.attempt++
	return d
}

func (b *hintedBackOff) Reset() {
	b.attempt = 0
}
