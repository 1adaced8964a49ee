// Package backoff holds the capped exponential wait policy shared by the
// Redis connector, the change feed reconnect loop and repository retries.
package backoff

import (
	"context"
	"time"
)

// Policy doubles the wait after every attempt, capped at Max.
type Policy struct {
	Initial time.Duration // first wait (ex: 2s)
	Max     time.Duration // cap between attempts (ex: 10s)
}

// Backoff tracks the next wait for one retry loop. Not safe for concurrent use.
type Backoff struct {
	policy Policy
	next   time.Duration
}

// New starts a retry loop at p.Initial.
func (p Policy) New() *Backoff {
	return &Backoff{policy: p, next: p.Initial}
}

// Next returns the wait before the upcoming attempt and advances the policy.
func (b *Backoff) Next() time.Duration {
	wait := b.next
	if wait <= 0 {
		wait = time.Millisecond
	}

	b.next = wait * 2
	if b.policy.Max > 0 && b.next > b.policy.Max {
		b.next = b.policy.Max
	}
	if b.policy.Max > 0 && wait > b.policy.Max {
		wait = b.policy.Max
	}
	return wait
}

// Reset returns the policy to its initial wait, typically after a success.
func (b *Backoff) Reset() { b.next = b.policy.Initial }

// Sleep waits for d or until ctx is done. It reports false when ctx ended first.
func Sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// TimeLeft returns the remaining time before the context deadline.
func TimeLeft(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	return time.Until(deadline)
}
