// Package algorithms holds the delay policies used when a worker slot has
// to be respawned after a failed start.
package algorithms

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

const (
	maxShift = 62 // keeps 1<<n inside int64
)

// BackoffType defines the delay algorithm between spawn attempts.
type BackoffType int

const (
	// BackoffExponential uses simple exponential backoff (default).
	BackoffExponential BackoffType = iota
	// BackoffJittered adds random jitter so that many slots failing at once
	// do not retry in lockstep.
	BackoffJittered
)

// BackoffStrategy calculates the delay before a retry.
type BackoffStrategy interface {
	// NextDelay returns the delay before retry number attemptNumber
	// (0 = first retry after the initial failure).
	NextDelay(attemptNumber int) time.Duration
}

// NewBackoffStrategy creates a backoff strategy of the given type.
func NewBackoffStrategy(backoffType BackoffType, initialDelay, maxDelay time.Duration, jitterFactor float64) BackoffStrategy {
	if backoffType == BackoffJittered {
		return newJitteredBackoff(initialDelay, maxDelay, jitterFactor)
	}
	return newExponentialBackoff(initialDelay, maxDelay)
}

// exponentialBackoff implements initialDelay * 2^attempt capped at maxDelay.
type exponentialBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
}

func newExponentialBackoff(initialDelay, maxDelay time.Duration) *exponentialBackoff {
	return &exponentialBackoff{initialDelay: initialDelay, maxDelay: maxDelay}
}

func (eb *exponentialBackoff) NextDelay(attemptNumber int) time.Duration {
	return calcExponentialDelay(attemptNumber, eb.initialDelay, eb.maxDelay)
}

// jitteredBackoff scales the exponential delay by 1 ± jitterFactor.
//
// With jitterFactor=0.1 a base delay of 1s becomes a random value between
// 900ms and 1100ms.
type jitteredBackoff struct {
	initialDelay, maxDelay time.Duration
	jitterFactor           float64
	rng                    *rand.Rand
	mu                     sync.Mutex
}

func newJitteredBackoff(initialDelay, maxDelay time.Duration, jitterFactor float64) *jitteredBackoff {
	return &jitteredBackoff{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		jitterFactor: clamp(jitterFactor, 0, 1),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- crypto rand not needed for backoff jitter
	}
}

func (jb *jitteredBackoff) NextDelay(attemptNumber int) time.Duration {
	if attemptNumber < 0 {
		return 0
	}

	baseDelay := calcExponentialDelay(attemptNumber, jb.initialDelay, jb.maxDelay)

	jb.mu.Lock()
	jitterMultiplier := 1.0 + (jb.rng.Float64()*2-1)*jb.jitterFactor
	jb.mu.Unlock()

	return clamp(time.Duration(float64(baseDelay)*jitterMultiplier), 0, jb.maxDelay)
}

func calcExponentialDelay(attemptNumber int, initialDelay, maxDelay time.Duration) time.Duration {
	if attemptNumber < 0 {
		return 0
	}
	if attemptNumber >= maxShift {
		return maxDelay
	}

	delay := time.Duration(int64(1)<<uint(attemptNumber)) * initialDelay
	if delay > maxDelay || delay < 0 {
		return maxDelay
	}
	return delay
}

func clamp[N int | int64 | float64 | time.Duration](v, lo, hi N) N {
	return max(lo, min(v, hi))
}

// Retry calls fn until it succeeds, attempts are exhausted or ctx is done.
// fn receives the 0-based attempt number. The last error is returned.
func Retry(ctx context.Context, attempts int, strategy BackoffStrategy, fn func(attempt int) error) error {
	attempts = max(attempts, 1)

	var err error
	for attempt := range attempts {
		if attempt > 0 && strategy != nil {
			if delay := strategy.NextDelay(attempt - 1); delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}

		if err = fn(attempt); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}
