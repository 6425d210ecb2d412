// Package backoff provides the retry delay policy used for transient
// collaborator failures. The policy is a value passed into the components
// that retry, so tests can swap in zero-delay policies instead of sleeping.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Default retry parameters for collaborator calls.
const (
	// DefaultMaxAttempts is the attempt ceiling per scoring pass.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the delay before the first retry.
	DefaultBaseDelay = 2 * time.Second

	// DefaultMaxDelay caps the delay between attempts.
	DefaultMaxDelay = 30 * time.Second

	// DefaultJitter is the default jitter fraction (10%).
	DefaultJitter = 0.1
)

// Policy maps an attempt number (1-based) to the delay before the next try.
type Policy interface {
	Delay(attempt int) time.Duration
}

// Exponential doubles the delay per attempt: base * 2^(attempt-1), capped at
// Max, with +/- Jitter fraction of randomness to avoid thundering herds.
type Exponential struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

// Default returns the exponential policy with default parameters.
func Default() Exponential {
	return Exponential{
		Base:   DefaultBaseDelay,
		Max:    DefaultMaxDelay,
		Jitter: DefaultJitter,
	}
}

// Delay implements Policy.
//
// Schedule with the default 2-second base:
//
//	attempt 1: 2s
//	attempt 2: 4s
//	attempt 3: 8s
//	attempt 4: 16s
//	attempt 5: 32s - capped at Max
func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	multiplier := math.Pow(2, float64(attempt-1))
	delay := time.Duration(float64(e.Base) * multiplier)

	if e.Max > 0 && delay > e.Max {
		delay = e.Max
	}

	if e.Jitter > 0 {
		delay = applyJitter(delay, e.Jitter)
	}

	return delay
}

func applyJitter(delay time.Duration, jitter float64) time.Duration {
	if jitter > 1 {
		jitter = 1
	}

	// Random value in [-jitter, +jitter] of the delay.
	spread := float64(delay) * jitter
	offset := (rand.Float64()*2 - 1) * spread

	return time.Duration(float64(delay) + offset)
}

// Fixed returns a policy with a constant delay between attempts.
// Fixed(0) is the zero-delay policy used in tests.
func Fixed(d time.Duration) Policy {
	return fixed(d)
}

type fixed time.Duration

func (f fixed) Delay(int) time.Duration { return time.Duration(f) }

// Schedule returns the delays for attempts 1..maxAttempts without jitter,
// for logging the expected retry schedule.
func (e Exponential) Schedule(maxAttempts int) []time.Duration {
	if maxAttempts <= 0 {
		return nil
	}

	plain := e
	plain.Jitter = 0

	schedule := make([]time.Duration, maxAttempts)
	for i := range schedule {
		schedule[i] = plain.Delay(i + 1)
	}
	return schedule
}

// Do runs fn up to maxAttempts times, sleeping policy.Delay(attempt) between
// attempts. It stops early when fn succeeds, when retryable reports the error
// as permanent, or when ctx is done. The last error is returned.
func Do(ctx context.Context, policy Policy, maxAttempts int, retryable func(error) bool, fn func(context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(policy.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
