// Package backoff computes capped exponential delays with jitter and sleeps
// them under a context.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy defines an exponential backoff. Attempt numbers start at 1.
type Policy struct {
	// Initial is the delay after the first failed attempt.
	Initial time.Duration
	// Max caps every delay; zero means uncapped.
	Max time.Duration
	// Factor multiplies the delay per attempt. Values below 1 are treated as 1.
	Factor float64
	// Jitter is the fraction of the base delay added at random (0.0 to 1.0).
	Jitter float64
}

// Exponential doubles from initial with 10% jitter, capped at 30s.
func Exponential(initial time.Duration) Policy {
	return Policy{
		Initial: initial,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}

// Delay returns the wait before retrying after the given attempt.
func (p Policy) Delay(attempt int) time.Duration {
	return p.DelayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// DelayWithRand is Delay with a caller-supplied random value in [0, 1).
func (p Policy) DelayWithRand(attempt int, randomValue float64) time.Duration {
	if p.Initial <= 0 {
		return 0
	}
	factor := math.Max(p.Factor, 1)
	exp := math.Max(float64(attempt-1), 0)

	base := float64(p.Initial) * math.Pow(factor, exp)
	total := base + base*p.Jitter*randomValue
	if p.Max > 0 {
		total = math.Min(total, float64(p.Max))
	}
	return time.Duration(total)
}

// Wait sleeps for Delay(attempt), returning ctx.Err() if ctx ends first.
func (p Policy) Wait(ctx context.Context, attempt int) error {
	return Sleep(ctx, p.Delay(attempt))
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
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
