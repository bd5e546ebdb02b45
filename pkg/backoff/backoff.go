// Package backoff computes exponential retry delays with jitter.
package backoff

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"
)

const (
	defaultBase       = 500 * time.Millisecond
	defaultMultiplier = 2
)

// Policy describes an exponential backoff: Base * Multiplier^(attempt-1), capped at Max.
// With Jitter set, the returned delay lies between 50% and 100% of the computed value.
type Policy struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     bool
}

// Delay returns the wait before retry number attempt (1-based). Attempts below 1 are treated as 1.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = defaultBase
	}

	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = defaultMultiplier
	}

	maxDelay := p.Max
	if maxDelay < base {
		maxDelay = base
	}

	attempt = max(attempt, 1)

	d := float64(base)
	for i := 1; i < attempt; i++ {
		d *= multiplier
		if d >= float64(maxDelay) {
			d = float64(maxDelay)

			break
		}
	}

	delay := time.Duration(d)
	if p.Jitter {
		delay = jitter(delay)
	}

	return delay
}

// jitter returns a duration between 50% and 100% of duration to avoid thundering herd.
func jitter(duration time.Duration) time.Duration {
	const jitterHalf = 2

	half := duration / jitterHalf
	if half <= 0 {
		return duration
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return half
	}

	randVal := binary.BigEndian.Uint64(buf[:])

	//nolint:gosec // G115: modulo result is in [0, half), safe to convert to int64
	return half + time.Duration(int64(randVal%uint64(half.Nanoseconds())))
}

// Sleep blocks for d or until ctx is cancelled; returns the context error if cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// SleepFunc matches Sleep; callers take one so tests can skip real waits.
type SleepFunc func(ctx context.Context, d time.Duration) error
