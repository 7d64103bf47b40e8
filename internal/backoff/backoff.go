// Package backoff retries an operation on a Fibonacci delay schedule bounded
// by a per-step cap and an overall wall-clock budget. The schedule is built
// from go-retry backoffs; the loops here add predicate-based retry and an
// injectable clock.
//
// Two retry forms are provided:
//   - OnPredicate keeps calling op while retryIf reports the value as not yet
//     acceptable (e.g. an empty list or a nil result).
//   - OnError keeps calling op while it returns an error classified as retryable.
//
// Once the budget is spent the last observed value (or error) is returned as is;
// running out of time is not itself an error.
package backoff

import (
	"context"
	"fmt"
	"time"

	retry "github.com/sethvargo/go-retry"
)

const (
	// DefaultUnit is the duration of one Fibonacci step.
	DefaultUnit = time.Second
	// DefaultMaxDelay caps a single wait (100 Fibonacci units).
	DefaultMaxDelay = 100 * time.Second
	// DefaultMaxElapsed is the total budget measured from the first attempt.
	DefaultMaxElapsed = 3600 * time.Second
)

// Policy describes the delay schedule and budget.
type Policy struct {
	Unit       time.Duration
	MaxDelay   time.Duration
	MaxElapsed time.Duration

	// OnRetry, if set, is called before each wait with the 1-based number of the
	// attempt that just failed and the delay about to be slept.
	OnRetry func(attempt int, delay time.Duration)

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns the 1s-unit, 100s-cap, 3600s-budget schedule.
func DefaultPolicy() Policy {
	return Policy{
		Unit:       DefaultUnit,
		MaxDelay:   DefaultMaxDelay,
		MaxElapsed: DefaultMaxElapsed,
	}
}

// WithClock returns a copy of p that reads time from now and waits with sleep.
// Tests use it to drive the schedule without real waiting.
func (p Policy) WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Policy {
	p.now = now
	p.sleep = sleep
	return p
}

// Validate reports obviously broken policies.
func (p Policy) Validate() error {
	if p.Unit <= 0 {
		return fmt.Errorf("backoff: unit must be > 0 (got %s)", p.Unit)
	}
	if p.MaxDelay <= 0 {
		return fmt.Errorf("backoff: max delay must be > 0 (got %s)", p.MaxDelay)
	}
	if p.MaxElapsed < 0 {
		return fmt.Errorf("backoff: max elapsed must be >= 0 (got %s)", p.MaxElapsed)
	}
	return nil
}

// Delay returns the wait before retry number attempt (0-based), ignoring the budget.
func (p Policy) Delay(attempt int) time.Duration {
	b := p.steps()
	var d time.Duration
	for i := 0; i <= attempt; i++ {
		d, _ = b.Next()
	}
	return d
}

// steps is the capped Fibonacci sequence 1,1,2,3,5,... units. go-retry's
// Fibonacci starts at 1,2,3 so the first unit is emitted separately.
func (p Policy) steps() retry.Backoff {
	unit := p.Unit
	if unit <= 0 {
		unit = DefaultUnit
	}
	var b retry.Backoff = withLeadingStep(unit, retry.NewFibonacci(unit))
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	return b
}

// schedule bounds steps by the budget, measured with now from start. The
// final delay is truncated so waiting never outlasts the budget.
func (p Policy) schedule(now func() time.Time, start time.Time) retry.Backoff {
	next := p.steps()
	return retry.BackoffFunc(func() (time.Duration, bool) {
		remaining := p.MaxElapsed - now().Sub(start)
		if remaining <= 0 {
			return 0, true
		}
		d, stop := next.Next()
		if stop {
			return 0, true
		}
		if d > remaining {
			d = remaining
		}
		return d, false
	})
}

func withLeadingStep(d time.Duration, next retry.Backoff) retry.Backoff {
	first := true
	return retry.BackoffFunc(func() (time.Duration, bool) {
		if first {
			first = false
			return d, false
		}
		return next.Next()
	})
}

func (p Policy) clock() (func() time.Time, func(ctx context.Context, d time.Duration) error) {
	now := p.now
	if now == nil {
		now = time.Now
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return now, sleep
}

func sleepContext(ctx context.Context, d time.Duration) error {
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

// wait takes the next delay from b and sleeps it. It returns done=true when
// the budget is spent and the caller must stop.
func (p Policy) wait(ctx context.Context, b retry.Backoff, attempt int) (done bool, err error) {
	_, sleep := p.clock()

	delay, stop := b.Next()
	if stop {
		return true, nil
	}
	if p.OnRetry != nil {
		p.OnRetry(attempt+1, delay)
	}
	if err := sleep(ctx, delay); err != nil {
		return true, err
	}
	return false, nil
}

// OnPredicate calls op until retryIf returns false for its result or the budget
// is exhausted, and returns the last result. A non-nil error is only returned
// when ctx ends while waiting.
func OnPredicate[T any](ctx context.Context, p Policy, op func(ctx context.Context) T, retryIf func(T) bool) (T, error) {
	now, _ := p.clock()
	b := p.schedule(now, now())

	for attempt := 0; ; attempt++ {
		v := op(ctx)
		if !retryIf(v) {
			return v, nil
		}
		if ctx.Err() != nil {
			return v, ctx.Err()
		}
		done, err := p.wait(ctx, b, attempt)
		if done {
			return v, err
		}
	}
}

// OnError calls op until it succeeds, returns an error that retryable rejects,
// or the budget is exhausted. In the last case the final error is returned.
func OnError[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error), retryable func(error) bool) (T, error) {
	now, _ := p.clock()
	b := p.schedule(now, now())

	for attempt := 0; ; attempt++ {
		v, err := op(ctx)
		if err == nil || !retryable(err) {
			return v, err
		}
		if ctx.Err() != nil {
			return v, err
		}
		done, waitErr := p.wait(ctx, b, attempt)
		if done {
			if waitErr != nil {
				return v, fmt.Errorf("%w (retry interrupted: %v)", err, waitErr)
			}
			return v, err
		}
	}
}

// IsEmpty is a retryIf predicate for slices.
func IsEmpty[E any](v []E) bool {
	return len(v) == 0
}

// IsNil is a retryIf predicate for pointers.
func IsNil[E any](v *E) bool {
	return v == nil
}
