// Package retry runs fallible operations with capped exponential backoff.
//
// Three flavours are provided: Do retries every error, DoWithJitter adds a
// random component to each delay, and DoSmart gives up immediately on errors
// that IsRetryable does not recognise as transient.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Options configures a retry loop. A zero Options retries nothing.
type Options struct {
	// MaxRetries is the number of retries after the first attempt, so an
	// operation runs at most MaxRetries+1 times.
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// OnRetry is called before each wait with the 1-based retry number and
	// the error that triggered it.
	OnRetry func(attempt int, err error)

	// sleep waits for d or until ctx is done. Tests replace it.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultOptions returns 3 retries starting at 100ms, doubling, capped at 5s.
func DefaultOptions() Options {
	return Options{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
	}
}

// WithMaxRetries returns a copy of o with MaxRetries replaced.
func (o Options) WithMaxRetries(n int) Options {
	o.MaxRetries = n
	return o
}

// Delay returns the capped backoff before retry number attempt+1, where
// attempt counts from zero.
func (o Options) Delay(attempt int) time.Duration {
	mult := o.Multiplier
	if mult <= 0 {
		mult = 1
	}
	d := float64(o.InitialDelay) * math.Pow(mult, float64(attempt))
	if o.MaxDelay > 0 && d > float64(o.MaxDelay) {
		return o.MaxDelay
	}
	return time.Duration(d)
}

// Do runs fn until it succeeds or MaxRetries retries have failed. The final
// error is returned unchanged.
func Do[T any](ctx context.Context, opts Options, fn func(ctx context.Context) (T, error)) (T, error) {
	return run(ctx, opts, fn, opts.Delay, nil)
}

// DoWithJitter behaves like Do but adds a uniformly random amount in
// [0, base] to each delay to spread out synchronized retries.
func DoWithJitter[T any](ctx context.Context, opts Options, fn func(ctx context.Context) (T, error)) (T, error) {
	delay := func(attempt int) time.Duration {
		base := opts.Delay(attempt)
		if base <= 0 {
			return 0
		}
		return base + time.Duration(rand.Int63n(int64(base)+1))
	}
	return run(ctx, opts, fn, delay, nil)
}

// DoSmart behaves like Do but returns at once, without waiting, when fn
// fails with an error IsRetryable rejects.
func DoSmart[T any](ctx context.Context, opts Options, fn func(ctx context.Context) (T, error)) (T, error) {
	return run(ctx, opts, fn, opts.Delay, IsRetryable)
}

func run[T any](
	ctx context.Context,
	opts Options,
	fn func(ctx context.Context) (T, error),
	delay func(attempt int) time.Duration,
	retryable func(error) bool,
) (T, error) {
	sleep := opts.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var (
		result T
		err    error
	)
	for attempt := 0; ; attempt++ {
		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}
		if attempt >= opts.MaxRetries {
			return result, err
		}
		if retryable != nil && !retryable(err) {
			return result, err
		}

		if opts.OnRetry != nil {
			opts.OnRetry(attempt+1, err)
		}
		if serr := sleep(ctx, delay(attempt)); serr != nil {
			return result, errors.Join(err, serr)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
