// package retry wraps calls that cross an external boundary (ledger database,
// settlement RPC, LLM API) in a bounded exponential backoff with jitter.
// only errors marked transient are retried; everything else stops the loop.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// marks an infrastructure failure the caller may retry (timeouts, 5xx, connection resets)
var ErrTransient = errors.New("transient infrastructure failure")

type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return e.err.Error()
}

func (e *transientError) Unwrap() []error {
	return []error{e.err, ErrTransient}
}

// wraps err so that IsTransient reports true for it
func Transient(err error) error {
	if err == nil {
		return nil
	}

	if IsTransient(err) {
		return err
	}

	return &transientError{err: err}
}

// formats a new transient error
func Transientf(format string, args ...any) error {
	return Transient(fmt.Errorf(format, args...))
}

// reports whether err (or anything it wraps) is a transient failure.
// context deadline errors count as transient: a timeout is never a verdict.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}

// holds the bounded retry settings
type Policy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          float64 // randomization factor, 0.5 means +/-50%
	MaxElapsed      time.Duration
}

// returns the policy used for settlement and LLM calls
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     4,
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2,
		Jitter:          0.5,
		MaxElapsed:      15 * time.Second,
	}
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	return b
}

// runs op until it succeeds, returns a non-transient error, or the policy is exhausted.
// the last error is returned unchanged so callers can still classify it.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	opts := []backoff.RetryOption{backoff.WithBackOff(p.backOff())}

	if p.MaxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(p.MaxAttempts))
	}

	if p.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(p.MaxElapsed))
	}

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}

		if !IsTransient(err) || ctx.Err() != nil {
			return v, backoff.Permanent(err)
		}

		return v, err
	}, opts...)
}
