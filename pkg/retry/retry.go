// Package retry runs remote calls with exponential backoff and jitter.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	log "github.com/sirupsen/logrus"
)

// Policy controls how often and how long Do waits between attempts.
type Policy struct {
	// MaxRetries is the number of additional attempts after the first one.
	MaxRetries int
	// BaseDelay is multiplied by 2^attempt before each retry.
	BaseDelay time.Duration
	// MaxJitter bounds the random delay added to each backoff.
	MaxJitter time.Duration
	// Retryable reports whether an error is worth another attempt.
	// A nil Retryable never retries.
	Retryable func(error) bool
}

// DefaultPolicy returns the policy used for Google Sheets calls.
func DefaultPolicy(retryable func(error) bool) Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  250 * time.Millisecond,
		MaxJitter:  120 * time.Millisecond,
		Retryable:  retryable,
	}
}

// Backoff returns the delay before retry number attempt (0-based), jitter excluded.
func (p Policy) Backoff(attempt int) time.Duration {
	return time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt)))
}

func (p Policy) jitter() time.Duration {
	if p.MaxJitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(p.MaxJitter)))
}

// Do executes op until it succeeds, fails with a non-retryable error, or the
// retry budget is spent. The last error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var (
		res T
		err error
	)
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		res, err = op(ctx)
		if err == nil {
			return res, nil
		}
		if p.Retryable == nil || !p.Retryable(err) || attempt == p.MaxRetries {
			break
		}

		wait := p.Backoff(attempt) + p.jitter()
		log.WithFields(log.Fields{
			"attempt": attempt + 1,
			"delay":   wait,
		}).Warnf("Transient store error, retrying: %v", err)

		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(wait):
		}
	}
	return res, err
}

// Run is Do for operations that only return an error.
func Run(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
