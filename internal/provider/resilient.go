package provider

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/paulmach/orb"
	"github.com/sony/gobreaker/v2"

	"forestagree/internal/raster"
	"forestagree/internal/types"
)

// RetryPolicy configures retries of provider calls.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy returns the defaults for object-store backed providers.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		MinWait:    500 * time.Millisecond,
		MaxWait:    10 * time.Second,
	}
}

// RetryHook is called before every retry of a provider call.
type RetryHook func(ctx context.Context, datasetID string, attempt int, err error)

// Resilient wraps a Provider with a circuit breaker and retries of transient
// upstream failures. Errors that are not retryable pass through untouched
// and do not count against the breaker.
type Resilient struct {
	next    Provider
	breaker *gobreaker.CircuitBreaker[*raster.Raster]
	policy  RetryPolicy
	logger  *slog.Logger
	onRetry RetryHook
	sleepFn func(context.Context, time.Duration) error
}

var _ Provider = (*Resilient)(nil)

// ResilientOption is a functional option for configuring Resilient.
type ResilientOption func(*Resilient)

// WithSleepFunc overrides the wait between retries. Intended for tests.
func WithSleepFunc(fn func(context.Context, time.Duration) error) ResilientOption {
	return func(r *Resilient) {
		r.sleepFn = fn
	}
}

// WithRetryHook registers a callback invoked before each retry.
func WithRetryHook(hook RetryHook) ResilientOption {
	return func(r *Resilient) {
		r.onRetry = hook
	}
}

// WithLogger sets the logger used to report retries.
func WithLogger(logger *slog.Logger) ResilientOption {
	return func(r *Resilient) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResilient wraps next with a breaker named breakerName.
func NewResilient(next Provider, breakerName string, policy RetryPolicy, opts ...ResilientOption) *Resilient {
	cb := gobreaker.NewCircuitBreaker[*raster.Raster](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !types.IsRetryable(err)
		},
	})

	r := &Resilient{
		next:    next,
		breaker: cb,
		policy:  policy,
		logger:  slog.Default(),
		sleepFn: sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fetch implements Provider.
func (r *Resilient) Fetch(ctx context.Context, datasetID string, roi orb.Bound, dates *types.DateRange) (*raster.Raster, error) {
	return r.do(ctx, datasetID, func() (*raster.Raster, error) {
		return r.next.Fetch(ctx, datasetID, roi, dates)
	})
}

// FetchLabelModeComposite implements Provider.
func (r *Resilient) FetchLabelModeComposite(ctx context.Context, datasetID string, roi orb.Bound, dates *types.DateRange) (*raster.Raster, error) {
	return r.do(ctx, datasetID, func() (*raster.Raster, error) {
		return r.next.FetchLabelModeComposite(ctx, datasetID, roi, dates)
	})
}

func (r *Resilient) do(ctx context.Context, datasetID string, call func() (*raster.Raster, error)) (*raster.Raster, error) {
	var lastErr error
	maxAttempts := 1 + r.policy.MaxRetries
	for attempt := 0; attempt < maxAttempts; attempt++ {
		out, err := r.breaker.Execute(call)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, types.NewAppError(types.ErrCodeUpstreamProvider,
				"circuit breaker is open; provider unavailable", err)
		}
		if !types.IsRetryable(err) {
			return nil, err
		}
		if attempt == maxAttempts-1 {
			break
		}

		if r.onRetry != nil {
			r.onRetry(ctx, datasetID, attempt+1, err)
		}
		r.logger.WarnContext(ctx, "retrying provider call",
			"dataset", datasetID,
			"attempt", attempt+1,
			"error", err,
		)
		if err := r.sleepFn(ctx, r.computeBackoff(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// computeBackoff returns a full-jitter wait in [MinWait, min(MaxWait, MinWait*2^attempt)].
func (r *Resilient) computeBackoff(attempt int) time.Duration {
	base := float64(r.policy.MinWait) * math.Pow(2, float64(attempt))
	if maxWait := float64(r.policy.MaxWait); base > maxWait {
		base = maxWait
	}
	minWait := float64(r.policy.MinWait)
	if base <= minWait {
		return r.policy.MinWait
	}
	return time.Duration(minWait + rand.Float64()*(base-minWait))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
