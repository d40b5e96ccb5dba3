package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/picklr-io/eksstack/internal/provider"
)

// DefaultTimeout is the per-call timeout for kinds without a policy entry.
const DefaultTimeout = 10 * time.Minute

// DefaultRetryMax is the default maximum number of retries for transient errors.
const DefaultRetryMax = 3

// RetryPolicy defines retry behavior for transient cloud API errors.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy waits 1s before the first retry, doubling up to 30s.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: DefaultRetryMax,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// WithTimeout wraps a context with a per-resource timeout.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// RetryWithBackoff calls fn until it succeeds, shouldRetry rejects its error,
// the policy's retries run out, or ctx ends while waiting.
func RetryWithBackoff(ctx context.Context, policy *RetryPolicy, fn func() error, shouldRetry func(error) bool) error {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}

	err := fn()
	for attempt := 0; err != nil && attempt < policy.MaxRetries; attempt++ {
		if !shouldRetry(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(calculateBackoff(attempt, policy.BaseDelay, policy.MaxDelay)):
		}
		err = fn()
	}
	switch {
	case err == nil:
		return nil
	case !shouldRetry(err):
		return err
	}
	return fmt.Errorf("max retries (%d) exceeded: %w", policy.MaxRetries, err)
}

// calculateBackoff picks a delay uniformly below base*2^attempt, capped at ceiling.
func calculateBackoff(attempt int, base, ceiling time.Duration) time.Duration {
	limit := math.Min(float64(base)*math.Pow(2, float64(attempt)), float64(ceiling))
	return time.Duration(rand.Float64() * limit)
}

// sdkRetryables are the checks the AWS SDK's own retryer applies: connection
// errors, retryable HTTP statuses and throttling codes.
var sdkRetryables = retry.IsErrorRetryables(retry.DefaultRetryables)

// ShouldRetry is the engine's retry predicate. A Create that left its object
// behind is never retried, nor is a permanent error; transient ones always
// are. Errors adapters left unclassified go through the SDK's checks.
func ShouldRetry(err error) bool {
	if err == nil || provider.IsPermanent(err) {
		return false
	}
	if _, partial := provider.AsPartial(err); partial {
		return false
	}
	if provider.IsTransient(err) {
		return true
	}
	return sdkRetryables.IsErrorRetryable(err) == aws.TrueTernary
}
