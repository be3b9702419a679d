package dispatch

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultRetryInterval is the fixed delay between two search-and-send cycles.
const DefaultRetryInterval = 10 * time.Second

// RetryPolicy controls the search-and-send loop. Every failure is retryable
// and waits the same Interval. MaxAttempts of zero means no upper bound,
// which is the normal mode of operation: a payload is kept until some
// worker acknowledges it or the context is canceled.
type RetryPolicy struct {
	Interval    time.Duration
	MaxAttempts uint64
}

// DefaultRetryPolicy waits DefaultRetryInterval and never gives up.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Interval: DefaultRetryInterval}
}

// BackOff builds the backoff driving one Send call.
func (p RetryPolicy) BackOff(ctx context.Context) backoff.BackOffContext {
	var b backoff.BackOff = backoff.NewConstantBackOff(p.Interval)
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, p.MaxAttempts-1)
	}
	return backoff.WithContext(b, ctx)
}
