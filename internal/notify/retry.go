package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/pulsewatch/pulsewatch/internal/config"
	"github.com/pulsewatch/pulsewatch/internal/metrics"
)

// retrier is the delivery retry state machine: attempt counter plus the next
// inter-attempt delay, advanced by multiplicative backoff and capped at the
// policy's max delay. Keeping it an explicit struct (rather than nested
// callbacks) makes cancellation and the backoff sequence easy to test.
type retrier struct {
	policy  config.RetryConfig
	attempt int
	delay   time.Duration
}

func newRetrier(policy config.RetryConfig) *retrier {
	return &retrier{policy: policy, delay: policy.InitialDelay}
}

// next advances the state machine by one attempt. It returns the delay to
// wait before that attempt (zero for the first) and false once the policy's
// attempt budget is spent.
func (r *retrier) next() (time.Duration, bool) {
	r.attempt++
	if r.attempt > r.policy.MaxAttempts {
		return 0, false
	}
	if r.attempt == 1 {
		return 0, true
	}

	d := r.delay
	r.delay = time.Duration(float64(r.delay) * r.policy.Multiplier)
	if r.delay > r.policy.MaxDelay {
		r.delay = r.policy.MaxDelay
	}
	if d > r.policy.MaxDelay {
		d = r.policy.MaxDelay
	}
	return d, true
}

// deliver runs one notifier's retry loop for a rendered message. Each attempt
// is bounded by the policy's per-attempt timeout; the first success stops the
// loop. It returns the number of attempts made and the last error, nil on
// success. ctx cancellation aborts both waits and in-flight attempts.
func deliver(ctx context.Context, n Notifier, subject, body string, policy config.RetryConfig) (int, error) {
	r := newRetrier(policy)
	var lastErr error

	for {
		wait, ok := r.next()
		if !ok {
			return r.attempt - 1, lastErr
		}

		if wait > 0 {
			select {
			case <-ctx.Done():
				return r.attempt - 1, ctx.Err()
			case <-time.After(wait):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
		err := n.Send(attemptCtx, subject, body)
		cancel()

		if err == nil {
			metrics.DeliveryAttempts.WithLabelValues(n.Name(), "success").Inc()
			return r.attempt, nil
		}
		lastErr = err
		metrics.DeliveryAttempts.WithLabelValues(n.Name(), "failure").Inc()
		slog.Warn("notify: delivery attempt failed",
			"notifier", n.Name(), "attempt", r.attempt, "err", err)

		if ctx.Err() != nil {
			return r.attempt, ctx.Err()
		}
	}
}
