package bus

import (
	"context"
	"math/rand"
	"time"

	"github.com/sagapay/backend/pkg/logger"
)

const (
	defaultPublishAttempts = 3
	defaultPublishBackoff  = 200 * time.Millisecond
	maxPublishBackoff      = 5 * time.Second
	jitterWindow           = 50 * time.Millisecond
)

// RetryPublisher wraps a bus with capped producer-side retry. Transient
// publish failures are retried with backoff and jitter; exhaustion is
// returned to the caller, who decides whether the loss is fatal (the
// order-creation path logs and moves on, leaving the stuck order to
// monitoring).
type RetryPublisher struct {
	bus      Bus
	attempts int
	backoff  time.Duration
	logg     *logger.Logger
}

// NewRetryPublisher builds the wrapper; zero values fall back to defaults.
func NewRetryPublisher(b Bus, attempts int, backoff time.Duration, logg *logger.Logger) *RetryPublisher {
	if attempts <= 0 {
		attempts = defaultPublishAttempts
	}
	if backoff <= 0 {
		backoff = defaultPublishBackoff
	}
	return &RetryPublisher{bus: b, attempts: attempts, backoff: backoff, logg: logg}
}

// Publish attempts delivery up to the configured number of times.
func (r *RetryPublisher) Publish(ctx context.Context, topic string, env Envelope) error {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		lastErr = r.bus.Publish(ctx, topic, env)
		if lastErr == nil {
			return nil
		}

		if r.logg != nil {
			logCtx := r.logg.WithFields(ctx, map[string]any{
				"topic":    topic,
				"event_id": env.EventID,
				"attempt":  attempt,
			})
			r.logg.Warn(logCtx, "publish failed, backing off")
		}

		if attempt == r.attempts {
			break
		}
		backoff := r.backoff * time.Duration(1<<uint(attempt-1))
		if backoff > maxPublishBackoff {
			backoff = maxPublishBackoff
		}
		backoff += time.Duration(rand.Int63n(int64(jitterWindow)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return lastErr
}
