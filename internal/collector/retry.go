package collector

import (
	"context"
	"math/rand"
	"time"

	"github.com/devpulse/devpulse-go/internal/gitlab"
	"github.com/sirupsen/logrus"
)

// RetryPolicy controls backoff for retryable source errors (429 and 5xx).
// Hard client errors are never retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
}

// DefaultRetryPolicy matches the source platform's documented rate limits.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   2 * time.Second,
		MaxDelay:    2 * time.Minute,
		Jitter:      0.2,
	}
}

// Do runs fn, retrying retryable errors with exponential backoff. A server
// supplied Retry-After overrides the computed delay. Context cancellation
// stops retrying immediately.
func (p RetryPolicy) Do(ctx context.Context, logger *logrus.Logger, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !gitlab.IsRetryable(err) || attempt == p.MaxAttempts {
			return err
		}

		delay := p.delay(attempt)
		if ra := gitlab.RetryAfter(err); ra > 0 {
			delay = ra
		}
		logger.WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt,
			"delay":   delay,
		}).Warn("retryable source error, backing off")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		spread := float64(d) * p.Jitter
		d += time.Duration(rand.Float64()*2*spread - spread)
	}
	if d < 0 {
		d = p.BaseDelay
	}
	return d
}
