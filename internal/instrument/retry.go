package instrument

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/goatkit/tickettransfer/internal/logger"
)

// RetryPolicy controls Retry.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	// RetryIf decides whether an error is worth another attempt. Defaults to IsTimeout.
	RetryIf func(error) bool
}

// DefaultRetryPolicy is three attempts starting at one second, doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: time.Second, Multiplier: 2}
}

// Retry runs op until it succeeds, returns a non-retryable error, exhausts
// the attempts or ctx is done. The last error is returned.
func Retry(ctx context.Context, p RetryPolicy, log logrus.FieldLogger, op Operation) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	retryIf := p.RetryIf
	if retryIf == nil {
		retryIf = IsTimeout
	}
	entry := logger.Component(log, "retry")

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Delay
	eb.Multiplier = p.Multiplier
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	if p.MaxDelay > 0 {
		eb.MaxInterval = p.MaxDelay
	} else {
		eb.MaxInterval = time.Hour
	}

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1)), ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !retryIf(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		entry.WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": p.MaxAttempts,
			"retry_in":     wait.String(),
		}).WithError(err).Warn("attempt failed, retrying")
	})
}
