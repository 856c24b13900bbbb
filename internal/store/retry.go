package store

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const maxRetries = 3

// withRetry runs fn with exponential backoff for transient storage failures.
// Validation failures are deterministic and short-circuit immediately.
func withRetry(ctx context.Context, log zerolog.Logger, op string, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	attempt := 0
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		attempt++
		log.Warn().Str("op", op).Int("attempt", attempt).Err(err).Msg("transient storage failure, retrying")
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx))
}

func isPermanent(err error) bool {
	return errors.Is(err, ErrDimensionMismatch) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
