package order

import (
	"context"
	"errors"
	"time"

	"restaurant-system/internal/models"
)

// RetryPolicy bounds how often a payment provider call is repeated
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// Do runs op until it succeeds, fails with a non-retryable error, runs out of
// attempts or ctx is done. The wait grows linearly with the attempt number.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = op(ctx); err == nil || !retryable(err) {
			return err
		}

		if i < attempts-1 {
			wait := time.Duration(i+1) * p.Backoff
			select {
			case <-ctx.Done():
				return err
			case <-time.After(wait):
			}
		}
	}
	return err
}

func retryable(err error) bool {
	var upstream *models.UpstreamError
	return errors.As(err, &upstream) && upstream.Retryable
}
