package service

import (
	"context"
	"time"
)

// RetryPolicy bounds a retry loop.
type RetryPolicy struct {
	Attempts int           // total tries, at least 1
	Backoff  time.Duration // wait between tries, multiplied by the attempt number
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts run out
// or ctx is done. The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, retryable func(error) bool, fn func(attempt int) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if !retryable(err) || attempt == attempts {
			return err
		}
		if p.Backoff > 0 {
			timer := time.NewTimer(p.Backoff * time.Duration(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return err
}
