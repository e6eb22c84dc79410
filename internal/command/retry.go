package command

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/eaglebank/ledger/internal/domain"
)

const (
	retryBaseDelay = 10 * time.Millisecond
	retryMaxDelay  = 250 * time.Millisecond
)

// retryOnConflict runs op until it succeeds, fails with anything other than a
// concurrency conflict, or maxAttempts is reached. onRetry is called before
// each repeat.
func retryOnConflict(ctx context.Context, maxAttempts int, op func() error, onRetry func(attempt int)) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil || !errors.Is(err, domain.ErrConcurrencyConflict) || attempt >= maxAttempts {
			return err
		}
		if onRetry != nil {
			onRetry(attempt)
		}

		timer := time.NewTimer(backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}

// backoff doubles per attempt up to retryMaxDelay, with jitter over the upper half.
func backoff(attempt int) time.Duration {
	d := retryBaseDelay << (attempt - 1)
	if d <= 0 || d > retryMaxDelay {
		d = retryMaxDelay
	}
	half := d / 2
	return half + rand.N(half+1)
}
