package visit

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/ehr/visitflow/internal/platform/apperr"
	"github.com/ehr/visitflow/internal/platform/db"
	"github.com/ehr/visitflow/internal/platform/metrics"
)

const retryBaseDelay = 5 * time.Millisecond

// retryable reports whether attempt lost a race and can be run again: a
// stale version, a taken visit number, or a Postgres serialization failure
// or deadlock.
func retryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrDuplicateNumber) || db.IsRetryable(err)
}

// retryOnConflict runs attempt until it succeeds, fails with an error that
// is not retryable, or attempts run out. Each lost race is counted under
// operation.
func retryOnConflict(ctx context.Context, attempts int, m *metrics.Metrics, operation string, attempt func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for i := 0; i < attempts; i++ {
		last = attempt(ctx)
		if !retryable(last) {
			return last
		}
		m.IncConflict(operation)
		if i == attempts-1 {
			break
		}
		delay := retryBaseDelay*time.Duration(i+1) + time.Duration(rand.Int63n(int64(retryBaseDelay)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return apperr.Wrap(apperr.KindConflict, last, "%s: gave up after %d concurrent updates, try again", operation, attempts)
}
