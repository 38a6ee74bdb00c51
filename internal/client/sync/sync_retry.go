package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/openmined/syftsync/internal/datasite"
	"github.com/openmined/syftsync/internal/syftsdk"
)

// RetryPolicy is an exponential backoff for transport failures.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

var DefaultRetryPolicy = RetryPolicy{Attempts: 3, BaseDelay: 500 * time.Millisecond}

// retryTransport calls fn until it succeeds, fails with anything other than
// a transport error, or runs out of attempts. The delay doubles after every
// failure.
func retryTransport[T any](ctx context.Context, clock clockwork.Clock, policy RetryPolicy, op string, fn func(context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	delay := policy.BaseDelay

	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, syftsdk.ErrTransport) {
			return zero, err
		}
		lastErr = err
		if attempt == policy.Attempts {
			break
		}

		slog.Warn("sync retry", "op", op, "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-clock.After(delay):
		}
		delay *= 2
	}
	return zero, lastErr
}

func (se *SyncEngine) fetchRemoteState(ctx context.Context) (datasite.State, error) {
	return retryTransport(ctx, se.config.Clock, se.config.Retry, "datasite states", se.remote.DatasiteStates)
}
