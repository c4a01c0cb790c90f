// Package retry re-runs operations that lost an optimistic-concurrency race.
package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/wakala/tradeguard/internal/domain"
)

type Options struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Logger       *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = 5 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 100 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// OnConflict runs op until it succeeds, fails with an error other than
// domain.ErrConcurrencyConflict, or runs out of attempts. The last error is
// returned unchanged so callers still see its kind.
func OnConflict(ctx context.Context, opts Options, op func(ctx context.Context) error) error {
	opts = opts.withDefaults()
	delay := opts.InitialDelay

	var err error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err = op(ctx); err == nil || !errors.Is(err, domain.ErrConcurrencyConflict) {
			return err
		}
		if attempt == opts.MaxAttempts {
			break
		}

		opts.Logger.Debug("concurrency conflict, retrying",
			zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
	}
	return err
}
