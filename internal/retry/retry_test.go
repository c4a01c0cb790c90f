package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wakala/tradeguard/internal/domain"
)

func TestOnConflict(t *testing.T) {
	ctx := context.Background()
	conflict := fmt.Errorf("%w: alert a1", domain.ErrConcurrencyConflict)

	t.Run("succeeds after conflicts", func(t *testing.T) {
		calls := 0
		err := OnConflict(ctx, Options{MaxAttempts: 3}, func(context.Context) error {
			calls++
			if calls < 3 {
				return conflict
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up with the conflict", func(t *testing.T) {
		calls := 0
		err := OnConflict(ctx, Options{MaxAttempts: 2}, func(context.Context) error {
			calls++
			return conflict
		})
		assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)
		assert.Equal(t, 2, calls)
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		err := OnConflict(ctx, Options{}, func(context.Context) error {
			calls++
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context stops retries", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := OnConflict(cctx, Options{MaxAttempts: 5}, func(context.Context) error { return conflict })
		assert.ErrorIs(t, err, context.Canceled)
	})
}
