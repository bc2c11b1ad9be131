package util

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelstore/internal/common"
)

func TestRetryPendingEventuallySucceeds(t *testing.T) {
	ctx := context.Background()
	calls := 0
	err := Retry(ctx, func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("open m1: %w", common.ErrPendingTransaction)
		}
		return nil
	}, PendingRetryOptions(ctx, 5, time.Millisecond)...)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnOtherErrors(t *testing.T) {
	ctx := context.Background()
	calls := 0
	err := Retry(ctx, func() error {
		calls++
		return fmt.Errorf("read m1: %w", common.ErrCorrupt)
	}, PendingRetryOptions(ctx, 5, time.Millisecond)...)
	assert.ErrorIs(t, err, common.ErrCorrupt)
	assert.Equal(t, 1, calls, "non-pending errors are not retried")
}

func TestRetryGivesUp(t *testing.T) {
	ctx := context.Background()
	calls := 0
	err := Retry(ctx, func() error {
		calls++
		return common.ErrPendingTransaction
	}, PendingRetryOptions(ctx, 3, time.Millisecond)...)
	assert.True(t, errors.Is(err, common.ErrPendingTransaction))
	assert.Equal(t, 3, calls)
}

func TestRetryPendingDefaults(t *testing.T) {
	calls := 0
	err := RetryPending(context.Background(), func() error {
		calls++
		if calls == 1 {
			return common.ErrPendingTransaction
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
