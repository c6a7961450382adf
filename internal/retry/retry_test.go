// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func policy(max int) Policy {
	return Policy{Op: "test", MaxRetries: max, Delay: time.Millisecond, Logger: zerolog.Nop()}
}

func TestDo_PermanentFailureCallsMaxPlusOne(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), policy(5), func(context.Context, int) (string, error) {
		calls++
		return "", errBoom
	})

	require.Error(t, err)
	assert.Equal(t, 6, calls)
	assert.ErrorIs(t, err, ErrRetryExhausted)
	assert.ErrorIs(t, err, errBoom)
}

func TestDo_SucceedsOnThirdCall(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), policy(5), func(_ context.Context, attempt int) (int, error) {
		calls++
		if attempt < 3 {
			return 0, errBoom
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestDo_ZeroRetriesRunsOnce(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), policy(0), func(context.Context, int) (struct{}, error) {
		calls++
		return struct{}{}, errBoom
	})
	assert.ErrorIs(t, err, ErrRetryExhausted)
	assert.Equal(t, 1, calls)
}

func TestDo_FixedDelayBetweenCalls(t *testing.T) {
	p := policy(2)
	p.Delay = 30 * time.Millisecond

	start := time.Now()
	_, _ = Do(context.Background(), p, func(context.Context, int) (int, error) { return 0, errBoom })
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestDo_ContextCancelStopsEarly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := policy(10)
	p.Delay = 20 * time.Millisecond

	calls := 0
	_, err := Do(ctx, p, func(context.Context, int) (int, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return 0, errBoom
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrRetryExhausted)
	assert.Less(t, calls, 11)
}

func TestWithBoundedRetry(t *testing.T) {
	calls := 0
	_, err := WithBoundedRetry(context.Background(), "archive_start", 5, time.Millisecond, func(context.Context) (string, error) {
		calls++
		return "", errBoom
	})
	assert.ErrorIs(t, err, ErrRetryExhausted)
	assert.Equal(t, 6, calls)
}
