package shared

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestRetryPolicy_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := NoWaitRetryPolicy(3).Do(context.Background(), nil, func(attempt int) error {
		calls++
		assert.Equal(t, calls, attempt)
		if attempt < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_StopsAtMaxAttempts(t *testing.T) {
	calls := 0
	err := NoWaitRetryPolicy(3).Do(context.Background(), nil, func(int) error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_NonRetryableErrorStopsImmediately(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	err := NoWaitRetryPolicy(5).Do(context.Background(), func(err error) bool {
		return errors.Is(err, errTransient)
	}, func(int) error {
		calls++
		return fatal
	})

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = RetryPolicy{}.Do(context.Background(), nil, func(int) error {
		calls++
		return errTransient
	})
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	policy := RetryPolicy{MaxAttempts: 5, InitialInterval: time.Hour}
	err := policy.Do(ctx, nil, func(int) error {
		calls++
		return errTransient
	})

	assert.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
}

func TestDomainError_IsMatchesByCode(t *testing.T) {
	reworded := NewDomainError("NOT_FOUND", "invoice not found")
	assert.ErrorIs(t, reworded, ErrNotFound)
	assert.NotErrorIs(t, reworded, ErrInvalidState)

	de, ok := AsDomainError(reworded)
	require.True(t, ok)
	assert.Equal(t, "invoice not found", de.Message)
}

func TestFilter_OffsetAndLimit(t *testing.T) {
	f := Filter{Page: 3, PageSize: 10}
	assert.Equal(t, 20, f.Offset())
	assert.Equal(t, 10, f.Limit())
	assert.Equal(t, 100, Filter{PageSize: 500}.Limit())
	assert.Equal(t, 0, Filter{}.Offset())
}
