package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoReturnsOnNonRetryable(t *testing.T) {
	r := New(3, time.Millisecond, 10*time.Millisecond)

	calls := 0
	err := r.Do(context.Background(), func() (bool, error) {
		calls++
		return false, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	r := New(3, time.Millisecond, 10*time.Millisecond)

	calls := 0
	err := r.Do(context.Background(), func() (bool, error) {
		calls++
		if calls < 3 {
			return true, errors.New("transient")
		}
		return false, nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoExhaustsBudget(t *testing.T) {
	r := New(2, time.Millisecond, 10*time.Millisecond)

	transient := errors.New("still down")
	calls := 0
	err := r.Do(context.Background(), func() (bool, error) {
		calls++
		return true, transient
	})
	require.ErrorIs(t, err, transient)
	require.Equal(t, 3, calls)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	r := New(5, 50*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := r.Do(ctx, func() (bool, error) {
		calls++
		return true, errors.New("transient")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestBackoffIsCapped(t *testing.T) {
	r := New(10, 100*time.Millisecond, 300*time.Millisecond)

	require.Equal(t, 100*time.Millisecond, r.backoff(0))
	require.Equal(t, 200*time.Millisecond, r.backoff(1))
	require.Equal(t, 300*time.Millisecond, r.backoff(2))
	require.Equal(t, 300*time.Millisecond, r.backoff(5))
}
