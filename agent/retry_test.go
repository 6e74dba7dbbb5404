package main

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetrier_TransientThenSuccess(t *testing.T) {
	r := newRetrier(1, 1, 3)

	calls := 0
	err := r.do(func() error {
		calls++
		if calls < 3 {
			return retryableError{err: errors.New("server busy")}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetrier_DefinitiveFailureNotRetried(t *testing.T) {
	r := newRetrier(1, 1, 3)

	calls := 0
	err := r.do(func() error {
		calls++
		return errors.New("unauthorized")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestRetrier_GivesUpAfterMaxRetries(t *testing.T) {
	r := newRetrier(1, 1, 2)

	calls := 0
	err := r.do(func() error {
		calls++
		return retryableError{err: errors.New("still busy")}
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
}

func TestRetrier_HonorsRetryAfterHint(t *testing.T) {
	r := newRetrier(1, 1, 1)

	start := time.Now()
	calls := 0
	err := r.do(func() error {
		calls++
		if calls == 1 {
			return retryableError{err: errors.New("rate limited"), after: 50 * time.Millisecond}
		}
		return nil
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestBackoffWithJitter_Bounded(t *testing.T) {
	initial := 500 * time.Millisecond
	max := 5 * time.Second
	for attempt := 0; attempt < 10; attempt++ {
		d := backoffWithJitter(initial, max, attempt)
		require.Greater(t, d, time.Duration(0))
		require.LessOrEqual(t, d, max)
	}
}

func TestIsTransient(t *testing.T) {
	require.False(t, isTransient(nil))
	require.False(t, isTransient(errors.New("plain")))
	require.True(t, isTransient(retryableError{err: errors.New("busy")}))
	require.True(t, isTransient(&timeoutError{}))
}

func TestRetryableStatus(t *testing.T) {
	require.False(t, retryableStatus(nil))
	require.False(t, retryableStatus(&http.Response{StatusCode: http.StatusUnauthorized}))
	require.False(t, retryableStatus(&http.Response{StatusCode: http.StatusConflict}))
	require.True(t, retryableStatus(&http.Response{StatusCode: http.StatusBadGateway}))
	require.True(t, retryableStatus(&http.Response{StatusCode: http.StatusTooManyRequests}))
}

type timeoutError struct{}

func (*timeoutError) Error() string   { return "timeout" }
func (*timeoutError) Timeout() bool   { return true }
func (*timeoutError) Temporary() bool { return true }
