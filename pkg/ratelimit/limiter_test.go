package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiter_SixthFailureDenied(t *testing.T) {
	l := NewLimiter(5, time.Minute)

	base := time.Now()
	l.now = func() time.Time { return base }

	for i := 0; i < 5; i++ {
		require.True(t, l.Allow("client").Allowed)
		l.Failure("client")
	}

	decision := l.Allow("client")
	require.False(t, decision.Allowed)
	require.Greater(t, decision.RetryAfter, time.Duration(0))
}

func TestLimiter_WindowElapses(t *testing.T) {
	l := NewLimiter(5, time.Minute)

	base := time.Now()
	l.now = func() time.Time { return base }
	for i := 0; i < 5; i++ {
		l.Failure("client")
	}
	require.False(t, l.Allow("client").Allowed)

	l.now = func() time.Time { return base.Add(61 * time.Second) }
	require.True(t, l.Allow("client").Allowed)
}

func TestLimiter_SuccessClearsFailures(t *testing.T) {
	l := NewLimiter(2, time.Minute)

	l.Failure("client")
	l.Failure("client")
	require.False(t, l.Allow("client").Allowed)

	l.Success("client")
	require.True(t, l.Allow("client").Allowed)
	require.Equal(t, 0, l.Stats().Keys)
}

func TestLimiter_KeysIndependent(t *testing.T) {
	l := NewLimiter(1, time.Minute)

	l.Failure("a")
	require.False(t, l.Allow("a").Allowed)
	require.True(t, l.Allow("b").Allowed)
}

func TestLimiter_SlidingWindow(t *testing.T) {
	l := NewLimiter(3, time.Minute)

	base := time.Now()
	l.now = func() time.Time { return base }
	l.Failure("client")

	l.now = func() time.Time { return base.Add(40 * time.Second) }
	l.Failure("client")
	l.Failure("client")
	require.False(t, l.Allow("client").Allowed)

	// The first failure ages out; the two at +40s still count.
	l.now = func() time.Time { return base.Add(70 * time.Second) }
	require.True(t, l.Allow("client").Allowed)
}

func TestLimiter_ConcurrentAccess(t *testing.T) {
	l := NewLimiter(100, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				l.Allow("shared")
				l.Failure("shared")
			}
		}()
	}
	wg.Wait()

	require.False(t, l.Allow("shared").Allowed)
}
