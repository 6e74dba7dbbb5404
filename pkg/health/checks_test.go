package health

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCheck_Healthy(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer the-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	status := Check(ts.Client(), ts.URL, "the-token", time.Now().Add(30*24*time.Hour), 300)
	require.True(t, status.Healthy)
	require.True(t, status.ServerReachable)
	require.True(t, status.TokenValid)
	require.Empty(t, status.Issues)
}

func TestCheck_Unauthorized(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	status := Check(ts.Client(), ts.URL, "stale-token", time.Now().Add(time.Hour), 300)
	require.False(t, status.Healthy)
	require.True(t, status.ServerReachable)
	require.False(t, status.TokenValid)
	require.NotEmpty(t, status.Issues)
}

func TestCheck_ServerUnreachable(t *testing.T) {
	status := Check(&http.Client{Timeout: time.Second}, "http://127.0.0.1:1", "token", time.Now().Add(time.Hour), 300)
	require.False(t, status.Healthy)
	require.False(t, status.ServerReachable)
}

func TestCheck_ExpiryWarning(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	// Still healthy, but the short remaining lifetime is surfaced.
	status := Check(ts.Client(), ts.URL, "token", time.Now().Add(24*time.Hour), 300)
	require.True(t, status.Healthy)
	require.NotEmpty(t, status.Issues)
}

func TestDriftSeconds(t *testing.T) {
	now := time.Now().UTC()
	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Date", now.Add(-10*time.Minute).Format(http.TimeFormat))
	require.InDelta(t, 600, driftSeconds(resp, now), 1)

	resp.Header.Del("Date")
	require.Zero(t, driftSeconds(resp, now))
}
