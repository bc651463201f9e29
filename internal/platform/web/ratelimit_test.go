package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllow(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter(0.5, 2)
	now := time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	require.True(t, rl.Allow("10.0.0.1"))
	require.True(t, rl.Allow("10.0.0.1"))
	require.False(t, rl.Allow("10.0.0.1"), "burst exhausted")
	require.True(t, rl.Allow("10.0.0.2"), "buckets are per IP")

	// 0.5 tokens per second: one token after two seconds
	now = now.Add(2 * time.Second)
	require.True(t, rl.Allow("10.0.0.1"))
	require.False(t, rl.Allow("10.0.0.1"))
}

func TestRateLimiterDisabled(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter(0, 0)
	for range 100 {
		require.True(t, rl.Allow("10.0.0.1"))
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter(1, 1)
	now := time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("10.0.0.1")
	now = now.Add(visitorTimeout / 2)
	rl.Allow("10.0.0.2")
	now = now.Add(visitorTimeout/2 + time.Second)
	rl.cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	require.NotContains(t, rl.visitors, "10.0.0.1")
	require.Contains(t, rl.visitors, "10.0.0.2")
}

func TestRateLimiterRun(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		rl := NewRateLimiter(1, 1)
		require.True(t, rl.Allow("10.0.0.1"))
		require.False(t, rl.Allow("10.0.0.1"))

		ctx, cancel := context.WithCancel(t.Context())
		go rl.Run(ctx)

		time.Sleep(visitorTimeout + cleanupInterval + time.Second)
		synctest.Wait()

		rl.mu.Lock()
		require.Empty(t, rl.visitors)
		rl.mu.Unlock()

		// a forgotten visitor starts over with a full bucket
		require.True(t, rl.Allow("10.0.0.1"))

		cancel()
		synctest.Wait()
	})
}

func TestClientIP(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario   string
		remoteAddr string
		forwarded  string
		then       string
	}{
		{"connection address", "192.0.2.1:1234", "", "192.0.2.1"},
		{"forwarded first hop", "10.0.0.1:80", "203.0.113.7, 10.0.0.1", "203.0.113.7"},
		{"no port", "192.0.2.1", "", "192.0.2.1"},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tc.remoteAddr
			if tc.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			require.Equal(t, tc.then, clientIP(r))
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter(0.001, 1)
	h := rl.Middleware(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.JSONEq(t, `{"error":"Too Many Requests"}`, rec.Body.String())
}
