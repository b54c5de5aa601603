package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tieubaoca/jwt-assistant-be/types"
)

func newTestLimiter(cfg types.RateLimitConfig) (*RateLimiter, *fakeClock) {
	clock := newFakeClock()
	l := NewRateLimiter(cfg)
	l.now = clock.Now
	l.lastCleanup = clock.Now()
	return l, clock
}

func requireRateLimitError(t *testing.T, err error) *RateLimitError {
	t.Helper()
	var rlErr *RateLimitError
	require.True(t, errors.As(err, &rlErr), "expected a RateLimitError, got %v", err)
	return rlErr
}

func TestRateLimiter_Defaults(t *testing.T) {
	l := NewRateLimiter(types.RateLimitConfig{})

	stats := l.Stats()
	assert.Equal(t, 10, stats.IPLimit)
	assert.Equal(t, 15, stats.SessionLimit)
	assert.Equal(t, 45, stats.GlobalLimit)
}

func TestRateLimiter_IPCeiling(t *testing.T) {
	l, clock := newTestLimiter(types.RateLimitConfig{IPPerDay: 3, SessionPerDay: 10, GlobalPerDay: 10})
	key := types.ClientKey{IP: "10.0.0.1"}

	for i := 0; i < 3; i++ {
		info, err := l.CheckAndRecord(key)
		require.NoError(t, err)
		assert.Equal(t, 2-i, info.IPRequestsRemaining)
		assert.Equal(t, i+1, info.GlobalRequestsUsed)
		assert.Nil(t, info.SessionRequestsRemaining)
	}

	_, err := l.CheckAndRecord(key)
	rlErr := requireRateLimitError(t, err)
	assert.Equal(t, types.LimitTypeIP, rlErr.LimitType)
	assert.Equal(t, "Rate limit exceeded", rlErr.ErrorTitle)
	assert.Equal(t, "You have reached your daily limit of 3 requests. Please try again tomorrow.", rlErr.Message)
	assert.Equal(t, 3, rlErr.RequestsMade)
	assert.Equal(t, 3, rlErr.RequestsLimit)
	assert.Equal(t, 12*60*60, rlErr.RetryAfter)

	// other clients are unaffected and the denial was not recorded
	_, err = l.CheckAndRecord(types.ClientKey{IP: "10.0.0.2"})
	require.NoError(t, err)
	assert.Equal(t, 4, l.Stats().GlobalRequestsToday)

	// the oldest request ages out of the rolling window
	clock.Advance(24*time.Hour + time.Second)
	_, err = l.CheckAndRecord(key)
	assert.NoError(t, err)
}

func TestRateLimiter_RollingWindowAgesEachRequest(t *testing.T) {
	l, clock := newTestLimiter(types.RateLimitConfig{IPPerDay: 3, SessionPerDay: 10, GlobalPerDay: 10})
	key := types.ClientKey{IP: "10.0.0.1"}

	_, err := l.CheckAndRecord(key)
	require.NoError(t, err)
	clock.Advance(12 * time.Hour)
	for i := 0; i < 2; i++ {
		_, err = l.CheckAndRecord(key)
		require.NoError(t, err)
	}
	_, err = l.CheckAndRecord(key)
	assert.Equal(t, 3, requireRateLimitError(t, err).RequestsMade)

	// only the first request has left the window
	clock.Advance(12*time.Hour + time.Second)
	assert.Equal(t, 2, l.Stats().GlobalRequestsToday)

	info, err := l.CheckAndRecord(key)
	require.NoError(t, err)
	assert.Equal(t, 0, info.IPRequestsRemaining)
	assert.Equal(t, 3, info.GlobalRequestsUsed)

	_, err = l.CheckAndRecord(key)
	rlErr := requireRateLimitError(t, err)
	assert.Equal(t, types.LimitTypeIP, rlErr.LimitType)
	assert.Equal(t, 3, rlErr.RequestsMade)
}

func TestRateLimiter_GlobalCheckedFirst(t *testing.T) {
	l, _ := newTestLimiter(types.RateLimitConfig{IPPerDay: 1, SessionPerDay: 10, GlobalPerDay: 1})

	_, err := l.CheckAndRecord(types.ClientKey{IP: "a"})
	require.NoError(t, err)

	_, err = l.CheckAndRecord(types.ClientKey{IP: "a"})
	rlErr := requireRateLimitError(t, err)
	assert.Equal(t, types.LimitTypeGlobal, rlErr.LimitType)
	assert.Equal(t, "Daily API quota exceeded", rlErr.ErrorTitle)
	assert.Equal(t, "The service has reached its daily request limit. Please try again tomorrow.", rlErr.Message)
}

func TestRateLimiter_SessionCeiling(t *testing.T) {
	l, _ := newTestLimiter(types.RateLimitConfig{IPPerDay: 10, SessionPerDay: 2, GlobalPerDay: 10})
	key := types.ClientKey{IP: "a", SessionID: "s1"}

	info, err := l.CheckAndRecord(key)
	require.NoError(t, err)
	require.NotNil(t, info.SessionRequestsRemaining)
	assert.Equal(t, 1, *info.SessionRequestsRemaining)
	_, err = l.CheckAndRecord(key)
	require.NoError(t, err)

	_, err = l.CheckAndRecord(key)
	rlErr := requireRateLimitError(t, err)
	assert.Equal(t, types.LimitTypeSession, rlErr.LimitType)
	assert.Equal(t, "This session has reached its daily limit of 2 requests.", rlErr.Message)

	_, err = l.CheckAndRecord(types.ClientKey{IP: "a", SessionID: "s2"})
	assert.NoError(t, err)
}

func TestRateLimiter_ResetTime(t *testing.T) {
	l, _ := newTestLimiter(types.RateLimitConfig{})

	info, err := l.CheckAndRecord(types.ClientKey{})
	require.NoError(t, err)

	assert.Equal(t, "unknown", info.IP)
	assert.Equal(t, time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC), info.ResetTime)
	assert.Equal(t, 12*60*60, l.Stats().ResetInSeconds)
}

func TestRateLimiter_CleanupForgetsStaleKeys(t *testing.T) {
	l, clock := newTestLimiter(types.RateLimitConfig{})

	_, err := l.CheckAndRecord(types.ClientKey{IP: "a", SessionID: "s1"})
	require.NoError(t, err)
	clock.Advance(25 * time.Hour)
	_, err = l.CheckAndRecord(types.ClientKey{IP: "b"})
	require.NoError(t, err)

	stats := l.Stats()
	assert.Equal(t, 1, stats.TotalIPsTracked)
	assert.Zero(t, stats.TotalSessionsTracked)
	assert.Equal(t, 1, stats.GlobalRequestsToday)
}

func TestRateLimitError_Payload(t *testing.T) {
	err := &RateLimitError{LimitType: "ip", ErrorTitle: "Rate limit exceeded", Message: "m", RetryAfter: 5, RequestsMade: 10, RequestsLimit: 10}

	assert.Equal(t, "Rate limit exceeded: m", err.Error())
	assert.Equal(t, map[string]any{
		"error":          "Rate limit exceeded",
		"message":        "m",
		"limit_type":     "ip",
		"retry_after":    5,
		"requests_made":  10,
		"requests_limit": 10,
	}, err.Payload())
}
