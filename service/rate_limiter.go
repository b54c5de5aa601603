package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/tieubaoca/jwt-assistant-be/logger"
	"github.com/tieubaoca/jwt-assistant-be/types"
)

const (
	rateWindow          = 24 * time.Hour
	rateCleanupInterval = time.Hour
)

var DefaultRateLimitConfig = types.RateLimitConfig{
	IPPerDay:      10,
	SessionPerDay: 15,
	GlobalPerDay:  45,
}

// RateLimiter admits requests against global, per-IP and per-session
// ceilings over a rolling 24 hour window. Reset times reported to clients
// are the next midnight UTC.
type RateLimiter struct {
	cfg types.RateLimitConfig
	now func() time.Time

	mu          sync.Mutex
	ipRequests  map[string][]time.Time
	sessionReqs map[string][]time.Time
	global      []time.Time
	lastCleanup time.Time
}

func NewRateLimiter(cfg types.RateLimitConfig) *RateLimiter {
	if cfg.IPPerDay <= 0 {
		cfg.IPPerDay = DefaultRateLimitConfig.IPPerDay
	}
	if cfg.SessionPerDay <= 0 {
		cfg.SessionPerDay = DefaultRateLimitConfig.SessionPerDay
	}
	if cfg.GlobalPerDay <= 0 {
		cfg.GlobalPerDay = DefaultRateLimitConfig.GlobalPerDay
	}
	return &RateLimiter{
		cfg:         cfg,
		now:         time.Now,
		ipRequests:  make(map[string][]time.Time),
		sessionReqs: make(map[string][]time.Time),
		lastCleanup: time.Now().UTC(),
	}
}

// CheckAndRecord admits or denies one request. The ceilings are checked
// global first, then IP, then session; a denied request is not recorded
// and the error is a *RateLimitError.
func (l *RateLimiter) CheckAndRecord(key types.ClientKey) (*types.RateLimitInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	if now.Sub(l.lastCleanup) > rateCleanupInterval {
		l.cleanupLocked(now)
	}
	ip := key.IP
	if ip == "" {
		ip = "unknown"
	}

	globalCount := countInWindow(l.global, now)
	if globalCount >= l.cfg.GlobalPerDay {
		return nil, l.deny(now, types.LimitTypeGlobal, globalCount, l.cfg.GlobalPerDay,
			"Daily API quota exceeded",
			"The service has reached its daily request limit. Please try again tomorrow.")
	}

	ipCount := countInWindow(l.ipRequests[ip], now)
	if ipCount >= l.cfg.IPPerDay {
		return nil, l.deny(now, types.LimitTypeIP, ipCount, l.cfg.IPPerDay,
			"Rate limit exceeded",
			fmt.Sprintf("You have reached your daily limit of %d requests. Please try again tomorrow.", l.cfg.IPPerDay))
	}

	sessionCount := 0
	if key.SessionID != "" {
		sessionCount = countInWindow(l.sessionReqs[key.SessionID], now)
		if sessionCount >= l.cfg.SessionPerDay {
			return nil, l.deny(now, types.LimitTypeSession, sessionCount, l.cfg.SessionPerDay,
				"Session rate limit exceeded",
				fmt.Sprintf("This session has reached its daily limit of %d requests.", l.cfg.SessionPerDay))
		}
	}

	l.global = append(l.global, now)
	l.ipRequests[ip] = append(l.ipRequests[ip], now)
	info := &types.RateLimitInfo{
		IP:                  ip,
		IPRequestsRemaining: l.cfg.IPPerDay - ipCount - 1,
		IPRequestsLimit:     l.cfg.IPPerDay,
		GlobalRequestsUsed:  globalCount + 1,
		GlobalRequestsLimit: l.cfg.GlobalPerDay,
		ResetTime:           nextMidnightUTC(now),
	}
	if key.SessionID != "" {
		l.sessionReqs[key.SessionID] = append(l.sessionReqs[key.SessionID], now)
		remaining := l.cfg.SessionPerDay - sessionCount - 1
		info.SessionRequestsRemaining = &remaining
	}
	return info, nil
}

func (l *RateLimiter) deny(now time.Time, limitType string, made, limit int, title, message string) *RateLimitError {
	logger.L().Warnw("Rate limit exceeded", "limit_type", limitType, "requests_made", made, "requests_limit", limit)
	return &RateLimitError{
		LimitType:     limitType,
		ErrorTitle:    title,
		Message:       message,
		RetryAfter:    secondsUntilReset(now),
		RequestsMade:  made,
		RequestsLimit: limit,
	}
}

func (l *RateLimiter) Stats() types.RateLimitStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now().UTC()
	return types.RateLimitStats{
		TotalIPsTracked:      len(l.ipRequests),
		TotalSessionsTracked: len(l.sessionReqs),
		GlobalRequestsToday:  countInWindow(l.global, now),
		GlobalLimit:          l.cfg.GlobalPerDay,
		ResetInSeconds:       secondsUntilReset(now),
		IPLimit:              l.cfg.IPPerDay,
		SessionLimit:         l.cfg.SessionPerDay,
	}
}

// cleanupLocked drops timestamps older than the window and forgets keys
// left with none.
func (l *RateLimiter) cleanupLocked(now time.Time) {
	for ip, stamps := range l.ipRequests {
		if kept := pruneWindow(stamps, now); len(kept) > 0 {
			l.ipRequests[ip] = kept
		} else {
			delete(l.ipRequests, ip)
		}
	}
	for id, stamps := range l.sessionReqs {
		if kept := pruneWindow(stamps, now); len(kept) > 0 {
			l.sessionReqs[id] = kept
		} else {
			delete(l.sessionReqs, id)
		}
	}
	l.global = pruneWindow(l.global, now)
	l.lastCleanup = now
}

func countInWindow(stamps []time.Time, now time.Time) int {
	cutoff := now.Add(-rateWindow)
	n := 0
	for _, ts := range stamps {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

func pruneWindow(stamps []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-rateWindow)
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

func nextMidnightUTC(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
}

func secondsUntilReset(now time.Time) int {
	return int(nextMidnightUTC(now).Sub(now.UTC()).Seconds())
}
