package types

import "time"

const (
	LimitTypeGlobal  = "global"
	LimitTypeIP      = "ip"
	LimitTypeSession = "session"
)

// ClientKey identifies the caller for admission control.
type ClientKey struct {
	IP        string
	SessionID string
}

type RateLimitConfig struct {
	IPPerDay      int
	SessionPerDay int
	GlobalPerDay  int
}

// RateLimitInfo reports remaining quota after an admitted request.
type RateLimitInfo struct {
	IP                       string    `json:"ip"`
	IPRequestsRemaining      int       `json:"ip_requests_remaining"`
	IPRequestsLimit          int       `json:"ip_requests_limit"`
	SessionRequestsRemaining *int      `json:"session_requests_remaining"`
	GlobalRequestsUsed       int       `json:"global_requests_used"`
	GlobalRequestsLimit      int       `json:"global_requests_limit"`
	ResetTime                time.Time `json:"reset_time"`
}

type RateLimitStats struct {
	TotalIPsTracked      int `json:"total_ips_tracked"`
	TotalSessionsTracked int `json:"total_sessions_tracked"`
	GlobalRequestsToday  int `json:"global_requests_today"`
	GlobalLimit          int `json:"global_limit"`
	ResetInSeconds       int `json:"reset_in_seconds"`
	IPLimit              int `json:"ip_limit"`
	SessionLimit         int `json:"session_limit"`
}
