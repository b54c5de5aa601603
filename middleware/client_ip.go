package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ClientIPKey = "client_ip"

// ClientIP stores the caller address used for rate limiting.
func ClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ClientIPKey, ExtractClientIP(c.Request))
		c.Next()
	}
}

// ExtractClientIP prefers the first X-Forwarded-For entry, then X-Real-IP,
// then the socket address.
func ExtractClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first := strings.TrimSpace(strings.Split(forwarded, ",")[0]); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func GetClientIP(c *gin.Context) string {
	if ip := c.GetString(ClientIPKey); ip != "" {
		return ip
	}
	return ExtractClientIP(c.Request)
}
