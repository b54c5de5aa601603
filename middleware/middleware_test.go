package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tieubaoca/jwt-assistant-be/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded first entry", map[string]string{"X-Forwarded-For": " 203.0.113.7 , 10.0.0.1", "X-Real-IP": "198.51.100.2"}, "127.0.0.1:5000", "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.2"}, "127.0.0.1:5000", "198.51.100.2"},
		{"socket", nil, "192.0.2.10:41234", "192.0.2.10"},
		{"socket without port", nil, "192.0.2.10", "192.0.2.10"},
		{"unknown", nil, "", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ExtractClientIP(r))
		})
	}
}

func TestClientIPMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(ClientIP())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, GetClientIP(c))
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.7")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	assert.Equal(t, "203.0.113.7", w.Body.String())
}

func newAdminRouter(secret string) *gin.Engine {
	router := gin.New()
	router.POST("/admin", AdminAuth(secret), func(c *gin.Context) {
		_, ok := c.Get(AdminClaimsKey)
		c.JSON(http.StatusOK, gin.H{"claims": ok})
	})
	return router
}

func TestAdminAuth(t *testing.T) {
	const secret = "admin-secret"
	valid, err := utils.GenerateAdminToken("ops", secret, time.Hour)
	require.NoError(t, err)
	foreign, err := utils.GenerateAdminToken("ops", "other-secret", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
		body   string
	}{
		{"missing", "", http.StatusUnauthorized, "Authorization header is required"},
		{"malformed", "Token " + valid, http.StatusUnauthorized, "Bearer {token}"},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized, "Invalid admin token"},
		{"valid", "Bearer " + valid, http.StatusOK, `"claims":true`},
	}
	router := newAdminRouter(secret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/admin", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Code)
			assert.Contains(t, w.Body.String(), tt.body)
		})
	}
}

func TestAdminAuth_OpenWithoutSecret(t *testing.T) {
	w := httptest.NewRecorder()
	newAdminRouter("").ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"claims":false`)
}
