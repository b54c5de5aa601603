package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tieubaoca/jwt-assistant-be/service"
	"github.com/tieubaoca/jwt-assistant-be/types"
)

const apiVersion = "1.0.0"

type SystemHandler struct {
	sessions   *service.SessionManager
	limiter    *service.RateLimiter
	provider   string
	ragEnabled bool
}

func NewSystemHandler(sessions *service.SessionManager, limiter *service.RateLimiter, provider string, ragEnabled bool) *SystemHandler {
	return &SystemHandler{
		sessions:   sessions,
		limiter:    limiter,
		provider:   provider,
		ragEnabled: ragEnabled,
	}
}

func (h *SystemHandler) HandleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "JWT Visualizer API",
		"version": apiVersion,
		"health":  "/health",
	})
}

func (h *SystemHandler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "healthy",
		"llm_provider":     h.provider,
		"rag_enabled":      h.ragEnabled,
		"active_sessions":  h.sessions.ActiveCount(),
		"rate_limit_stats": h.limiter.Stats(),
	})
}

func (h *SystemHandler) HandleRateLimitStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.limiter.Stats())
}

func (h *SystemHandler) HandleSessionsInfo(c *gin.Context) {
	sessions := h.sessions.AllSessionInfo()
	c.JSON(http.StatusOK, types.SessionsInfoResponse{
		ActiveSessions: len(sessions),
		Sessions:       sessions,
	})
}
