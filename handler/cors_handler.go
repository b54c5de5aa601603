package handler

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
)

type CorsHandler struct {
	origins []string
}

// NewCorsHandler allows the given origins; "*" or an empty list allows any.
func NewCorsHandler(origins []string) *CorsHandler {
	return &CorsHandler{origins: origins}
}

func (h *CorsHandler) allowAny() bool {
	return len(h.origins) == 0 || slices.Contains(h.origins, "*")
}

func (h *CorsHandler) CorsMiddleware(c *gin.Context) {
	origin := c.GetHeader("Origin")
	switch {
	case h.allowAny():
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
	case origin != "" && slices.Contains(h.origins, origin):
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Add("Vary", "Origin")
	}
	c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusOK)
		return
	}
	c.Next()
}
