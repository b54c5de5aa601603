package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tieubaoca/jwt-assistant-be/utils"
)

type JsonResponse struct {
	Error string `json:"error"`
}

const AdminClaimsKey = "admin"

// AdminAuth requires a bearer admin token signed with secret. With an empty
// secret the routes stay open.
func AdminAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, JsonResponse{Error: "Authorization header is required"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, JsonResponse{Error: "Authorization header format must be Bearer {token}"})
			return
		}

		claims, err := utils.ParseAdminToken(parts[1], secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, JsonResponse{Error: "Invalid admin token"})
			return
		}

		c.Set(AdminClaimsKey, claims)
		c.Next()
	}
}
