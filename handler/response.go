package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tieubaoca/jwt-assistant-be/service"
	"github.com/tieubaoca/jwt-assistant-be/types"
)

func sendError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, types.DataResponse{
		Status:  false,
		Message: message,
	})
}

func sendSuccess(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, types.DataResponse{
		Status:  true,
		Message: message,
		Data:    data,
	})
}

// sendRateLimited answers 429 with the denial details and a Retry-After
// header. It reports false when err is not a rate limit denial.
func sendRateLimited(c *gin.Context, err error) bool {
	var limitErr *service.RateLimitError
	if !errors.As(err, &limitErr) {
		return false
	}
	c.Header("Retry-After", strconv.Itoa(limitErr.RetryAfter))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, limitErr.Payload())
	return true
}
