package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tieubaoca/jwt-assistant-be/logger"
	"github.com/tieubaoca/jwt-assistant-be/types"
	"github.com/tieubaoca/jwt-assistant-be/utils"
)

type TokenHandler struct {
	codec *utils.TokenCodec
	now   func() time.Time
}

func NewTokenHandler(codec *utils.TokenCodec) *TokenHandler {
	return &TokenHandler{codec: codec, now: time.Now}
}

// HandleDecode decodes a token without verifying it and explains it.
// Undecodable tokens are a 200 with success=false so a UI can render the
// error.
func (h *TokenHandler) HandleDecode(c *gin.Context) {
	var req types.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		sendError(c, http.StatusBadRequest, "Token cannot be empty")
		return
	}

	decoded, err := h.codec.Decode(req.Token)
	if err != nil {
		c.JSON(http.StatusOK, types.TokenResponse{
			Success: false,
			Header:  map[string]any{},
			Payload: map[string]any{},
			Analysis: types.AnalysisResult{
				ClaimsExplanation: []types.ClaimExplanation{},
				Status:            types.TokenStatusInvalid,
				RiskWarnings:      []string{},
			},
			Error: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, types.TokenResponse{
		Success:   true,
		Header:    decoded.Header,
		Payload:   decoded.Payload,
		Signature: decoded.Signature,
		Analysis:  utils.AnalyzeToken(decoded.Header, decoded.Payload, h.now()),
	})
}

// HandleGenerate signs a new token. Signing failures are a 200 with
// success=false.
func (h *TokenHandler) HandleGenerate(c *gin.Context) {
	var req types.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.codec.Encode(req.Payload, req.Secret, req.Algorithm, req.ExpiresInMinutes)
	if err != nil {
		logger.L().Infow("Token generation failed", "algorithm", req.Algorithm, "error", err)
		c.JSON(http.StatusOK, types.GenerateResponse{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, types.GenerateResponse{Success: true, Token: token})
}
