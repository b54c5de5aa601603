package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tieubaoca/jwt-assistant-be/logger"
	"github.com/tieubaoca/jwt-assistant-be/middleware"
	"github.com/tieubaoca/jwt-assistant-be/service"
	"github.com/tieubaoca/jwt-assistant-be/types"
)

type ChatHandler struct {
	ask *service.AskService
	ws  *service.WebSocketService
}

func NewChatHandler(ask *service.AskService, ws *service.WebSocketService) *ChatHandler {
	return &ChatHandler{
		ask: ask,
		ws:  ws,
	}
}

func askInput(c *gin.Context, req types.AskRequest) types.AskInput {
	return types.AskInput{
		Token:     req.Token,
		Question:  req.Question,
		History:   req.History,
		SessionID: req.SessionID,
		ClientIP:  middleware.GetClientIP(c),
	}
}

func (h *ChatHandler) HandleAsk(c *gin.Context) {
	var req types.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.ask.Ask(c.Request.Context(), askInput(c, req))
	if err != nil {
		if sendRateLimited(c, err) {
			return
		}
		if service.IsClientError(err) {
			sendError(c, http.StatusBadRequest, err.Error())
			return
		}
		logger.L().Errorw("Ask failed", "error", err)
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleAskStream answers as server-sent events, one per stream event.
func (h *ChatHandler) HandleAskStream(c *gin.Context) {
	var req types.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	err := h.ask.Stream(ctx, askInput(c, req), func(e types.Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.SSEvent(e.Type, e)
		c.Writer.Flush()
		return nil
	})
	if err != nil && !errors.Is(err, ctx.Err()) {
		logger.L().Warnw("Stream ended early", "error", err)
	}
}

func (h *ChatHandler) HandleAskWebSocket(c *gin.Context) {
	h.ws.HandleAsk(c.Writer, c.Request, middleware.GetClientIP(c))
}
