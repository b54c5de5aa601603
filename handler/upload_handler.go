package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tieubaoca/jwt-assistant-be/logger"
	"github.com/tieubaoca/jwt-assistant-be/service"
	"github.com/tieubaoca/jwt-assistant-be/types"
)

const maxUploadSize = 10 << 20

type UploadHandler struct {
	fileService *service.FileService
	ragEnabled  bool
}

func NewUploadHandler(fileService *service.FileService, ragEnabled bool) *UploadHandler {
	return &UploadHandler{
		fileService: fileService,
		ragEnabled:  ragEnabled,
	}
}

// UploadDocumentHandler ingests a multipart "file" with optional JSON
// "metadata", streaming progress as server-sent events.
func (h *UploadHandler) UploadDocumentHandler(c *gin.Context) {
	if !h.ragEnabled {
		sendError(c, http.StatusBadRequest, service.ErrRAGDisabled.Error())
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		sendError(c, http.StatusBadRequest, "Invalid file")
		return
	}
	if header.Size > maxUploadSize {
		sendError(c, http.StatusBadRequest, "File too large")
		return
	}

	var req types.UploadRequest
	if metadata := c.PostForm("metadata"); metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &req); err != nil {
			sendError(c, http.StatusBadRequest, "Invalid metadata")
			return
		}
	}

	ctx := c.Request.Context()
	statusChan := make(chan types.ProcessingDocumentStatus)
	type result struct {
		resp types.UploadResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := h.fileService.UploadFile(ctx, req, header, statusChan)
		done <- result{resp, err}
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	for {
		select {
		case <-ctx.Done():
			return // Client disconnected
		case status := <-statusChan:
			c.SSEvent("progress", status)
			c.Writer.Flush()
		case r := <-done:
			if r.err != nil {
				logger.L().Warnw("Upload failed", "file", header.Filename, "error", r.err)
				c.SSEvent("error", types.DataResponse{Status: false, Message: r.err.Error()})
			} else {
				c.SSEvent("complete", types.DataResponse{Status: true, Data: r.resp})
			}
			c.Writer.Flush()
			return
		}
	}
}
