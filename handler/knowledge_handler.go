package handler

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tieubaoca/jwt-assistant-be/logger"
	"github.com/tieubaoca/jwt-assistant-be/service"
	"github.com/tieubaoca/jwt-assistant-be/types"
)

const (
	defaultSearchTopK = 5
	maxSearchTopK     = 20
	defaultQAMaxAge   = 30
)

// KnowledgeHandler exposes ingestion, search and knowledge base statistics.
type KnowledgeHandler struct {
	baseCtx    context.Context
	ingestion  *service.IngestionService
	index      *service.VectorIndex
	qa         *service.QAStore
	ragEnabled bool
	qaLearning bool
}

// NewKnowledgeHandler runs background ingestion under baseCtx so it outlives
// the request that started it.
func NewKnowledgeHandler(baseCtx context.Context, ingestion *service.IngestionService, index *service.VectorIndex, qa *service.QAStore, ragEnabled, qaLearning bool) *KnowledgeHandler {
	return &KnowledgeHandler{
		baseCtx:    baseCtx,
		ingestion:  ingestion,
		index:      index,
		qa:         qa,
		ragEnabled: ragEnabled,
		qaLearning: qaLearning,
	}
}

func (h *KnowledgeHandler) requireRAG(c *gin.Context) bool {
	if !h.ragEnabled {
		sendError(c, http.StatusBadRequest, service.ErrRAGDisabled.Error())
		return false
	}
	return true
}

func bindIngestRequest(c *gin.Context) (types.IngestRequest, bool) {
	var req types.IngestRequest
	if c.Request.ContentLength == 0 {
		return req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid request body")
		return req, false
	}
	return req, true
}

// HandleIngest starts web ingestion in the background.
func (h *KnowledgeHandler) HandleIngest(c *gin.Context) {
	if !h.requireRAG(c) {
		return
	}
	req, ok := bindIngestRequest(c)
	if !ok {
		return
	}

	if err := h.ingestion.StartBackground(h.baseCtx, req.CustomURLs, req.DiscoverQuery); err != nil {
		if errors.Is(err, service.ErrIngestionRunning) {
			sendError(c, http.StatusConflict, err.Error())
			return
		}
		sendError(c, http.StatusInternalServerError, fmt.Sprintf("Ingestion failed: %v", err))
		return
	}
	c.JSON(http.StatusAccepted, types.DataResponse{
		Status:  true,
		Message: "Knowledge ingestion started in background",
		Data:    h.ingestion.Status(),
	})
}

// HandleIngestSync runs web ingestion, or a full rebuild, and waits for it.
func (h *KnowledgeHandler) HandleIngestSync(c *gin.Context) {
	if !h.requireRAG(c) {
		return
	}
	req, ok := bindIngestRequest(c)
	if !ok {
		return
	}

	var (
		report types.IngestionReport
		err    error
	)
	if req.Rebuild {
		report, err = h.ingestion.UpdateKnowledgeBase(c.Request.Context(), false)
	} else {
		report, err = h.ingestion.IngestFromWeb(c.Request.Context(), req.CustomURLs, req.DiscoverQuery)
	}
	if err != nil {
		if errors.Is(err, service.ErrIngestionRunning) {
			sendError(c, http.StatusConflict, err.Error())
			return
		}
		sendError(c, http.StatusInternalServerError, fmt.Sprintf("Ingestion failed: %v", err))
		return
	}
	sendSuccess(c, fmt.Sprintf("Ingestion finished with status %s", report.Status), report)
}

func (h *KnowledgeHandler) HandleIngestCustom(c *gin.Context) {
	if !h.requireRAG(c) {
		return
	}
	var req types.CustomContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" || req.SourceName == "" || req.SourceURL == "" {
		sendError(c, http.StatusBadRequest, "content, source_name and source_url are required")
		return
	}

	metadata := make(map[string]any, len(req.Metadata)+7)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["source_name"] = req.SourceName
	metadata["source_url"] = req.SourceURL
	metadata["source_type"] = defaultString(req.SourceType, "custom")
	metadata["priority"] = defaultString(req.Priority, "medium")
	metadata["scraped_at"] = time.Now().UTC().Format(time.RFC3339)
	metadata["document_type"] = "jwt_knowledge"
	metadata["custom_content"] = true

	stored, err := h.ingestion.IngestCustomContent(c.Request.Context(), req.Content, metadata)
	if err != nil {
		if errors.Is(err, service.ErrNoChunks) {
			sendError(c, http.StatusBadRequest, err.Error())
			return
		}
		logger.L().Errorw("Custom content ingestion failed", "source_name", req.SourceName, "error", err)
		sendError(c, http.StatusInternalServerError, fmt.Sprintf("Ingestion failed: %v", err))
		return
	}
	sendSuccess(c, "Custom content ingested successfully", types.CustomContentResponse{
		ChunksStored: stored,
		IngestedAt:   time.Now().UTC(),
	})
}

func (h *KnowledgeHandler) HandleSearch(c *gin.Context) {
	if !h.requireRAG(c) {
		return
	}
	var req types.KnowledgeSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		sendError(c, http.StatusBadRequest, "query cannot be empty")
		return
	}
	if req.TopK == 0 {
		req.TopK = defaultSearchTopK
	}
	if req.TopK < 1 || req.TopK > maxSearchTopK {
		sendError(c, http.StatusBadRequest, fmt.Sprintf("top_k must be between 1 and %d", maxSearchTopK))
		return
	}
	switch req.CollectionName {
	case "":
		req.CollectionName = types.KnowledgeCollection
	case types.KnowledgeCollection, types.QACollection:
	default:
		sendError(c, http.StatusBadRequest, fmt.Sprintf("unknown collection %q", req.CollectionName))
		return
	}

	results, err := h.index.Query(c.Request.Context(), req.Query, req.TopK, req.CollectionName, nil)
	if err != nil {
		sendError(c, http.StatusInternalServerError, fmt.Sprintf("Search failed: %v", err))
		return
	}
	for i := range results {
		results[i].Metadata = withoutKeys(results[i].Metadata, "content_preview", "content_length")
	}
	sendSuccess(c, "", types.KnowledgeSearchResponse{
		Query:        req.Query,
		Results:      results,
		TotalResults: len(results),
	})
}

func (h *KnowledgeHandler) HandleStatus(c *gin.Context) {
	ctx := c.Request.Context()
	sendSuccess(c, "", gin.H{
		"ingestion":           h.ingestion.Status(),
		"vector_database":     h.index.Statistics(ctx),
		"qa_learning":         h.qa.Statistics(ctx),
		"rag_enabled":         h.ragEnabled,
		"qa_learning_enabled": h.qaLearning,
		"timestamp":           time.Now().UTC(),
	})
}

func (h *KnowledgeHandler) HandleQAInsights(c *gin.Context) {
	if !h.qaLearning {
		sendError(c, http.StatusBadRequest, "Q&A learning is disabled. Set ENABLE_QA_LEARNING=True in environment.")
		return
	}
	sendSuccess(c, "", h.qa.LearningInsights(c.Request.Context()))
}

func (h *KnowledgeHandler) HandleClearOldQA(c *gin.Context) {
	if !h.qaLearning {
		sendError(c, http.StatusBadRequest, "Q&A learning is disabled.")
		return
	}
	days := defaultQAMaxAge
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			sendError(c, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = n
	}

	deleted, err := h.qa.ClearOldQAPairs(c.Request.Context(), days)
	if err != nil {
		sendError(c, http.StatusInternalServerError, fmt.Sprintf("Failed to clear old Q&A: %v", err))
		return
	}
	sendSuccess(c, fmt.Sprintf("Cleared %d Q&A pairs older than %d days", deleted, days), gin.H{
		"deleted_count": deleted,
	})
}

func (h *KnowledgeHandler) HandleHealth(c *gin.Context) {
	health := gin.H{
		"status":              "healthy",
		"rag_enabled":         h.ragEnabled,
		"qa_learning_enabled": h.qaLearning,
		"timestamp":           time.Now().UTC(),
	}
	if !h.ragEnabled {
		health["vector_db"] = "disabled"
		c.JSON(http.StatusOK, health)
		return
	}

	stats := h.index.Statistics(c.Request.Context())
	switch {
	case stats.Error != "":
		health["status"] = "degraded"
		health["vector_db"] = "error: " + stats.Error
	case !stats.Enabled:
		health["status"] = "degraded"
		health["vector_db"] = "unavailable"
	default:
		health["vector_db"] = "connected"
		health["collections"] = slices.Sorted(maps.Keys(stats.Collections))
	}
	c.JSON(http.StatusOK, health)
}

func withoutKeys(meta map[string]any, keys ...string) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
