package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/tieubaoca/jwt-assistant-be/middleware"
)

type Handlers struct {
	Cors      *CorsHandler
	Token     *TokenHandler
	Chat      *ChatHandler
	Knowledge *KnowledgeHandler
	Upload    *UploadHandler
	System    *SystemHandler
}

// NewRouter mounts every route. Knowledge mutations need an admin token
// when adminSecret is set.
func NewRouter(h Handlers, adminSecret string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(h.Cors.CorsMiddleware)
	router.Use(middleware.ClientIP())

	router.GET("/", h.System.HandleRoot)
	router.GET("/health", h.System.HandleHealth)

	apiV1 := router.Group("/api/v1")
	{
		apiV1.POST("/decode", h.Token.HandleDecode)
		apiV1.POST("/generate", h.Token.HandleGenerate)

		apiV1.POST("/ask", h.Chat.HandleAsk)
		apiV1.POST("/ask/stream", h.Chat.HandleAskStream)
		apiV1.GET("/ask/ws", h.Chat.HandleAskWebSocket)

		apiV1.GET("/rate-limit/stats", h.System.HandleRateLimitStats)
		apiV1.GET("/sessions/info", h.System.HandleSessionsInfo)
	}

	knowledge := apiV1.Group("/knowledge")
	{
		knowledge.POST("/search", h.Knowledge.HandleSearch)
		knowledge.GET("/status", h.Knowledge.HandleStatus)
		knowledge.GET("/qa/insights", h.Knowledge.HandleQAInsights)
		knowledge.GET("/health", h.Knowledge.HandleHealth)
	}

	admin := knowledge.Group("/")
	admin.Use(middleware.AdminAuth(adminSecret))
	{
		admin.POST("/ingest", h.Knowledge.HandleIngest)
		admin.POST("/ingest/sync", h.Knowledge.HandleIngestSync)
		admin.POST("/ingest/custom", h.Knowledge.HandleIngestCustom)
		admin.POST("/upload", h.Upload.UploadDocumentHandler)
		admin.DELETE("/qa/old", h.Knowledge.HandleClearOldQA)
	}

	return router
}
