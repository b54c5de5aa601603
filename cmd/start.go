/*
Copyright © 2025 tieubaoca
*/
package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tieubaoca/jwt-assistant-be/handler"
	"github.com/tieubaoca/jwt-assistant-be/logger"
	"github.com/tieubaoca/jwt-assistant-be/service"
	"github.com/tieubaoca/jwt-assistant-be/types"
	"github.com/tieubaoca/jwt-assistant-be/utils"
)

const shutdownTimeout = 10 * time.Second

// startServerCmd represents the startServer command
var startServerCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the API server",
	Long:  `Starts the HTTP server serving token tools, the ask surfaces and the knowledge base API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()
		log := logger.L()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		knowledge, err := newKnowledgeStack(ctx, cfg)
		if err != nil {
			return err
		}
		defer knowledge.Close()

		provider, err := newProvider(ctx, cfg)
		if err != nil {
			return err
		}

		codec := utils.NewTokenCodec()
		sessions := service.NewSessionManager()
		limiter := service.NewRateLimiter(types.RateLimitConfig{
			IPPerDay:      cfg.RateLimit.IPPerDay,
			SessionPerDay: cfg.RateLimit.SessionPerDay,
			GlobalPerDay:  cfg.RateLimit.GlobalPerDay,
		})
		ask := service.NewAskService(codec, sessions, limiter, knowledge.index, knowledge.qa, provider, cfg.RAG, cfg.LLM.StreamPacing)

		go sessions.RunSweeper(ctx, cfg.Session.SweepInterval, time.Duration(cfg.Session.MaxIdleMinutes)*time.Minute)

		router := handler.NewRouter(handler.Handlers{
			Cors:      handler.NewCorsHandler(cfg.Server.CorsOrigins),
			Token:     handler.NewTokenHandler(codec),
			Chat:      handler.NewChatHandler(ask, service.NewWebSocketService(ask, codec)),
			Knowledge: handler.NewKnowledgeHandler(ctx, knowledge.ingestion, knowledge.index, knowledge.qa, cfg.RAG.Enabled, cfg.RAG.QALearning),
			Upload:    handler.NewUploadHandler(knowledge.files, cfg.RAG.Enabled),
			System:    handler.NewSystemHandler(sessions, limiter, provider.Name(), cfg.RAG.Enabled),
		}, cfg.Server.AdminSecret)
		if cfg.Server.AdminSecret == "" {
			log.Warnw("No admin secret configured, knowledge management routes are open")
		}

		server := &http.Server{
			Addr:    ":" + cfg.Server.Port,
			Handler: router,
		}

		serverErr := make(chan error, 1)
		go func() {
			log.Infow("Starting server", "port", cfg.Server.Port, "provider", provider.Name(), "rag_enabled", cfg.RAG.Enabled)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
			close(serverErr)
		}()

		select {
		case err := <-serverErr:
			if err != nil {
				return err
			}
		case <-ctx.Done():
		}

		log.Infow("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Server shutdown failed", "error", err)
		}
		log.Infow("Cleared sessions", "count", sessions.DeleteAll())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(startServerCmd)
}
