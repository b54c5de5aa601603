/*
Copyright © 2025 tieubaoca
*/
package cmd

import (
	"context"
	"fmt"

	"github.com/tieubaoca/jwt-assistant-be/config"
	"github.com/tieubaoca/jwt-assistant-be/database"
	"github.com/tieubaoca/jwt-assistant-be/logger"
	"github.com/tieubaoca/jwt-assistant-be/service"
	"github.com/tieubaoca/jwt-assistant-be/types"
)

// knowledgeStack is the retrieval side of the backend shared by the server
// and the ingestion commands.
type knowledgeStack struct {
	store     database.VectorStore
	index     *service.VectorIndex
	qa        *service.QAStore
	ingestion *service.IngestionService
	files     *service.FileService
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
		return nil, err
	}
	logger.L().Debugw("Configuration loaded", "config_file", cfgFile)
	return cfg, nil
}

// newKnowledgeStack opens the vector store when RAG is enabled. With RAG off
// the index runs disabled and no store is opened.
func newKnowledgeStack(ctx context.Context, cfg *config.Config) (*knowledgeStack, error) {
	k := &knowledgeStack{}

	var embedder service.Embedder
	if cfg.RAG.Enabled {
		store, err := database.NewVectorStore(ctx, cfg.Vector)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector store: %w", err)
		}
		k.store = store

		embedder, err = service.NewEmbedder(cfg.Embedding, cfg.LLM.Ollama.Host)
		if err != nil {
			k.Close()
			return nil, err
		}
	}

	k.index = service.NewVectorIndex(k.store, embedder)
	if err := k.index.Init(ctx); err != nil {
		k.Close()
		return nil, err
	}
	k.qa = service.NewQAStore(k.index)

	fetcher := service.NewHTTPFetcher(cfg.Ingestion.Timeout, cfg.Ingestion.RequestsPerSecond)
	k.ingestion = service.NewIngestionService(
		k.index,
		service.NewWebScraper(fetcher, cfg.Ingestion.MaxRetries),
		service.NewContentProcessor(types.ChunkingConfig{
			ChunkSize:    cfg.Chunking.ChunkSize,
			ChunkOverlap: cfg.Chunking.ChunkOverlap,
			MinChunkSize: cfg.Chunking.MinChunkSize,
		}),
		service.NewSourceDiscovery(cfg.Ingestion.Search.APIKey, cfg.Ingestion.Search.EngineID),
		cfg.Ingestion,
	)
	k.files = service.NewFileService(cfg.UploadDir, k.ingestion)

	logger.L().Infow("Knowledge stack ready",
		"rag_enabled", cfg.RAG.Enabled,
		"vector_backend", cfg.Vector.Backend,
		"index_enabled", k.index.Enabled(),
	)
	return k, nil
}

func (k *knowledgeStack) Close() {
	if k.store == nil {
		return
	}
	if err := k.store.Close(); err != nil {
		logger.L().Warnw("Failed to close vector store", "error", err)
	}
}

// requireIndex fails when the command needs a working vector index.
func (k *knowledgeStack) requireIndex() error {
	if !k.index.Enabled() {
		return fmt.Errorf("%w: enable rag and configure an embedding provider", service.ErrVectorIndexDisabled)
	}
	return nil
}

// newProvider builds the configured LLM provider and warms it up when it
// supports that.
func newProvider(ctx context.Context, cfg *config.Config) (service.ProviderAdapter, error) {
	name := service.SelectProviderName(cfg.LLM)
	provider, err := service.NewDefaultProviderRegistry().Build(name, cfg.LLM)
	if err != nil {
		return nil, err
	}
	if w, ok := provider.(service.Warmer); ok && name == service.ProviderOllama {
		if err := w.Warmup(ctx); err != nil {
			logger.L().Warnw("Provider warmup failed", "provider", name, "error", err)
		}
	}
	logger.L().Infow("LLM provider selected", "provider", provider.Name())
	return provider, nil
}
