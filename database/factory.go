package database

import (
	"context"
	"fmt"

	"github.com/tieubaoca/jwt-assistant-be/config"
)

const (
	BackendSQLite   = "sqlite"
	BackendWeaviate = "weaviate"
	BackendRedis    = "redis"
)

// NewVectorStore opens the backend selected by cfg.Backend.
func NewVectorStore(ctx context.Context, cfg config.VectorConfig) (VectorStore, error) {
	switch cfg.Backend {
	case "", BackendSQLite:
		return NewSQLiteStore(cfg.Path)
	case BackendWeaviate:
		return NewWeaviateStore(cfg.Weaviate)
	case BackendRedis:
		return NewRedisStore(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
}
