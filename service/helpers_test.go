package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tieubaoca/jwt-assistant-be/database"
)

var fakeVocabulary = []string{"expiration", "signature", "header", "refresh"}

// fakeEmbedder maps text to keyword counts so similar texts share a direction.
type fakeEmbedder struct {
	mu       sync.Mutex
	err      error
	failures int
	calls    int
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("embedding backend unavailable")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = fakeVector(text)
	}
	return out, nil
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func fakeVector(text string) []float32 {
	lower := strings.ToLower(text)
	v := make([]float32, len(fakeVocabulary)+1)
	for i, word := range fakeVocabulary {
		v[i] = float32(strings.Count(lower, word))
	}
	v[len(v)-1] = 0.1
	return v
}

func newTestStore(t *testing.T) *database.SQLiteStore {
	t.Helper()
	store, err := database.NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestIndex(t *testing.T) (*VectorIndex, *fakeEmbedder) {
	t.Helper()
	embedder := &fakeEmbedder{}
	index := NewVectorIndex(newTestStore(t), embedder)
	require.NoError(t, index.Init(context.Background()))
	return index, embedder
}
