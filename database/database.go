package database

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrDimensionMismatch  = errors.New("vector dimension mismatch")
)

// VectorRecord is one stored entry of a collection. Metadata values are
// primitives only (string, bool, numbers).
type VectorRecord struct {
	ID       string
	Content  string
	Metadata map[string]any
	Vector   []float32
}

// VectorHit is a record returned by a nearest-neighbour query. Distance is
// the cosine distance (1 - cos), in [0, 2].
type VectorHit struct {
	Record   VectorRecord
	Distance float64
}

// Filter is an equality match over metadata keys.
type Filter map[string]any

// Matches reports whether metadata satisfies every filter entry.
func (f Filter) Matches(metadata map[string]any) bool {
	for k, want := range f {
		got, ok := metadata[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// VectorStore persists embeddings in named collections using the cosine metric.
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, collection string, records []VectorRecord) error
	Query(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]VectorHit, error)
	Get(ctx context.Context, collection string, ids []string) ([]VectorRecord, error)
	Delete(ctx context.Context, collection string, ids []string) error
	// Scan calls fn for every record matching filter. Vectors are not loaded.
	Scan(ctx context.Context, collection string, filter Filter, fn func(VectorRecord) error) error
	Count(ctx context.Context, collection string) (int, error)
	// Reset drops every record of the collection and recreates it empty.
	Reset(ctx context.Context, collection string) error
	Close() error
}

// CosineDistance returns 1 - cos(a, b). Zero vectors are at distance 1.
func CosineDistance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1, nil
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return 1 - cos, nil
}

// rankHits sorts hits by ascending distance and keeps the first topK.
func rankHits(hits []VectorHit, topK int) []VectorHit {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Distance < hits[j].Distance
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

func float32SliceToBytes(floats []float32) []byte {
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToFloat32Slice(data []byte) []float32 {
	if len(data)%4 != 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
