package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tieubaoca/jwt-assistant-be/database"
	"github.com/tieubaoca/jwt-assistant-be/logger"
	"github.com/tieubaoca/jwt-assistant-be/types"
)

const (
	previewChars          = 200
	highlightPreviewChars = 300
	highlightContextChars = 100
)

// VectorIndex embeds text and stores it in a VectorStore. Without an
// embedder it runs disabled: queries return nothing and writes fail with
// ErrVectorIndexDisabled.
type VectorIndex struct {
	store    database.VectorStore
	embedder Embedder
}

func NewVectorIndex(store database.VectorStore, embedder Embedder) *VectorIndex {
	return &VectorIndex{
		store:    store,
		embedder: embedder,
	}
}

func (v *VectorIndex) Enabled() bool {
	return v != nil && v.store != nil && v.embedder != nil
}

// Init makes sure the knowledge and QA collections exist.
func (v *VectorIndex) Init(ctx context.Context) error {
	if !v.Enabled() {
		logger.L().Warnw("Vector index disabled, no embedding provider configured")
		return nil
	}
	for _, name := range []string{types.KnowledgeCollection, types.QACollection} {
		if err := v.store.EnsureCollection(ctx, name); err != nil {
			return fmt.Errorf("failed to initialize collection %s: %w", name, err)
		}
	}
	return nil
}

// AddDocuments embeds and upserts texts. Missing ids are derived from the
// text so the call stays idempotent.
func (v *VectorIndex) AddDocuments(ctx context.Context, texts []string, metadatas []map[string]any, ids []string, collection string) error {
	if !v.Enabled() {
		return ErrVectorIndexDisabled
	}
	if len(texts) == 0 {
		return nil
	}
	if metadatas != nil && len(metadatas) != len(texts) {
		return fmt.Errorf("got %d metadatas for %d texts", len(metadatas), len(texts))
	}
	if ids != nil && len(ids) != len(texts) {
		return fmt.Errorf("got %d ids for %d texts", len(ids), len(texts))
	}

	vectors, err := v.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed documents: %w", err)
	}
	if len(vectors) != len(texts) {
		return fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}

	records := make([]database.VectorRecord, len(texts))
	for i, text := range texts {
		var meta map[string]any
		if metadatas != nil {
			meta = metadatas[i]
		}
		id := ""
		if ids != nil {
			id = ids[i]
		}
		if id == "" {
			id = generateID(text, i)
		}
		records[i] = database.VectorRecord{
			ID:       id,
			Content:  text,
			Metadata: enrichMetadata(text, meta),
			Vector:   vectors[i],
		}
	}

	if err := v.store.Upsert(ctx, collection, records); err != nil {
		return fmt.Errorf("failed to store documents in %s: %w", collection, err)
	}
	logger.L().Debugw("Added documents", "collection", collection, "count", len(records))
	return nil
}

// Query returns the topK nearest chunks to text, most similar first.
func (v *VectorIndex) Query(ctx context.Context, text string, topK int, collection string, filter database.Filter) ([]types.QueryResult, error) {
	if !v.Enabled() {
		return []types.QueryResult{}, nil
	}
	if topK <= 0 {
		topK = 5
	}
	vector, err := v.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	hits, err := v.store.Query(ctx, collection, vector, topK, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}

	results := make([]types.QueryResult, 0, len(hits))
	for _, hit := range hits {
		meta := hit.Record.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		results = append(results, types.QueryResult{
			ID:              hit.Record.ID,
			Content:         hit.Record.Content,
			ContentPreview:  CreateHighlightedPreview(hit.Record.Content, text, highlightPreviewChars, highlightContextChars),
			Metadata:        meta,
			Source:          SourceFromMetadata(meta),
			SimilarityScore: SimilarityFromDistance(hit.Distance),
			Distance:        hit.Distance,
		})
	}
	return results, nil
}

// Statistics reports the record count of every known collection.
func (v *VectorIndex) Statistics(ctx context.Context) types.VectorStatistics {
	stats := types.VectorStatistics{
		Enabled:     v.Enabled(),
		Collections: map[string]types.CollectionStats{},
	}
	if !stats.Enabled {
		return stats
	}
	for _, name := range []string{types.KnowledgeCollection, types.QACollection} {
		count, err := v.store.Count(ctx, name)
		if err != nil {
			stats.Error = err.Error()
			continue
		}
		stats.Collections[name] = types.CollectionStats{Count: count}
	}
	return stats
}

func (v *VectorIndex) DeleteByIDs(ctx context.Context, ids []string, collection string) error {
	if !v.Enabled() {
		return ErrVectorIndexDisabled
	}
	return v.store.Delete(ctx, collection, ids)
}

// UpdateDocument replaces the text and metadata stored under id.
func (v *VectorIndex) UpdateDocument(ctx context.Context, id, text string, metadata map[string]any, collection string) error {
	return v.AddDocuments(ctx, []string{text}, []map[string]any{metadata}, []string{id}, collection)
}

// Scan visits every record of collection matching filter.
func (v *VectorIndex) Scan(ctx context.Context, collection string, filter database.Filter, fn func(database.VectorRecord) error) error {
	if !v.Enabled() {
		return ErrVectorIndexDisabled
	}
	return v.store.Scan(ctx, collection, filter, fn)
}

func (v *VectorIndex) ResetCollection(ctx context.Context, collection string) error {
	if !v.Enabled() {
		return ErrVectorIndexDisabled
	}
	if err := v.store.Reset(ctx, collection); err != nil {
		return fmt.Errorf("failed to reset %s: %w", collection, err)
	}
	return nil
}

// SimilarityFromDistance maps a cosine distance in [0, 2] to a score in
// [-1, 1], rounded to four decimals.
func SimilarityFromDistance(distance float64) float64 {
	return math.Round((1-distance/2)*10000) / 10000
}

// SourceFromMetadata reads provenance fields with their display defaults.
func SourceFromMetadata(meta map[string]any) types.SourceInfo {
	return types.SourceInfo{
		URL:       metaString(meta, "source_url", "Unknown"),
		Name:      metaString(meta, "source_name", "Unknown Source"),
		Type:      metaString(meta, "source_type", "documentation"),
		Section:   metaString(meta, "section_title", ""),
		SectionID: metaString(meta, "section_id", ""),
		Priority:  metaString(meta, "priority", "medium"),
	}
}

func metaString(meta map[string]any, key, fallback string) string {
	v, ok := meta[key]
	if !ok || v == nil {
		return fallback
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// DedupeResults drops negative matches and keeps the first hit per
// (source url, section id).
func DedupeResults(results []types.QueryResult) []types.QueryResult {
	seen := make(map[string]struct{}, len(results))
	out := make([]types.QueryResult, 0, len(results))
	for _, r := range results {
		if r.SimilarityScore < 0 {
			continue
		}
		key := r.Source.URL + "\x00" + r.Source.SectionID
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// CreatePreview collapses whitespace and truncates to maxChars, preferring
// a word boundary near the end.
func CreatePreview(text string, maxChars int) string {
	preview := strings.Join(strings.Fields(text), " ")
	runes := []rune(preview)
	if len(runes) <= maxChars {
		return preview
	}
	runes = runes[:maxChars]
	if last := lastSpace(runes); float64(last) > float64(maxChars)*0.8 {
		runes = runes[:last]
	}
	return string(runes) + "..."
}

func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == ' ' {
			return i
		}
	}
	return -1
}

// CreateHighlightedPreview centres the preview on the first query term found
// in text, falling back to CreatePreview.
func CreateHighlightedPreview(text, query string, maxChars, contextChars int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	lowered := string(lowerRunes(runes))

	pos := -1
	for _, term := range strings.Fields(strings.ToLower(query)) {
		if idx := strings.Index(lowered, term); idx >= 0 {
			pos = utf8.RuneCountInString(lowered[:idx])
			break
		}
	}
	if pos < 0 {
		return CreatePreview(text, maxChars)
	}

	start := max(0, pos-contextChars)
	end := min(len(runes), pos+contextChars+utf8.RuneCountInString(query))
	preview := string(runes[start:end])
	if start > 0 {
		preview = "..." + preview
	}
	if end < len(runes) {
		preview += "..."
	}
	return preview
}

// lowerRunes lowercases rune by rune so indexes line up with the input.
func lowerRunes(runes []rune) []rune {
	out := make([]rune, len(runes))
	for i, r := range runes {
		out[i] = unicode.ToLower(r)
	}
	return out
}

// SanitizeMetadata flattens values to primitives: nil becomes "", maps
// become JSON and lists a comma separated string.
func SanitizeMetadata(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for k, value := range metadata {
		switch v := value.(type) {
		case nil:
			out[k] = ""
		case string, bool, int, int32, int64, float32, float64, uint, uint32, uint64:
			out[k] = v
		case map[string]any:
			raw, err := json.Marshal(v)
			if err != nil {
				out[k] = fmt.Sprint(v)
				continue
			}
			out[k] = string(raw)
		case []string:
			out[k] = strings.Join(v, ", ")
		case []any:
			parts := make([]string, len(v))
			for i, item := range v {
				parts[i] = fmt.Sprint(item)
			}
			out[k] = strings.Join(parts, ", ")
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

func enrichMetadata(text string, metadata map[string]any) map[string]any {
	meta := SanitizeMetadata(metadata)
	meta["content_preview"] = CreatePreview(text, previewChars)
	meta["content_length"] = utf8.RuneCountInString(text)
	return meta
}

func generateID(text string, index int) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s_%d", hex.EncodeToString(sum[:])[:16], index)
}
