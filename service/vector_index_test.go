package service

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tieubaoca/jwt-assistant-be/database"
	"github.com/tieubaoca/jwt-assistant-be/types"
)

func TestVectorIndex_Disabled(t *testing.T) {
	index := NewVectorIndex(nil, nil)
	ctx := context.Background()

	assert.False(t, index.Enabled())
	require.NoError(t, index.Init(ctx))

	results, err := index.Query(ctx, "anything", 5, types.KnowledgeCollection, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	err = index.AddDocuments(ctx, []string{"text"}, nil, nil, types.KnowledgeCollection)
	assert.ErrorIs(t, err, ErrVectorIndexDisabled)

	stats := index.Statistics(ctx)
	assert.False(t, stats.Enabled)
	assert.Empty(t, stats.Collections)
}

func TestVectorIndex_AddAndQuery(t *testing.T) {
	index, _ := newTestIndex(t)
	ctx := context.Background()

	texts := []string{
		"The signature protects the header and payload from tampering.",
		"The expiration claim limits how long a token is accepted.",
	}
	metadatas := []map[string]any{
		{"source_url": "https://www.rfc-editor.org/rfc/rfc7515", "source_name": "RFC 7515", "section_id": "s1", "tags": []string{"jws", "sig"}},
		{"source_url": "https://www.rfc-editor.org/rfc/rfc7519", "source_name": "RFC 7519", "priority": "critical"},
	}
	require.NoError(t, index.AddDocuments(ctx, texts, metadatas, []string{"sig", "exp"}, types.KnowledgeCollection))

	results, err := index.Query(ctx, "signature", 2, types.KnowledgeCollection, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	top := results[0]
	assert.Equal(t, "sig", top.ID)
	assert.Equal(t, texts[0], top.Content)
	assert.Greater(t, top.SimilarityScore, 0.8)
	assert.LessOrEqual(t, top.SimilarityScore, 1.0)
	assert.GreaterOrEqual(t, top.SimilarityScore, results[1].SimilarityScore)
	assert.Equal(t, "RFC 7515", top.Source.Name)
	assert.Equal(t, "s1", top.Source.SectionID)
	assert.Equal(t, "medium", top.Source.Priority)
	assert.Equal(t, "documentation", top.Source.Type)
	assert.Equal(t, "jws, sig", top.Metadata["tags"])
	assert.EqualValues(t, utf8.RuneCountInString(texts[0]), top.Metadata["content_length"])
	assert.Equal(t, texts[0], top.Metadata["content_preview"])
	assert.Contains(t, top.ContentPreview, "signature")

	assert.Equal(t, "critical", results[1].Source.Priority)

	exact, err := index.Query(ctx, texts[1], 2, types.KnowledgeCollection, nil)
	require.NoError(t, err)
	require.Len(t, exact, 2)
	assert.Equal(t, "exp", exact[0].ID)
	assert.GreaterOrEqual(t, exact[0].SimilarityScore, 0.99)
	assert.Less(t, exact[1].SimilarityScore, 0.99)
}

func TestVectorIndex_QueryFilter(t *testing.T) {
	index, _ := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, index.AddDocuments(ctx,
		[]string{"signature one", "signature two"},
		[]map[string]any{{"type": "qa_pair"}, {"type": "other"}},
		[]string{"a", "b"}, types.QACollection))

	results, err := index.Query(ctx, "signature", 5, types.QACollection, database.Filter{"type": "qa_pair"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestVectorIndex_GeneratesMissingIDs(t *testing.T) {
	index, _ := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, index.AddDocuments(ctx, []string{"header text", "refresh text"}, nil, nil, types.KnowledgeCollection))

	var ids []string
	require.NoError(t, index.Scan(ctx, types.KnowledgeCollection, nil, func(r database.VectorRecord) error {
		ids = append(ids, r.ID)
		return nil
	}))
	require.Len(t, ids, 2)
	assert.Contains(t, ids, generateID("header text", 0))
	assert.Contains(t, ids, generateID("refresh text", 1))
}

func TestVectorIndex_EmbedderFailure(t *testing.T) {
	embedder := &fakeEmbedder{err: assert.AnError}
	index := NewVectorIndex(newTestStore(t), embedder)

	err := index.AddDocuments(context.Background(), []string{"x"}, nil, nil, types.KnowledgeCollection)

	assert.ErrorIs(t, err, assert.AnError)
}

func TestVectorIndex_StatisticsDeleteReset(t *testing.T) {
	index, _ := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, index.AddDocuments(ctx, []string{"header a", "header b", "header c"}, nil, []string{"1", "2", "3"}, types.KnowledgeCollection))
	require.NoError(t, index.AddDocuments(ctx, []string{"refresh"}, nil, []string{"q"}, types.QACollection))

	stats := index.Statistics(ctx)
	assert.True(t, stats.Enabled)
	assert.Equal(t, 3, stats.Collections[types.KnowledgeCollection].Count)
	assert.Equal(t, 1, stats.Collections[types.QACollection].Count)

	require.NoError(t, index.DeleteByIDs(ctx, []string{"1"}, types.KnowledgeCollection))
	assert.Equal(t, 2, index.Statistics(ctx).Collections[types.KnowledgeCollection].Count)

	require.NoError(t, index.UpdateDocument(ctx, "2", "signature now", map[string]any{"k": "v"}, types.KnowledgeCollection))
	results, err := index.Query(ctx, "signature", 1, types.KnowledgeCollection, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "2", results[0].ID)
	assert.Equal(t, "v", results[0].Metadata["k"])

	require.NoError(t, index.ResetCollection(ctx, types.KnowledgeCollection))
	stats = index.Statistics(ctx)
	assert.Equal(t, 0, stats.Collections[types.KnowledgeCollection].Count)
	assert.Equal(t, 1, stats.Collections[types.QACollection].Count)
}

func TestSimilarityFromDistance(t *testing.T) {
	assert.Equal(t, 1.0, SimilarityFromDistance(0))
	assert.Equal(t, -1.0, SimilarityFromDistance(2))
	assert.Equal(t, 0.75, SimilarityFromDistance(0.5))
	assert.Equal(t, 0.9383, SimilarityFromDistance(0.12345))
}

func TestCreatePreview(t *testing.T) {
	assert.Equal(t, "short text", CreatePreview("  short \n text ", 200))

	long := strings.Repeat("abcd ", 60)
	want := strings.TrimSpace(strings.Repeat("abcd ", 40)) + "..."
	assert.Equal(t, want, CreatePreview(long, 200))

	noSpaces := strings.Repeat("x", 250)
	assert.Equal(t, strings.Repeat("x", 200)+"...", CreatePreview(noSpaces, 200))
}

func TestCreateHighlightedPreview(t *testing.T) {
	text := strings.Repeat("x", 300) + " needle " + strings.Repeat("y", 300)

	preview := CreateHighlightedPreview(text, "Needle", 300, 100)

	assert.True(t, strings.HasPrefix(preview, "..."))
	assert.True(t, strings.HasSuffix(preview, "..."))
	assert.Contains(t, preview, "needle")
	assert.Equal(t, 206+6, utf8.RuneCountInString(preview))

	fallback := CreateHighlightedPreview("nothing relevant here", "absent", 300, 100)
	assert.Equal(t, "nothing relevant here", fallback)
}

func TestSanitizeMetadata(t *testing.T) {
	got := SanitizeMetadata(map[string]any{
		"nil":    nil,
		"str":    "s",
		"num":    3,
		"flag":   true,
		"nested": map[string]any{"a": 1},
		"list":   []any{"a", 2},
	})

	assert.Equal(t, "", got["nil"])
	assert.Equal(t, "s", got["str"])
	assert.Equal(t, 3, got["num"])
	assert.Equal(t, true, got["flag"])
	assert.Equal(t, `{"a":1}`, got["nested"])
	assert.Equal(t, "a, 2", got["list"])
}

func TestDedupeResults(t *testing.T) {
	results := []types.QueryResult{
		{ID: "1", SimilarityScore: 0.9, Source: types.SourceInfo{URL: "u", SectionID: "a"}},
		{ID: "2", SimilarityScore: 0.8, Source: types.SourceInfo{URL: "u", SectionID: "a"}},
		{ID: "3", SimilarityScore: 0.7, Source: types.SourceInfo{URL: "u", SectionID: "b"}},
		{ID: "4", SimilarityScore: -0.1, Source: types.SourceInfo{URL: "v"}},
	}

	got := DedupeResults(results)

	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "3", got[1].ID)
}
