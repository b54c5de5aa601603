package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tieubaoca/jwt-assistant-be/types"
)

func TestFileService_Ingest(t *testing.T) {
	ingestion, _, _ := newTestIngestion(t, 1)
	uploadDir := t.TempDir()
	svc := NewFileService(uploadDir, ingestion)

	statuses := make(chan types.ProcessingDocumentStatus, 10)
	resp, err := svc.Ingest(context.Background(), types.UploadRequest{Title: "Team notes"}, "notes.md", strings.NewReader(sectionedContent), statuses)
	require.NoError(t, err)
	close(statuses)

	assert.Equal(t, types.UploadResponse{OriginalName: "notes.md", ChunksStored: 2}, resp)
	var got []types.ProcessingDocumentStatus
	for s := range statuses {
		got = append(got, s)
	}
	require.Len(t, got, 3)
	assert.Equal(t, ProcessingStatusProcessing, got[0].Status)
	assert.Equal(t, 0.5, got[0].Progress)
	assert.Equal(t, 2, got[1].StoredChunks)
	assert.Equal(t, ProcessingStatusCompleted, got[2].Status)

	entries, err := os.ReadDir(uploadDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "notes_"))
	assert.Equal(t, ".md", filepath.Ext(entries[0].Name()))
	assert.Equal(t, 2, knowledgeCount(t, ingestion))
}

func TestFileService_RejectsUnsupported(t *testing.T) {
	ingestion, _, _ := newTestIngestion(t, 0)
	uploadDir := t.TempDir()
	svc := NewFileService(uploadDir, ingestion)

	_, err := svc.Ingest(context.Background(), types.UploadRequest{}, "slides.pdf", strings.NewReader("%PDF"), nil)
	assert.ErrorContains(t, err, "unsupported file type")
	entries, _ := os.ReadDir(uploadDir)
	assert.Empty(t, entries)
}

func TestFileService_IngestPath(t *testing.T) {
	ingestion, _, _ := newTestIngestion(t, 0)
	svc := NewFileService(t.TempDir(), ingestion)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "claims.md"), []byte(sectionedContent), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logo.png"), []byte{0x89, 'P', 'N', 'G'}, 0o644))

	files, chunks, err := svc.IngestPath(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, files)
	assert.Equal(t, 2, chunks)
	assert.Equal(t, 2, knowledgeCount(t, ingestion))
}

func TestUploadMetadata(t *testing.T) {
	meta := uploadMetadata(types.UploadRequest{Source: "https://example.org/guide", Priority: "high"}, "guide.html")
	assert.Equal(t, map[string]any{
		"source_name":       "guide.html",
		"source_url":        "https://example.org/guide",
		"source_type":       "upload",
		"priority":          "high",
		"original_filename": "guide.html",
	}, meta)
}
