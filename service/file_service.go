package service

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/tieubaoca/jwt-assistant-be/logger"
	"github.com/tieubaoca/jwt-assistant-be/types"
	"github.com/tieubaoca/jwt-assistant-be/utils"
)

const (
	ProcessingStatusProcessing = "processing"
	ProcessingStatusCompleted  = "completed"
	ProcessingStatusError      = "error"
)

// FileService turns uploaded and local documents into knowledge base
// chunks.
type FileService struct {
	uploadDir string
	ingestion *IngestionService
}

func NewFileService(uploadDir string, ingestion *IngestionService) *FileService {
	return &FileService{
		uploadDir: uploadDir,
		ingestion: ingestion,
	}
}

// UploadFile keeps a copy of the upload and ingests it, reporting progress
// on c.
func (s *FileService) UploadFile(ctx context.Context, req types.UploadRequest, file *multipart.FileHeader, c chan<- types.ProcessingDocumentStatus) (types.UploadResponse, error) {
	src, err := file.Open()
	if err != nil {
		return types.UploadResponse{}, err
	}
	defer src.Close()
	return s.Ingest(ctx, req, file.Filename, src, c)
}

// Ingest saves src under the upload directory as name_<unix>.ext and stores
// its chunks. c may be nil.
func (s *FileService) Ingest(ctx context.Context, req types.UploadRequest, name string, src io.Reader, c chan<- types.ProcessingDocumentStatus) (types.UploadResponse, error) {
	if !utils.IsSupportedDocument(name) {
		return types.UploadResponse{}, fmt.Errorf("unsupported file type: %s", filepath.Ext(name))
	}

	path, err := utils.SaveWithTimestamp(src, name, s.uploadDir)
	if err != nil {
		return types.UploadResponse{}, err
	}
	content, err := utils.ReadDocumentFile(path)
	if err != nil {
		return types.UploadResponse{}, err
	}

	metadata := uploadMetadata(req, name)
	stored, err := s.ingestion.IngestContent(ctx, content, metadata, func(done, total int) {
		report(ctx, c, types.ProcessingDocumentStatus{
			Status:       ProcessingStatusProcessing,
			Message:      "Processing document",
			Progress:     float64(done) / float64(total),
			TotalChunks:  total,
			StoredChunks: done,
		})
	})
	if err != nil {
		report(ctx, c, types.ProcessingDocumentStatus{Status: ProcessingStatusError, Message: err.Error()})
		return types.UploadResponse{}, err
	}

	report(ctx, c, types.ProcessingDocumentStatus{
		Status:       ProcessingStatusCompleted,
		Message:      "Done processing document",
		Progress:     1,
		TotalChunks:  stored,
		StoredChunks: stored,
	})
	logger.L().Infow("Document ingested", "file", filepath.Base(path), "chunks", stored)
	return types.UploadResponse{OriginalName: name, ChunksStored: stored}, nil
}

// IngestPath stores a document file, or every supported document under a
// directory. Files that fail are logged and skipped.
func (s *FileService) IngestPath(ctx context.Context, root string) (files, chunks int, err error) {
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !utils.IsSupportedDocument(path) {
			return nil
		}

		content, err := utils.ReadDocumentFile(path)
		if err != nil {
			logger.L().Warnw("Failed to read document", "path", path, "error", err)
			return nil
		}
		abs, _ := filepath.Abs(path)
		stored, err := s.ingestion.IngestCustomContent(ctx, content, map[string]any{
			"source_name": filepath.Base(path),
			"source_url":  "file://" + filepath.ToSlash(abs),
			"source_type": "file",
			"priority":    "medium",
		})
		if err != nil {
			logger.L().Warnw("Failed to ingest document", "path", path, "error", err)
			return nil
		}
		files++
		chunks += stored
		return nil
	})
	return files, chunks, err
}

func uploadMetadata(req types.UploadRequest, name string) map[string]any {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = filepath.Base(name)
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = "upload://" + filepath.Base(name)
	}
	return map[string]any{
		"source_name":       title,
		"source_url":        source,
		"source_type":       orDefault(req.SourceType, "upload"),
		"priority":          orDefault(req.Priority, "medium"),
		"original_filename": filepath.Base(name),
	}
}

func report(ctx context.Context, c chan<- types.ProcessingDocumentStatus, status types.ProcessingDocumentStatus) {
	if c == nil {
		return
	}
	select {
	case c <- status:
	case <-ctx.Done():
	}
}
