package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tieubaoca/jwt-assistant-be/config"
	"github.com/tieubaoca/jwt-assistant-be/logger"
	"github.com/tieubaoca/jwt-assistant-be/types"
)

const (
	defaultBatchSize = 50
	// a run below this success rate (documents or stored chunks) is degraded
	ingestionSuccessThreshold = 80.0
)

var ErrNoChunks = errors.New("no chunks created from content")

// IngestionService drives scrape -> process -> store -> verify and keeps a
// report of the current or last run.
type IngestionService struct {
	index      *VectorIndex
	scraper    *WebScraper
	processor  *ContentProcessor
	discovery  *SourceDiscovery
	batchSize  int
	maxRetries int
	backoff    func(attempt int) time.Duration
	now        func() time.Time

	mu      sync.Mutex
	running bool
	report  types.IngestionReport
}

func NewIngestionService(
	index *VectorIndex,
	scraper *WebScraper,
	processor *ContentProcessor,
	discovery *SourceDiscovery,
	cfg config.IngestionConfig,
) *IngestionService {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &IngestionService{
		index:      index,
		scraper:    scraper,
		processor:  processor,
		discovery:  discovery,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		backoff:    exponentialBackoff,
		now:        time.Now,
	}
}

// IngestFromWeb scrapes the default sources plus customURLs (and, when a
// query is given, discovered pages) into the knowledge collection. Failures
// are recorded in the report; only a concurrent run is an error.
func (s *IngestionService) IngestFromWeb(ctx context.Context, customURLs []string, discoverQuery string) (types.IngestionReport, error) {
	if !s.begin() {
		return s.Status(), ErrIngestionRunning
	}
	defer s.end()
	return s.run(ctx, customURLs, discoverQuery), nil
}

// StartBackground runs IngestFromWeb on its own goroutine.
func (s *IngestionService) StartBackground(ctx context.Context, customURLs []string, discoverQuery string) error {
	if !s.begin() {
		return ErrIngestionRunning
	}
	go func() {
		defer s.end()
		s.run(ctx, customURLs, discoverQuery)
	}()
	return nil
}

// UpdateKnowledgeBase re-ingests the web sources. A full rebuild clears the
// knowledge collection and the dedup cache first.
func (s *IngestionService) UpdateKnowledgeBase(ctx context.Context, incremental bool) (types.IngestionReport, error) {
	if !s.begin() {
		return s.Status(), ErrIngestionRunning
	}
	defer s.end()

	if !incremental {
		logger.L().Infow("Rebuilding knowledge base from scratch")
		if err := s.index.ResetCollection(ctx, types.KnowledgeCollection); err != nil {
			s.addError(err, map[string]any{"stage": "reset"})
		}
		s.processor.ResetDeduplication()
	}
	s.scraper.Reset()
	return s.run(ctx, nil, ""), nil
}

// IngestCustomContent stores user supplied content without deduplication
// and returns the number of chunks stored.
func (s *IngestionService) IngestCustomContent(ctx context.Context, content string, metadata map[string]any) (int, error) {
	return s.IngestContent(ctx, content, metadata, nil)
}

// IngestContent is IngestCustomContent with a progress callback invoked
// after every batch.
func (s *IngestionService) IngestContent(ctx context.Context, content string, metadata map[string]any, progress func(stored, total int)) (int, error) {
	if !s.index.Enabled() {
		return 0, ErrVectorIndexDisabled
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	logger.L().Infow("Ingesting custom content", "source_name", metadataName(metadata))

	chunks := s.processor.Process(s.prepare([]types.Document{{Content: content, Metadata: metadata}}), false)
	total := chunks.Len()
	if total == 0 {
		return 0, ErrNoChunks
	}

	var lastErr error
	stored := 0
	failed := s.storeBatches(ctx, chunks, types.KnowledgeCollection, func(_ int, size int, err error) {
		if err != nil {
			lastErr = err
		} else {
			stored += size
		}
		if progress != nil {
			progress(stored, total)
		}
	})
	if failed > 0 {
		return stored, fmt.Errorf("failed to store %d of %d chunks: %w", failed, total, lastErr)
	}
	logger.L().Infow("Stored custom content", "chunks", stored)
	return stored, nil
}

// Status returns a snapshot of the current or last run.
func (s *IngestionService) Status() types.IngestionReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *IngestionService) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *IngestionService) run(ctx context.Context, customURLs []string, discoverQuery string) types.IngestionReport {
	log := logger.L()
	log.Infow("Starting knowledge base ingestion", "custom_urls", len(customURLs))

	docs := s.scrape(ctx, customURLs, discoverQuery)
	s.update(func(r *types.IngestionReport) { r.TotalDocuments = len(docs) })
	if len(docs) == 0 {
		log.Warnw("No documents scraped, aborting ingestion")
		s.finish()
		return s.Status()
	}

	chunks := s.processor.Process(s.prepare(docs), true)
	s.update(func(r *types.IngestionReport) { r.TotalChunks = chunks.Len() })
	if chunks.Len() == 0 {
		log.Warnw("No chunks created, aborting ingestion")
		s.finish()
		return s.Status()
	}
	log.Infow("Processed documents", "documents", len(docs), "chunks", chunks.Len())

	s.storeBatches(ctx, chunks, types.KnowledgeCollection, func(batch, size int, err error) {
		if err == nil {
			return
		}
		s.update(func(r *types.IngestionReport) { r.FailedDocuments += size })
		s.addError(fmt.Errorf("error storing batch %d: %w", batch, err), map[string]any{
			"stage":      "storage",
			"batch":      batch,
			"batch_size": size,
		})
	})

	s.finish()
	verification, stats := s.verify(ctx, types.KnowledgeCollection)

	s.update(func(r *types.IngestionReport) {
		r.Verification = &verification
		r.VectorDBStats = &stats
	})
	report := s.Status()
	log.Infow("Ingestion complete",
		"total_documents", report.TotalDocuments,
		"processed", report.ProcessedDocuments,
		"failed_chunks", report.FailedDocuments,
		"total_chunks", report.TotalChunks,
		"duration_seconds", report.DurationSeconds,
		"status", report.Status,
	)
	return report
}

func (s *IngestionService) scrape(ctx context.Context, customURLs []string, discoverQuery string) []types.Document {
	var docs []types.Document

	defaults, err := s.scraper.ScrapeAllSources(ctx)
	if err != nil {
		s.addError(fmt.Errorf("error scraping default sources: %w", err), map[string]any{"stage": "scraping_default"})
	}
	docs = append(docs, defaults...)
	s.update(func(r *types.IngestionReport) { r.ProcessedDocuments += len(defaults) })

	urls := append([]string(nil), customURLs...)
	if discoverQuery != "" && s.discovery.Enabled() {
		found, err := s.discovery.DiscoverURLs(ctx, discoverQuery)
		if err != nil {
			s.addError(fmt.Errorf("error discovering sources: %w", err), map[string]any{"stage": "discovery"})
		}
		urls = append(urls, found...)
	}
	if len(urls) == 0 {
		return docs
	}

	custom, err := s.scraper.ScrapeCustomURLs(ctx, urls)
	if err != nil {
		s.addError(fmt.Errorf("error scraping custom URLs: %w", err), map[string]any{"stage": "scraping_custom"})
	}
	docs = append(docs, custom...)
	s.update(func(r *types.IngestionReport) { r.ProcessedDocuments += len(custom) })
	return docs
}

// prepare splits markdown documents by their headings.
func (s *IngestionService) prepare(docs []types.Document) []types.Document {
	out := make([]types.Document, 0, len(docs))
	for _, doc := range docs {
		if strings.Contains(doc.Content, "##") {
			out = append(out, s.processor.ChunkByHeaders(doc.Content, doc.Metadata)...)
			continue
		}
		out = append(out, doc)
	}
	return out
}

// storeBatches writes chunks batchSize at a time, retrying each batch with
// exponential backoff. onBatch sees the 1-based batch number, its size and
// the final error. It returns the number of chunks that were not stored.
func (s *IngestionService) storeBatches(ctx context.Context, chunks types.ProcessedChunks, collection string, onBatch func(batch, size int, err error)) int {
	total := chunks.Len()
	batches := (total + s.batchSize - 1) / s.batchSize
	failed := 0

	for start := 0; start < total; start += s.batchSize {
		end := min(start+s.batchSize, total)
		batch := chunks.Slice(start, end)
		num := start/s.batchSize + 1

		var err error
		for attempt := 0; attempt < s.maxRetries; attempt++ {
			err = s.index.AddDocuments(ctx, batch.Texts, batch.Metadatas, batch.IDs, collection)
			if err == nil || errors.Is(err, ErrVectorIndexDisabled) {
				break
			}
			if attempt < s.maxRetries-1 {
				logger.L().Warnw("Batch failed, retrying", "batch", num, "batches", batches, "attempt", attempt+1, "error", err)
				if sleepErr := sleepContext(ctx, s.backoff(attempt)); sleepErr != nil {
					err = sleepErr
					break
				}
			}
		}

		if err != nil {
			logger.L().Errorw("Batch failed", "batch", num, "batches", batches, "error", err)
			failed += batch.Len()
		} else {
			logger.L().Debugw("Batch stored", "batch", num, "batches", batches, "chunks", batch.Len())
		}
		if onBatch != nil {
			onBatch(num, batch.Len(), err)
		}
	}
	return failed
}

func (s *IngestionService) verify(ctx context.Context, collection string) (types.VerificationResult, types.VectorStatistics) {
	stats := s.index.Statistics(ctx)
	if stats.Error != "" {
		s.addError(fmt.Errorf("error verifying ingestion: %s", stats.Error), map[string]any{"stage": "verification"})
	}
	report := s.Status()
	return types.VerificationResult{
		CollectionName:  collection,
		DocumentCount:   stats.Collections[collection].Count,
		Enabled:         stats.Enabled,
		DurationSeconds: report.DurationSeconds,
	}, stats
}

func (s *IngestionService) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	start := s.now().UTC()
	s.report = types.IngestionReport{StartTime: &start}
	return true
}

func (s *IngestionService) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

func (s *IngestionService) finish() {
	s.update(func(r *types.IngestionReport) {
		end := s.now().UTC()
		r.EndTime = &end
	})
}

func (s *IngestionService) update(fn func(r *types.IngestionReport)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.report)
}

func (s *IngestionService) addError(err error, details map[string]any) {
	logger.L().Warnw("Ingestion error", "error", err, "context", details)
	s.update(func(r *types.IngestionReport) {
		r.Errors = append(r.Errors, types.IngestionError{
			Error:     err.Error(),
			Context:   details,
			Timestamp: s.now().UTC(),
		})
	})
}

func (s *IngestionService) snapshotLocked() types.IngestionReport {
	r := s.report
	r.Running = s.running
	r.Errors = append([]types.IngestionError{}, s.report.Errors...)

	if r.TotalDocuments > 0 {
		r.SuccessRate = float64(r.ProcessedDocuments) / float64(r.TotalDocuments) * 100
	}
	switch {
	case r.StartTime != nil && r.EndTime != nil:
		r.DurationSeconds = r.EndTime.Sub(*r.StartTime).Seconds()
	case r.StartTime != nil:
		r.DurationSeconds = s.now().Sub(*r.StartTime).Seconds()
	}

	switch {
	case r.StartTime == nil:
		r.Status = types.IngestionIdle
	case r.Running && r.EndTime == nil:
		r.Status = types.IngestionRunning
	case r.SuccessRate >= ingestionSuccessThreshold && storedRate(r) >= ingestionSuccessThreshold:
		r.Status = types.IngestionSuccess
	default:
		r.Status = types.IngestionDegraded
	}
	return r
}

func storedRate(r types.IngestionReport) float64 {
	if r.TotalChunks == 0 {
		return 0
	}
	return float64(r.TotalChunks-r.FailedDocuments) / float64(r.TotalChunks) * 100
}

func metadataName(metadata map[string]any) string {
	if v, ok := metadata["source_name"].(string); ok && v != "" {
		return v
	}
	return "Unknown"
}
