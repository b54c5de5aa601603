package types

import "time"

const (
	KnowledgeCollection = "jwt_knowledge"
	QACollection        = "jwt_qa_history"
)

// QueryResult is one nearest-neighbour hit. It is never persisted.
type QueryResult struct {
	ID              string         `json:"id"`
	Content         string         `json:"content"`
	ContentPreview  string         `json:"content_preview"`
	Metadata        map[string]any `json:"metadata"`
	Source          SourceInfo     `json:"source"`
	SimilarityScore float64        `json:"similarity_score"`
	Distance        float64        `json:"distance"`
}

type CollectionStats struct {
	Count int `json:"count"`
}

type VectorStatistics struct {
	Enabled     bool                       `json:"enabled"`
	Collections map[string]CollectionStats `json:"collections"`
	Error       string                     `json:"error,omitempty"`
}

type IngestionError struct {
	Error     string         `json:"error"`
	Context   map[string]any `json:"context"`
	Timestamp time.Time      `json:"timestamp"`
}

type VerificationResult struct {
	CollectionName  string  `json:"collection_name"`
	DocumentCount   int     `json:"document_count"`
	Enabled         bool    `json:"enabled"`
	DurationSeconds float64 `json:"duration_seconds"`
}

const (
	IngestionIdle     = "idle"
	IngestionRunning  = "running"
	IngestionSuccess  = "success"
	IngestionDegraded = "degraded"
)

// IngestionReport is a point-in-time view of an ingestion run.
type IngestionReport struct {
	Status             string              `json:"status"`
	Running            bool                `json:"running"`
	TotalDocuments     int                 `json:"total_documents"`
	ProcessedDocuments int                 `json:"processed_documents"`
	FailedDocuments    int                 `json:"failed_documents"`
	TotalChunks        int                 `json:"total_chunks"`
	SuccessRate        float64             `json:"success_rate"`
	DurationSeconds    float64             `json:"duration_seconds"`
	Errors             []IngestionError    `json:"errors"`
	StartTime          *time.Time          `json:"start_time"`
	EndTime            *time.Time          `json:"end_time"`
	Verification       *VerificationResult `json:"verification,omitempty"`
	VectorDBStats      *VectorStatistics   `json:"vector_db_stats,omitempty"`
}

type IngestRequest struct {
	CustomURLs    []string `json:"custom_urls"`
	DiscoverQuery string   `json:"discover_query"`
	Rebuild       bool     `json:"rebuild"`
}

type CustomContentRequest struct {
	Content    string         `json:"content"`
	SourceName string         `json:"source_name"`
	SourceURL  string         `json:"source_url"`
	SourceType string         `json:"source_type"`
	Priority   string         `json:"priority"`
	Metadata   map[string]any `json:"metadata"`
}

type CustomContentResponse struct {
	ChunksStored int       `json:"chunks_stored"`
	IngestedAt   time.Time `json:"ingested_at"`
}

type KnowledgeSearchRequest struct {
	Query          string `json:"query"`
	TopK           int    `json:"top_k"`
	CollectionName string `json:"collection_name"`
}

type KnowledgeSearchResponse struct {
	Query        string        `json:"query"`
	Results      []QueryResult `json:"results"`
	TotalResults int           `json:"total_results"`
}

type QASource struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// SimilarQA is a past exchange recalled from the QA collection.
type SimilarQA struct {
	Question   string         `json:"question"`
	Answer     string         `json:"answer"`
	Sources    []QASource     `json:"sources"`
	Similarity float64        `json:"similarity"`
	Timestamp  string         `json:"timestamp"`
	Metadata   map[string]any `json:"metadata"`
}

type QAStatistics struct {
	TotalPairs int    `json:"total_pairs"`
	Enabled    bool   `json:"enabled"`
	Collection string `json:"collection"`
	Error      string `json:"error,omitempty"`
}

type QAInsights struct {
	QAStatistics
	Insights struct {
		LearningEnabled         bool   `json:"learning_enabled"`
		CanReferencePastAnswers bool   `json:"can_reference_past_answers"`
		Recommendation          string `json:"recommendation"`
	} `json:"insights"`
}
