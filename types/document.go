package types

// Document is raw text plus provenance metadata, before chunking.
type Document struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// ProcessedChunks holds parallel slices ready for the vector index.
type ProcessedChunks struct {
	Texts     []string
	Metadatas []map[string]any
	IDs       []string
}

func (p ProcessedChunks) Len() int {
	return len(p.Texts)
}

// Slice returns the chunks in [start, end).
func (p ProcessedChunks) Slice(start, end int) ProcessedChunks {
	return ProcessedChunks{
		Texts:     p.Texts[start:end],
		Metadatas: p.Metadatas[start:end],
		IDs:       p.IDs[start:end],
	}
}

type ChunkingConfig struct {
	ChunkSize    int
	ChunkOverlap int
	MinChunkSize int
}

type ProcessorStats struct {
	ChunkSize       int `json:"chunk_size"`
	ChunkOverlap    int `json:"chunk_overlap"`
	MinChunkSize    int `json:"min_chunk_size"`
	ProcessedHashes int `json:"processed_hashes"`
}

type UploadRequest struct {
	Title      string `json:"title"`
	Source     string `json:"source"`
	SourceType string `json:"source_type"`
	Priority   string `json:"priority"`
}
