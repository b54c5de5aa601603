package types

type DataResponse struct {
	Status  bool        `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type UploadResponse struct {
	OriginalName string `json:"original_name,omitempty"`
	ChunksStored int    `json:"chunks_stored"`
}

type ProcessingDocumentStatus struct {
	Status       string  `json:"status"`
	Message      string  `json:"message"`
	Progress     float64 `json:"progress"`
	TotalChunks  int     `json:"total_chunks"`
	StoredChunks int     `json:"stored_chunks"`
}
