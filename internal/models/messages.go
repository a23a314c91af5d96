package models

// Queue message payloads. JSON is the wire encoding for all three channels;
// []byte content is base64 under encoding/json, which keeps the messages
// self-describing and round-trip safe.

// UploadMessage carries one document's raw bytes to the upload consumer and
// rides inside processing batches.
type UploadMessage struct {
	DocumentID  string `json:"document_id"`
	Filename    string `json:"filename"`
	Content     []byte `json:"content"`
	ContentType string `json:"content_type"`
}

// ProcessingMessage is one batch on the processing channel,
// 1..BATCH_SIZE documents in submission order.
type ProcessingMessage struct {
	Batch []UploadMessage `json:"batch"`
}

// ProcessingMetrics is the per-document timing snapshot attached to every
// analysis message.
type ProcessingMetrics struct {
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
	FileSizeBytes         int64   `json:"file_size_bytes"`
	TotalDocuments        int     `json:"total_documents_processed"`
	TotalTimeSeconds      float64 `json:"total_processing_time_seconds"`
	AverageTimeSeconds    float64 `json:"average_processing_time_seconds"`
}

// AnalysisMessage is published to the analysis channel once per successfully
// processed document, tagged with the batch it was processed in.
type AnalysisMessage struct {
	DocumentID string            `json:"document_id"`
	BatchID    string            `json:"batch_id"`
	Analysis   Analysis          `json:"analysis"`
	Metrics    ProcessingMetrics `json:"processing_metrics"`
}
