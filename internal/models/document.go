package models

import "time"

// Status tracks a document through the pipeline.
type Status string

const (
	StatusReceived  Status = "received"
	StatusUploaded  Status = "uploaded"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
)

// Document is the unit of work moving through the pipeline. IDs are always
// generated by the ingest layer; caller-supplied IDs are never accepted.
// Once a document has been published to a queue it is immutable; a
// correction means a new document with a new ID.
type Document struct {
	ID          string         `json:"id"`
	Filename    string         `json:"filename"`
	ContentType string         `json:"content_type"`
	Status      Status         `json:"status"`
	Size        int64          `json:"size"`
	CreatedAt   time.Time      `json:"created_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
