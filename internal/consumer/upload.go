package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/docstream/docstream/internal/models"
)

type blobWriter interface {
	Put(ctx context.Context, id string, data []byte) error
}

type statusUpdater interface {
	UpdateDocumentStatus(ctx context.Context, id string, status models.Status) error
}

// Upload persists raw document bytes to the object store and flips the
// document's status. It publishes nothing; blob writes are idempotent by id,
// which keeps redelivery safe.
type Upload struct {
	queue string
	blobs blobWriter
	docs  statusUpdater
	log   *slog.Logger
}

// NewUpload builds the upload consumer for the given channel name.
func NewUpload(queue string, blobs blobWriter, docs statusUpdater, log *slog.Logger) *Upload {
	return &Upload{queue: queue, blobs: blobs, docs: docs, log: log}
}

func (u *Upload) Queue() string { return u.queue }

func (u *Upload) Handle(ctx context.Context, payload []byte) error {
	var msg models.UploadMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode upload message: %w", err)
	}

	if err := u.blobs.Put(ctx, msg.DocumentID, msg.Content); err != nil {
		return fmt.Errorf("store content for document %s: %w", msg.DocumentID, err)
	}

	if err := u.docs.UpdateDocumentStatus(ctx, msg.DocumentID, models.StatusUploaded); err != nil {
		return fmt.Errorf("update status for document %s: %w", msg.DocumentID, err)
	}

	u.log.Debug("document uploaded",
		slog.String("document_id", msg.DocumentID),
		slog.Int("size", len(msg.Content)),
	)
	return nil
}
