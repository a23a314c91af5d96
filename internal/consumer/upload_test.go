package consumer_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docstream/docstream/internal/consumer"
	"github.com/docstream/docstream/internal/models"
)

type memBlobs struct {
	objects map[string][]byte
	err     error
}

func (m *memBlobs) Put(_ context.Context, id string, data []byte) error {
	if m.err != nil {
		return m.err
	}
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[id] = data
	return nil
}

func TestUploadHandleStoresBlobAndUpdatesStatus(t *testing.T) {
	blobs := &memBlobs{}
	store := newStubStore()
	h := consumer.NewUpload("documents_upload", blobs, store, discardLogger())

	payload, err := json.Marshal(models.UploadMessage{
		DocumentID:  "doc-1",
		Filename:    "report.pdf",
		Content:     []byte("%PDF-1.7 ..."),
		ContentType: "application/pdf",
	})
	require.NoError(t, err)

	require.NoError(t, h.Handle(context.Background(), payload))
	require.Equal(t, []byte("%PDF-1.7 ..."), blobs.objects["doc-1"])
	require.Equal(t, models.StatusUploaded, store.statuses["doc-1"])
}

func TestUploadHandleFailsWhenBlobWriteFails(t *testing.T) {
	blobs := &memBlobs{err: errors.New("bucket gone")}
	store := newStubStore()
	h := consumer.NewUpload("documents_upload", blobs, store, discardLogger())

	payload, err := json.Marshal(models.UploadMessage{DocumentID: "doc-2", Content: []byte("x")})
	require.NoError(t, err)

	require.Error(t, h.Handle(context.Background(), payload))
	require.Empty(t, store.statuses)
}

func TestUploadHandleRejectsMalformedPayload(t *testing.T) {
	h := consumer.NewUpload("documents_upload", &memBlobs{}, newStubStore(), discardLogger())
	require.Error(t, h.Handle(context.Background(), []byte("{broken")))
}
