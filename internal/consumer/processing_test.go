package consumer_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docstream/docstream/internal/consumer"
	"github.com/docstream/docstream/internal/metrics"
	"github.com/docstream/docstream/internal/models"
	"github.com/docstream/docstream/internal/processing"
)

type stubOrchestrator struct {
	failIDs map[string]bool
}

func (s *stubOrchestrator) ProcessBatch(_ context.Context, docs []models.UploadMessage) []processing.Result {
	results := make([]processing.Result, len(docs))
	for i, doc := range docs {
		if s.failIDs[doc.DocumentID] {
			results[i] = processing.Result{
				DocumentID: doc.DocumentID,
				Err:        &processing.ProcessingError{DocumentID: doc.DocumentID, Stage: "extract", Err: errors.New("unreadable")},
			}
			continue
		}
		results[i] = processing.Result{
			DocumentID: doc.DocumentID,
			Analysis: &models.Analysis{
				DocumentID:  doc.DocumentID,
				SyntaxNodes: []models.SyntaxNode{{Kind: models.KindSentence, Text: "ok."}},
			},
			Elapsed: 0.01,
		}
	}
	return results
}

type capturedPublish struct {
	topic string
	msg   models.AnalysisMessage
}

type stubPublisher struct {
	published []capturedPublish
	err       error
}

func (s *stubPublisher) Publish(_ context.Context, topic string, v any) error {
	if s.err != nil {
		return s.err
	}
	msg, ok := v.(models.AnalysisMessage)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", v)
	}
	s.published = append(s.published, capturedPublish{topic: topic, msg: msg})
	return nil
}

type stubStore struct {
	saved    []string
	statuses map[string]models.Status
}

func newStubStore() *stubStore {
	return &stubStore{statuses: make(map[string]models.Status)}
}

func (s *stubStore) SaveAnalysis(_ context.Context, analysis *models.Analysis) error {
	s.saved = append(s.saved, analysis.DocumentID)
	return nil
}

func (s *stubStore) UpdateDocumentStatus(_ context.Context, id string, status models.Status) error {
	s.statuses[id] = status
	return nil
}

func processingPayload(t *testing.T, ids ...string) []byte {
	t.Helper()
	msg := models.ProcessingMessage{}
	for _, id := range ids {
		msg.Batch = append(msg.Batch, models.UploadMessage{
			DocumentID:  id,
			Filename:    id + ".txt",
			Content:     []byte("content of " + id),
			ContentType: "text/plain",
		})
	}
	payload, err := json.Marshal(msg)
	require.NoError(t, err)
	return payload
}

func TestProcessingHandleHappyPath(t *testing.T) {
	orch := &stubOrchestrator{}
	pub := &stubPublisher{}
	store := newStubStore()
	collector := metrics.NewCollector()

	h := consumer.NewProcessing("documents_processing", "documents_analysis", orch, pub, store, collector, discardLogger())
	require.Equal(t, "documents_processing", h.Queue())

	err := h.Handle(context.Background(), processingPayload(t, "a", "b", "c"))
	require.NoError(t, err)

	require.ElementsMatch(t, []string{"a", "b", "c"}, store.saved)
	for _, id := range []string{"a", "b", "c"} {
		require.Equal(t, models.StatusProcessed, store.statuses[id])
	}

	require.Len(t, pub.published, 3)
	for _, p := range pub.published {
		require.Equal(t, "documents_analysis", p.topic)
		require.NotEmpty(t, p.msg.BatchID)
		require.Greater(t, p.msg.Metrics.ProcessingTimeSeconds, 0.0)
		require.Greater(t, p.msg.Metrics.FileSizeBytes, int64(0))
	}

	global := collector.GlobalMetrics()
	require.Equal(t, 3, global.TotalDocuments)
}

func TestProcessingHandlePartialFailure(t *testing.T) {
	orch := &stubOrchestrator{failIDs: map[string]bool{"bad": true}}
	pub := &stubPublisher{}
	store := newStubStore()

	h := consumer.NewProcessing("documents_processing", "documents_analysis", orch, pub, store, metrics.NewCollector(), discardLogger())

	err := h.Handle(context.Background(), processingPayload(t, "good-1", "bad", "good-2"))
	require.Error(t, err)

	var perr *processing.ProcessingError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "bad", perr.DocumentID)

	// Successful siblings are still persisted and published before the nack.
	require.ElementsMatch(t, []string{"good-1", "good-2"}, store.saved)
	require.Len(t, pub.published, 2)
	require.Equal(t, models.StatusFailed, store.statuses["bad"])
}

func TestProcessingHandleRejectsEmptyBatch(t *testing.T) {
	h := consumer.NewProcessing("documents_processing", "documents_analysis",
		&stubOrchestrator{}, &stubPublisher{}, newStubStore(), metrics.NewCollector(), discardLogger())

	err := h.Handle(context.Background(), []byte(`{"batch":[]}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty batch")
}

func TestProcessingHandlePublishFailureNacks(t *testing.T) {
	pub := &stubPublisher{err: errors.New("broker unavailable")}
	store := newStubStore()

	h := consumer.NewProcessing("documents_processing", "documents_analysis",
		&stubOrchestrator{}, pub, store, metrics.NewCollector(), discardLogger())

	err := h.Handle(context.Background(), processingPayload(t, "a"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "broker unavailable")
}

func TestProcessingHandleRejectsMalformedPayload(t *testing.T) {
	h := consumer.NewProcessing("documents_processing", "documents_analysis",
		&stubOrchestrator{}, &stubPublisher{}, newStubStore(), metrics.NewCollector(), discardLogger())

	err := h.Handle(context.Background(), []byte("not json"))
	require.Error(t, err)
}
