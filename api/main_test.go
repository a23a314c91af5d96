package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/docstream/docstream/internal/config"
	"github.com/docstream/docstream/internal/models"
	"github.com/docstream/docstream/internal/search"
	"github.com/docstream/docstream/internal/store"
)

type stubStore struct {
	docs     map[string]*models.Document
	analyses map[string]*models.Analysis
	saveErr  error
}

func newStubStore() *stubStore {
	return &stubStore{
		docs:     make(map[string]*models.Document),
		analyses: make(map[string]*models.Analysis),
	}
}

func (s *stubStore) SaveDocument(_ context.Context, doc *models.Document) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.docs[doc.ID] = doc
	return nil
}

func (s *stubStore) GetDocument(_ context.Context, id string) (*models.Document, error) {
	doc, ok := s.docs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return doc, nil
}

func (s *stubStore) GetAnalysis(_ context.Context, id string) (*models.Analysis, error) {
	analysis, ok := s.analyses[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return analysis, nil
}

func (s *stubStore) Ping(context.Context) error { return nil }

type publishedMessage struct {
	topic   string
	payload any
}

type stubPublisher struct {
	messages []publishedMessage
	err      error
}

func (p *stubPublisher) Publish(_ context.Context, topic string, v any) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, publishedMessage{topic: topic, payload: v})
	return nil
}

func (p *stubPublisher) onTopic(topic string) []publishedMessage {
	var out []publishedMessage
	for _, m := range p.messages {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type stubSearcher struct {
	result *search.SearchResult
	params search.SearchParams
	err    error
}

func (s *stubSearcher) SearchAnalyses(_ context.Context, params search.SearchParams) (*search.SearchResult, error) {
	s.params = params
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubSearcher) Health(context.Context) error { return nil }

func testConfig() *config.API {
	return &config.API{
		Common: config.Common{
			UploadQueue:     "documents_upload",
			ProcessingQueue: "documents_processing",
			AnalysisQueue:   "documents_analysis",
		},
		BatchSize:         2,
		MaxFiles:          5,
		AllowedExtensions: []string{".pdf", ".txt"},
		MaxUploadBytes:    8 << 20,
	}
}

func newTestServer(docs *stubStore, pub *stubPublisher, es *stubSearcher) http.Handler {
	srv := &server{
		log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		cfg:  testConfig(),
		docs: docs,
		es:   es,
		pub:  pub,
	}

	r := chi.NewRouter()
	r.Get("/health", srv.handleHealth)
	r.Post("/documents", srv.handleUpload)
	r.Get("/documents/{id}", srv.handleGetDocument)
	r.Get("/documents/{id}/analysis", srv.handleGetAnalysis)
	r.Get("/analyses", srv.handleSearchAnalyses)
	return r
}

func multipartBody(t *testing.T, filenames ...string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, name := range filenames {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte("content of " + name))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func TestHandleUploadPublishesBatches(t *testing.T) {
	docs := newStubStore()
	pub := &stubPublisher{}
	handler := newTestServer(docs, pub, &stubSearcher{})

	body, contentType := multipartBody(t, "a.txt", "b.txt", "c.txt")
	req := httptest.NewRequest(http.MethodPost, "/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.DocumentIDs, 3)
	// BatchSize is 2, so 3 documents split into 2 batches.
	require.Equal(t, 2, resp.Batches)

	require.Len(t, docs.docs, 3)
	for _, id := range resp.DocumentIDs {
		require.Equal(t, models.StatusReceived, docs.docs[id].Status)
	}

	require.Len(t, pub.onTopic("documents_upload"), 3)

	batches := pub.onTopic("documents_processing")
	require.Len(t, batches, 2)
	first, ok := batches[0].payload.(models.ProcessingMessage)
	require.True(t, ok)
	require.Len(t, first.Batch, 2)
	second := batches[1].payload.(models.ProcessingMessage)
	require.Len(t, second.Batch, 1)
	// Submission order is preserved across batches.
	require.Equal(t, "a.txt", first.Batch[0].Filename)
	require.Equal(t, "c.txt", second.Batch[0].Filename)
}

func TestHandleUploadRejectsUnsupportedExtension(t *testing.T) {
	pub := &stubPublisher{}
	handler := newTestServer(newStubStore(), pub, &stubSearcher{})

	body, contentType := multipartBody(t, "malware.exe")
	req := httptest.NewRequest(http.MethodPost, "/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	require.Empty(t, pub.messages)
}

func TestHandleUploadRejectsTooManyFiles(t *testing.T) {
	handler := newTestServer(newStubStore(), &stubPublisher{}, &stubSearcher{})

	names := []string{"1.txt", "2.txt", "3.txt", "4.txt", "5.txt", "6.txt"}
	body, contentType := multipartBody(t, names...)
	req := httptest.NewRequest(http.MethodPost, "/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleUploadRejectsEmptyForm(t *testing.T) {
	handler := newTestServer(newStubStore(), &stubPublisher{}, &stubSearcher{})

	body, contentType := multipartBody(t)
	req := httptest.NewRequest(http.MethodPost, "/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleUploadPublishFailure(t *testing.T) {
	pub := &stubPublisher{err: errors.New("broker down")}
	handler := newTestServer(newStubStore(), pub, &stubSearcher{})

	body, contentType := multipartBody(t, "a.txt")
	req := httptest.NewRequest(http.MethodPost, "/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleGetDocument(t *testing.T) {
	docs := newStubStore()
	docs.docs["doc-1"] = &models.Document{
		ID:        "doc-1",
		Filename:  "report.pdf",
		Status:    models.StatusProcessed,
		CreatedAt: time.Now().UTC(),
	}
	handler := newTestServer(docs, &stubPublisher{}, &stubSearcher{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents/doc-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var doc models.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Equal(t, "report.pdf", doc.Filename)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetAnalysis(t *testing.T) {
	docs := newStubStore()
	docs.analyses["doc-1"] = &models.Analysis{
		DocumentID:  "doc-1",
		SyntaxNodes: []models.SyntaxNode{{Kind: models.KindSentence, Text: "Done."}},
	}
	handler := newTestServer(docs, &stubPublisher{}, &stubSearcher{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents/doc-1/analysis", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents/doc-2/analysis", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSearchAnalysesPassesParams(t *testing.T) {
	es := &stubSearcher{result: &search.SearchResult{Total: 1, Items: []search.AnalysisDocument{{DocumentID: "doc-1"}}}}
	handler := newTestServer(newStubStore(), &stubPublisher{}, es)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/analyses?q=shipping&document_id=doc-1&keywords=a,b&size=5", nil)
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "shipping", es.params.Query)
	require.Equal(t, "doc-1", es.params.DocumentID)
	require.Equal(t, []string{"a", "b"}, es.params.Keywords)
	require.Equal(t, 5, es.params.Size)
}
