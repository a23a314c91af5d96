package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/docstream/docstream/internal/batch"
	"github.com/docstream/docstream/internal/config"
	"github.com/docstream/docstream/internal/logger"
	"github.com/docstream/docstream/internal/models"
	"github.com/docstream/docstream/internal/queue"
	"github.com/docstream/docstream/internal/search"
	"github.com/docstream/docstream/internal/store"
)

func main() {
	log := logger.New("api")
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, err := store.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Error("connect postgres", slog.Any("err", err))
		os.Exit(1)
	}
	defer db.Close()

	esClient, err := search.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	queueClient := queue.New(cfg.KafkaBrokers, cfg.ConsumerGroup, log)
	defer queueClient.Close()

	if err := queueClient.EnsureTopics(ctx, cfg.UploadQueue, cfg.ProcessingQueue, cfg.AnalysisQueue); err != nil {
		log.Error("declare topics", slog.Any("err", err))
		os.Exit(1)
	}

	srv := &server{log: log, cfg: cfg, docs: db, es: esClient, pub: queueClient}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", srv.handleHealth)
	r.Post("/documents", srv.handleUpload)
	r.Get("/documents/{id}", srv.handleGetDocument)
	r.Get("/documents/{id}/analysis", srv.handleGetAnalysis)
	r.Get("/analyses", srv.handleSearchAnalyses)

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	go func() {
		log.Info("api server starting", slog.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}

type documentStore interface {
	SaveDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	GetAnalysis(ctx context.Context, documentID string) (*models.Analysis, error)
	Ping(ctx context.Context) error
}

type publisher interface {
	Publish(ctx context.Context, topic string, v any) error
}

type analysisSearcher interface {
	SearchAnalyses(ctx context.Context, params search.SearchParams) (*search.SearchResult, error)
	Health(ctx context.Context) error
}

type server struct {
	log  *slog.Logger
	cfg  *config.API
	docs documentStore
	es   analysisSearcher
	pub  publisher
}

type errorResponse struct {
	Error string `json:"error"`
}

type uploadResponse struct {
	DocumentIDs []string `json:"document_ids"`
	Batches     int      `json:"batches"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.docs.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	if err := s.es.Health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUpload accepts a multipart batch of files, registers each one and
// publishes it to the pipeline. The response is returned once everything is
// on the queue; processing itself is asynchronous.
func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid multipart request: " + err.Error()})
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "no files provided, use the \"files\" form field"})
		return
	}
	if len(files) > s.cfg.MaxFiles {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "too many files: " + strconv.Itoa(len(files)) + " exceeds limit of " + strconv.Itoa(s.cfg.MaxFiles),
		})
		return
	}

	uploads := make([]models.UploadMessage, 0, len(files))
	for _, fh := range files {
		ext := strings.ToLower(filepath.Ext(fh.Filename))
		if !s.extensionAllowed(ext) {
			writeJSON(w, http.StatusUnsupportedMediaType, errorResponse{
				Error: "unsupported file extension " + strconv.Quote(ext) + " for " + fh.Filename,
			})
			return
		}

		f, err := fh.Open()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "open " + fh.Filename + ": " + err.Error()})
			return
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "read " + fh.Filename + ": " + err.Error()})
			return
		}
		if len(content) == 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "empty file " + fh.Filename})
			return
		}

		uploads = append(uploads, models.UploadMessage{
			DocumentID:  uuid.NewString(),
			Filename:    fh.Filename,
			Content:     content,
			ContentType: contentTypeFor(fh.Header.Get("Content-Type"), ext),
		})
	}

	ctx := r.Context()
	ids := make([]string, 0, len(uploads))
	for _, u := range uploads {
		doc := &models.Document{
			ID:          u.DocumentID,
			Filename:    u.Filename,
			ContentType: u.ContentType,
			Status:      models.StatusReceived,
			Size:        int64(len(u.Content)),
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.docs.SaveDocument(ctx, doc); err != nil {
			s.log.Error("save document", slog.String("document_id", u.DocumentID), slog.Any("err", err))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "register document: " + err.Error()})
			return
		}
		ids = append(ids, u.DocumentID)
	}

	for _, u := range uploads {
		if err := s.pub.Publish(ctx, s.cfg.UploadQueue, u); err != nil {
			s.log.Error("publish upload", slog.String("document_id", u.DocumentID), slog.Any("err", err))
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: "enqueue upload: " + err.Error()})
			return
		}
	}

	batches, err := batch.Split(uploads, s.cfg.BatchSize)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	for _, b := range batches {
		if err := s.pub.Publish(ctx, s.cfg.ProcessingQueue, models.ProcessingMessage{Batch: b}); err != nil {
			s.log.Error("publish batch", slog.Any("err", err))
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: "enqueue batch: " + err.Error()})
			return
		}
	}

	s.log.Info("documents accepted",
		slog.Int("documents", len(uploads)),
		slog.Int("batches", len(batches)),
	)
	writeJSON(w, http.StatusAccepted, uploadResponse{DocumentIDs: ids, Batches: len(batches)})
}

func (s *server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	doc, err := s.docs.GetDocument(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

func (s *server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	analysis, err := s.docs.GetAnalysis(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, analysis)
}

func (s *server) handleSearchAnalyses(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	params := search.SearchParams{
		Query:      strings.TrimSpace(r.URL.Query().Get("q")),
		DocumentID: strings.TrimSpace(r.URL.Query().Get("document_id")),
		Keywords:   parseCSV(r.URL.Query().Get("keywords")),
		From:       clampInt(r.URL.Query().Get("from"), 0, 10_000),
		Size:       clampInt(r.URL.Query().Get("size"), 20, 200),
	}

	result, err := s.es.SearchAnalyses(ctx, params)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *server) extensionAllowed(ext string) bool {
	for _, allowed := range s.cfg.AllowedExtensions {
		if strings.EqualFold(allowed, ext) {
			return true
		}
	}
	return false
}

func contentTypeFor(declared, ext string) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".txt", ".md":
		return "text/plain"
	}
	return "application/octet-stream"
}

func parseCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func clampInt(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// nothing better to do
	}
}
