package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/docstream/docstream/internal/config"
	"github.com/docstream/docstream/internal/consumer"
	"github.com/docstream/docstream/internal/dedupe"
	"github.com/docstream/docstream/internal/embedding"
	"github.com/docstream/docstream/internal/extract"
	"github.com/docstream/docstream/internal/logger"
	"github.com/docstream/docstream/internal/metrics"
	"github.com/docstream/docstream/internal/objectstore"
	"github.com/docstream/docstream/internal/processing"
	"github.com/docstream/docstream/internal/queue"
	"github.com/docstream/docstream/internal/search"
	"github.com/docstream/docstream/internal/store"
)

func main() {
	log := logger.New("worker")
	cfg, err := config.LoadWorker()
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

	if err := db.Init(ctx); err != nil {
		log.Error("init schema", slog.Any("err", err))
		os.Exit(1)
	}

	blobs, err := objectstore.NewGCS(ctx, cfg.Bucket)
	if err != nil {
		log.Error("init object store", slog.Any("err", err))
		os.Exit(1)
	}

	esClient, err := connectElasticsearch(ctx, log, cfg)
	if err != nil {
		log.Error("connect elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	var embedder embedding.Generator
	if cfg.EmbeddingHost != "" {
		embedder, err = embedding.NewOpenAI(cfg.EmbeddingHost, cfg.EmbeddingModel, os.Getenv("EMBEDDING_TOKEN"))
		if err != nil {
			log.Error("init embedder", slog.Any("err", err))
			os.Exit(1)
		}
		log.Info("using remote embedder", slog.String("host", cfg.EmbeddingHost), slog.String("model", cfg.EmbeddingModel))
	} else {
		embedder = embedding.NewHash(0)
		log.Info("no embedding host configured, using hash embedder")
	}

	collector := metrics.NewCollector()
	registry := extract.NewRegistry(extract.NewPDF(), extract.NewText())

	orch, err := processing.NewOrchestrator(cfg.ProcessingWorkers, registry, embedder, collector, log)
	if err != nil {
		log.Error("init orchestrator", slog.Any("err", err))
		os.Exit(1)
	}
	defer orch.Release()

	queueClient := queue.New(cfg.KafkaBrokers, cfg.ConsumerGroup, log)
	defer queueClient.Close()

	if err := queueClient.EnsureTopics(ctx, cfg.UploadQueue, cfg.ProcessingQueue, cfg.AnalysisQueue); err != nil {
		log.Error("declare topics", slog.Any("err", err))
		os.Exit(1)
	}

	seen := dedupe.NewCache(10_000, time.Hour)

	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < cfg.UploadWorkers; i++ {
		sub := queueClient.Subscribe(cfg.UploadQueue)
		handler := consumer.NewUpload(cfg.UploadQueue, blobs, db, log)
		runner := consumer.NewRunner(sub, handler, cfg.MaxRetries, cfg.MessageTimeout, log)
		g.Go(func() error {
			defer sub.Close()
			return runner.Run(gctx)
		})
	}

	{
		sub := queueClient.Subscribe(cfg.ProcessingQueue)
		handler := consumer.NewProcessing(cfg.ProcessingQueue, cfg.AnalysisQueue, orch, queueClient, db, collector, log)
		runner := consumer.NewRunner(sub, handler, cfg.MaxRetries, cfg.MessageTimeout, log)
		g.Go(func() error {
			defer sub.Close()
			return runner.Run(gctx)
		})
	}

	{
		sub := queueClient.Subscribe(cfg.AnalysisQueue)
		handler := consumer.NewIndexer(cfg.AnalysisQueue, esClient, seen, log)
		runner := consumer.NewRunner(sub, handler, cfg.MaxRetries, cfg.MessageTimeout, log)
		g.Go(func() error {
			defer sub.Close()
			return runner.Run(gctx)
		})
	}

	metricsServer := newMetricsServer(cfg.MetricsBindAddr, collector, db)
	g.Go(func() error {
		log.Info("metrics server starting", slog.String("addr", cfg.MetricsBindAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	log.Info("worker started",
		slog.Int("upload_workers", cfg.UploadWorkers),
		slog.Int("processing_workers", cfg.ProcessingWorkers),
		slog.Int("max_retries", cfg.MaxRetries),
	)

	if err := g.Wait(); err != nil {
		log.Error("worker stopped", slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("worker stopped")
}

// connectElasticsearch retries the initial ping with backoff so the worker
// survives the cluster coming up after it.
func connectElasticsearch(ctx context.Context, log *slog.Logger, cfg *config.Worker) (*search.Client, error) {
	esClient, err := search.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
	if err != nil {
		return nil, err
	}

	retryDelay := 2 * time.Second
	for attempt := 1; attempt <= 10; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = esClient.Ping(pingCtx)
		cancel()
		if err == nil {
			log.Info("connected to elasticsearch", slog.String("addr", cfg.ElasticsearchAddr))
			return esClient, nil
		}

		log.Warn("elasticsearch ping failed, retrying",
			slog.Any("err", err),
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", retryDelay),
		)

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		retryDelay *= 2
		if retryDelay > 30*time.Second {
			retryDelay = 30 * time.Second
		}
	}
	return nil, err
}

type pinger interface {
	Ping(ctx context.Context) error
}

func newMetricsServer(addr string, collector *metrics.Collector, docs pinger) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/metrics/global", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, collector.GlobalMetrics())
	})

	r.Get("/metrics/documents/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		m, err := collector.DocumentMetrics(id)
		if errors.Is(err, metrics.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, m)
	})

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := docs.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
