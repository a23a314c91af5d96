package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/docstream/docstream/internal/metrics"
	"github.com/docstream/docstream/internal/models"
	"github.com/docstream/docstream/internal/processing"
)

type batchProcessor interface {
	ProcessBatch(ctx context.Context, docs []models.UploadMessage) []processing.Result
}

type publisher interface {
	Publish(ctx context.Context, topic string, v any) error
}

type analysisStore interface {
	SaveAnalysis(ctx context.Context, analysis *models.Analysis) error
	UpdateDocumentStatus(ctx context.Context, id string, status models.Status) error
}

// Processing consumes batch messages, fans each batch through the
// orchestrator, persists and publishes every successful analysis, and nacks
// the whole message when any document failed.
//
// A redelivered batch is reprocessed in full: analysis persistence and
// indexing are upserts keyed by document id, so repeating the successful
// documents is safe.
type Processing struct {
	queue         string
	analysisTopic string
	orch          batchProcessor
	pub           publisher
	store         analysisStore
	collector     *metrics.Collector
	log           *slog.Logger
}

// NewProcessing builds the processing consumer.
func NewProcessing(queue, analysisTopic string, orch batchProcessor, pub publisher, store analysisStore, collector *metrics.Collector, log *slog.Logger) *Processing {
	return &Processing{
		queue:         queue,
		analysisTopic: analysisTopic,
		orch:          orch,
		pub:           pub,
		store:         store,
		collector:     collector,
		log:           log,
	}
}

func (p *Processing) Queue() string { return p.queue }

func (p *Processing) Handle(ctx context.Context, payload []byte) error {
	var msg models.ProcessingMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode processing message: %w", err)
	}
	if len(msg.Batch) == 0 {
		return fmt.Errorf("empty batch")
	}

	batchID := uuid.NewString()
	batchTimer := "batch:" + batchID
	p.collector.StartTimer(batchTimer)

	sizes := make(map[string]int64, len(msg.Batch))
	for _, doc := range msg.Batch {
		sizes[doc.DocumentID] = int64(len(doc.Content))
	}

	results := p.orch.ProcessBatch(ctx, msg.Batch)

	var failed int
	var firstErr error
	for _, res := range results {
		if res.Err != nil {
			failed++
			if firstErr == nil {
				firstErr = res.Err
			}
			p.log.Error("document processing failed",
				slog.String("document_id", res.DocumentID),
				slog.String("batch_id", batchID),
				slog.Any("err", res.Err),
			)
			if err := p.store.UpdateDocumentStatus(ctx, res.DocumentID, models.StatusFailed); err != nil {
				p.log.Warn("mark document failed",
					slog.String("document_id", res.DocumentID),
					slog.Any("err", err),
				)
			}
			continue
		}

		if err := p.finish(ctx, batchID, res, sizes[res.DocumentID]); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			p.log.Error("publish analysis failed",
				slog.String("document_id", res.DocumentID),
				slog.String("batch_id", batchID),
				slog.Any("err", err),
			)
		}
	}

	if elapsed, err := p.collector.EndTimer(batchTimer); err == nil {
		p.log.Info("batch processed",
			slog.String("batch_id", batchID),
			slog.Int("documents", len(results)),
			slog.Int("failed", failed),
			slog.Float64("elapsed_sec", elapsed),
		)
	}

	if failed > 0 {
		// One ack/nack unit per message: partial success must not be
		// swallowed, so the whole batch nacks and is reprocessed.
		return fmt.Errorf("batch %s: %d of %d documents failed: %w", batchID, failed, len(results), firstErr)
	}
	return nil
}

// finish persists, measures and publishes one successful analysis.
func (p *Processing) finish(ctx context.Context, batchID string, res processing.Result, size int64) error {
	if err := p.store.SaveAnalysis(ctx, res.Analysis); err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	if err := p.store.UpdateDocumentStatus(ctx, res.DocumentID, models.StatusProcessed); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	p.collector.RecordDocument(res.DocumentID, res.Elapsed, size, map[string]any{
		"batch_id":     batchID,
		"syntax_nodes": len(res.Analysis.SyntaxNodes),
	})

	global := p.collector.GlobalMetrics()
	out := models.AnalysisMessage{
		DocumentID: res.DocumentID,
		BatchID:    batchID,
		Analysis:   *res.Analysis,
		Metrics: models.ProcessingMetrics{
			ProcessingTimeSeconds: res.Elapsed,
			FileSizeBytes:         size,
			TotalDocuments:        global.TotalDocuments,
			TotalTimeSeconds:      global.TotalTimeSeconds,
			AverageTimeSeconds:    global.AverageTimeSeconds,
		},
	}

	if err := p.pub.Publish(ctx, p.analysisTopic, out); err != nil {
		return err
	}
	return nil
}
