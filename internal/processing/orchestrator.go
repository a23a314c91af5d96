// Package processing runs the per-document extraction and analysis work for
// one batch under a bounded worker pool.
package processing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/docstream/docstream/internal/extract"
	"github.com/docstream/docstream/internal/metrics"
	"github.com/docstream/docstream/internal/models"
	"github.com/docstream/docstream/internal/textproc"
)

// ProcessingError is one document's failure. It never aborts sibling
// documents at the orchestrator level; the consumer's nack policy decides
// what happens to the enclosing message.
type ProcessingError struct {
	DocumentID string
	Stage      string
	Err        error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("document %s: %s: %v", e.DocumentID, e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// Result is the typed outcome for one document: either an Analysis or a
// per-document error, plus the wall-clock seconds spent on it.
type Result struct {
	DocumentID string
	Analysis   *models.Analysis
	Elapsed    float64
	Err        error
}

type contentExtractor interface {
	Extract(ctx context.Context, contentType string, data []byte) (*extract.Content, error)
}

type embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Orchestrator fans a batch out across a fixed-size worker pool. Pool size is
// independent of batch size, so a large batch is processed with controlled
// parallelism rather than unbounded fan-out.
type Orchestrator struct {
	pool      *ants.Pool
	extractor contentExtractor
	embed     embedder
	collector *metrics.Collector
	keywords  int
	log       *slog.Logger
}

// NewOrchestrator creates the orchestrator with workers pool slots.
func NewOrchestrator(workers int, extractor contentExtractor, embed embedder, collector *metrics.Collector, log *slog.Logger) (*Orchestrator, error) {
	if workers < 1 {
		workers = 1
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	return &Orchestrator{
		pool:      pool,
		extractor: extractor,
		embed:     embed,
		collector: collector,
		keywords:  8,
		log:       log,
	}, nil
}

// Release tears the pool down. Call on shutdown.
func (o *Orchestrator) Release() {
	o.pool.Release()
}

// ProcessBatch runs every document in the batch and returns one Result per
// document in batch order. It blocks until all documents settled.
func (o *Orchestrator) ProcessBatch(ctx context.Context, docs []models.UploadMessage) []Result {
	results := make([]Result, len(docs))

	var wg sync.WaitGroup
	for i := range docs {
		i := i
		doc := docs[i]

		wg.Add(1)
		if err := o.pool.Submit(func() {
			defer wg.Done()
			results[i] = o.processOne(ctx, doc)
		}); err != nil {
			wg.Done()
			results[i] = Result{
				DocumentID: doc.DocumentID,
				Err:        &ProcessingError{DocumentID: doc.DocumentID, Stage: "submit", Err: err},
			}
		}
	}
	wg.Wait()

	return results
}

func (o *Orchestrator) processOne(ctx context.Context, doc models.UploadMessage) Result {
	timerID := "document:" + doc.DocumentID
	o.collector.StartTimer(timerID)

	analysis, err := o.analyze(ctx, doc)

	elapsed, timerErr := o.collector.EndTimer(timerID)
	if timerErr != nil {
		elapsed = 0
	}

	res := Result{DocumentID: doc.DocumentID, Elapsed: elapsed}
	if err != nil {
		res.Err = err
		return res
	}
	res.Analysis = analysis
	return res
}

func (o *Orchestrator) analyze(ctx context.Context, doc models.UploadMessage) (*models.Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ProcessingError{DocumentID: doc.DocumentID, Stage: "canceled", Err: err}
	}

	content, err := o.extractor.Extract(ctx, doc.ContentType, doc.Content)
	if err != nil {
		return nil, &ProcessingError{DocumentID: doc.DocumentID, Stage: "extract", Err: err}
	}

	cleaned := textproc.Clean(content.Text)

	var nodes []models.SyntaxNode
	for _, span := range content.Spans {
		nodes = append(nodes, textproc.Paragraphs(span.Text, span.Page)...)
		nodes = append(nodes, textproc.Sentences(span.Text, span.Page)...)
	}
	nodes = append(nodes, textproc.Keywords(cleaned, o.keywords, 3)...)

	vec, err := o.embed.EmbedText(ctx, cleaned)
	if err != nil {
		return nil, &ProcessingError{DocumentID: doc.DocumentID, Stage: "embed", Err: err}
	}

	return &models.Analysis{
		DocumentID:  doc.DocumentID,
		SyntaxNodes: nodes,
		Embeddings:  vec,
		Metadata: map[string]any{
			"filename": doc.Filename,
			"pages":    content.Pages,
			"summary":  textproc.Summarize(content.Text, 3),
		},
	}, nil
}
