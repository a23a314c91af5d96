package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docstream/docstream/internal/search"
)

type analysisIndexer interface {
	IndexAnalysis(ctx context.Context, doc search.AnalysisDocument) error
}

type seenSet interface {
	Observe(key string) bool
	Forget(key string)
}

// Indexer consumes analysis messages and mirrors them into the search index.
// Delivery is at-least-once, so a recently-seen document/batch pair is
// skipped instead of re-indexed.
type Indexer struct {
	queue string
	idx   analysisIndexer
	seen  seenSet
	log   *slog.Logger
}

// NewIndexer builds the analysis indexer consumer.
func NewIndexer(queue string, idx analysisIndexer, seen seenSet, log *slog.Logger) *Indexer {
	return &Indexer{queue: queue, idx: idx, seen: seen, log: log}
}

func (i *Indexer) Queue() string { return i.queue }

func (i *Indexer) Handle(ctx context.Context, payload []byte) error {
	doc, err := search.AnalysisDocumentFromMessage(payload)
	if err != nil {
		return fmt.Errorf("decode analysis message: %w", err)
	}

	key := doc.DocumentID + "/" + doc.BatchID
	if i.seen.Observe(key) {
		i.log.Debug("duplicate analysis delivery", slog.String("document_id", doc.DocumentID))
		return nil
	}

	if err := i.idx.IndexAnalysis(ctx, doc); err != nil {
		i.seen.Forget(key)
		return fmt.Errorf("index analysis for document %s: %w", doc.DocumentID, err)
	}

	i.log.Info("analysis indexed",
		slog.String("document_id", doc.DocumentID),
		slog.String("batch_id", doc.BatchID),
	)
	return nil
}
