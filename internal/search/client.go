// Package search mirrors published analyses into Elasticsearch so they can
// be queried by text, keyword or document id.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/docstream/docstream/internal/models"
)

// AnalysisDocument is the denormalized shape stored in the index.
type AnalysisDocument struct {
	DocumentID            string    `json:"document_id"`
	BatchID               string    `json:"batch_id"`
	Summary               string    `json:"summary"`
	Keywords              []string  `json:"keywords"`
	SyntaxNodeCount       int       `json:"syntax_node_count"`
	ProcessingTimeSeconds float64   `json:"processing_time_seconds"`
	FileSizeBytes         int64     `json:"file_size_bytes"`
	IndexedAt             time.Time `json:"indexed_at"`
}

// AnalysisDocumentFromMessage flattens a raw analysis queue message into the
// indexable shape.
func AnalysisDocumentFromMessage(payload []byte) (AnalysisDocument, error) {
	var msg models.AnalysisMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return AnalysisDocument{}, err
	}
	if msg.DocumentID == "" {
		return AnalysisDocument{}, fmt.Errorf("missing document_id")
	}

	doc := AnalysisDocument{
		DocumentID:            msg.DocumentID,
		BatchID:               msg.BatchID,
		SyntaxNodeCount:       len(msg.Analysis.SyntaxNodes),
		ProcessingTimeSeconds: msg.Metrics.ProcessingTimeSeconds,
		FileSizeBytes:         msg.Metrics.FileSizeBytes,
		IndexedAt:             time.Now().UTC(),
	}

	if summary, ok := msg.Analysis.Metadata["summary"].(string); ok {
		doc.Summary = summary
	}
	for _, node := range msg.Analysis.SyntaxNodes {
		if node.Kind == models.KindEntity {
			doc.Keywords = append(doc.Keywords, node.Text)
		}
	}
	return doc, nil
}

// SearchParams narrow the analysis search.
type SearchParams struct {
	Query      string
	DocumentID string
	Keywords   []string
	From       int
	Size       int
}

// SearchResult bundles hits and total count.
type SearchResult struct {
	Total int64
	Items []AnalysisDocument
}

// Client wraps go-elasticsearch with helpers for the analyses index.
type Client struct {
	es    *elasticsearch.Client
	index string
	log   *slog.Logger
}

// New instantiates the Elasticsearch client.
func New(addr, index string, logger *slog.Logger) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{es: es, index: index, log: logger}, nil
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}
	return nil
}

// IndexAnalysis writes one analysis into the index. The document id is the
// index id, so re-indexing a redelivered analysis overwrites instead of
// duplicating.
func (c *Client) IndexAnalysis(ctx context.Context, doc AnalysisDocument) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal analysis doc: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      c.index,
		DocumentID: doc.DocumentID,
		Body:       bytes.NewReader(payload),
		Refresh:    "false",
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("index analysis: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("index analysis failed: %s", strings.TrimSpace(string(body)))
	}
	return nil
}

// SearchAnalyses executes a bool query with optional filters.
func (c *Client) SearchAnalyses(ctx context.Context, params SearchParams) (*SearchResult, error) {
	if params.Size <= 0 {
		params.Size = 20
	}
	if params.Size > 200 {
		params.Size = 200
	}
	if params.From < 0 {
		params.From = 0
	}

	must := make([]map[string]any, 0, 1)
	filters := make([]map[string]any, 0, 2)

	if params.Query != "" {
		must = append(must, map[string]any{
			"multi_match": map[string]any{
				"query":  params.Query,
				"fields": []string{"summary^2", "keywords"},
			},
		})
	}
	if params.DocumentID != "" {
		filters = append(filters, map[string]any{
			"term": map[string]any{"document_id": params.DocumentID},
		})
	}
	if len(params.Keywords) > 0 {
		filters = append(filters, map[string]any{
			"terms": map[string]any{"keywords": params.Keywords},
		})
	}

	boolQuery := map[string]any{}
	if len(must) > 0 {
		boolQuery["must"] = must
	}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}
	if len(must) == 0 && len(filters) == 0 {
		boolQuery["must"] = []map[string]any{
			{"match_all": map[string]any{}},
		}
	}

	body := map[string]any{
		"from":             params.From,
		"size":             params.Size,
		"track_total_hits": true,
		"query": map[string]any{
			"bool": boolQuery,
		},
		"sort": []map[string]any{
			{"indexed_at": map[string]any{"order": "desc"}},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source AnalysisDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	items := make([]AnalysisDocument, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		items = append(items, hit.Source)
	}

	return &SearchResult{Total: parsed.Hits.Total.Value, Items: items}, nil
}

// DeleteOlderThan removes analyses indexed before now-maxAge using batched
// delete-by-query. It loops until a batch deletes fewer documents than
// batchSize.
func (c *Client) DeleteOlderThan(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	cutoff := time.Now().Add(-maxAge).UTC().Format(time.RFC3339)
	totalDeleted := int64(0)

	for {
		body := map[string]any{
			"query": map[string]any{
				"range": map[string]any{
					"indexed_at": map[string]any{"lte": cutoff},
				},
			},
		}

		payload, err := json.Marshal(body)
		if err != nil {
			return totalDeleted, fmt.Errorf("marshal delete body: %w", err)
		}

		res, err := c.es.DeleteByQuery(
			[]string{c.index},
			bytes.NewReader(payload),
			c.es.DeleteByQuery.WithContext(ctx),
			c.es.DeleteByQuery.WithWaitForCompletion(true),
			c.es.DeleteByQuery.WithConflicts("proceed"),
			c.es.DeleteByQuery.WithScrollSize(batchSize),
		)
		if err != nil {
			return totalDeleted, fmt.Errorf("delete by query: %w", err)
		}

		if res.IsError() {
			data, _ := io.ReadAll(res.Body)
			res.Body.Close()
			return totalDeleted, fmt.Errorf("delete by query failed: %s", strings.TrimSpace(string(data)))
		}

		var parsed struct {
			Deleted int64 `json:"deleted"`
		}
		if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
			res.Body.Close()
			return totalDeleted, fmt.Errorf("decode delete response: %w", err)
		}
		res.Body.Close()

		totalDeleted += parsed.Deleted

		if parsed.Deleted < int64(batchSize) {
			break
		}
	}

	return totalDeleted, nil
}

// Health pings the cluster to ensure connectivity.
func (c *Client) Health(ctx context.Context) error {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("cluster health bad: %s", strings.TrimSpace(string(data)))
	}
	return nil
}
