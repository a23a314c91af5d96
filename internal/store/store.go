// Package store is the durable home for documents and analyses. Every write
// is an upsert keyed by id, which makes redelivered messages harmless.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/docstream/docstream/internal/models"
)

// Postgres implements document and analysis persistence on a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// New connects and pings the database.
func New(ctx context.Context, connStr string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Init creates the schema when missing. Safe to call on every start.
func (p *Postgres) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS documents (
			id           text PRIMARY KEY,
			filename     text NOT NULL,
			content_type text NOT NULL,
			status       text NOT NULL,
			size         bigint NOT NULL DEFAULT 0,
			metadata     jsonb,
			created_at   timestamptz NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS analyses (
			document_id  text PRIMARY KEY REFERENCES documents(id),
			syntax_nodes jsonb NOT NULL,
			embedding    vector,
			metadata     jsonb,
			created_at   timestamptz NOT NULL DEFAULT now()
		)`,
	}

	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// SaveDocument upserts a document record.
func (p *Postgres) SaveDocument(ctx context.Context, doc *models.Document) error {
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := `INSERT INTO documents (id, filename, content_type, status, size, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			filename = EXCLUDED.filename,
			content_type = EXCLUDED.content_type,
			status = EXCLUDED.status,
			size = EXCLUDED.size,
			metadata = EXCLUDED.metadata`

	_, err = p.pool.Exec(ctx, query,
		doc.ID, doc.Filename, doc.ContentType, string(doc.Status), doc.Size, meta, doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save document %s: %w", doc.ID, err)
	}
	return nil
}

// GetDocument fetches one document or ErrNotFound.
func (p *Postgres) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	query := `SELECT id, filename, content_type, status, size, metadata, created_at
		FROM documents WHERE id = $1`

	var (
		doc    models.Document
		status string
		meta   []byte
	)
	err := p.pool.QueryRow(ctx, query, id).Scan(
		&doc.ID, &doc.Filename, &doc.ContentType, &status, &doc.Size, &meta, &doc.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}

	doc.Status = models.Status(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", id, err)
		}
	}
	return &doc, nil
}

// UpdateDocumentStatus flips a document's pipeline status.
func (p *Postgres) UpdateDocumentStatus(ctx context.Context, id string, status models.Status) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE documents SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update status for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveAnalysis upserts the analysis for a document. Reprocessing the same
// document replaces the previous row.
func (p *Postgres) SaveAnalysis(ctx context.Context, analysis *models.Analysis) error {
	nodes, err := json.Marshal(analysis.SyntaxNodes)
	if err != nil {
		return fmt.Errorf("marshal syntax nodes: %w", err)
	}
	meta, err := json.Marshal(analysis.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	var embedding any
	if len(analysis.Embeddings) > 0 {
		embedding = pgvector.NewVector(analysis.Embeddings)
	}

	query := `INSERT INTO analyses (document_id, syntax_nodes, embedding, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (document_id) DO UPDATE SET
			syntax_nodes = EXCLUDED.syntax_nodes,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata,
			created_at = EXCLUDED.created_at`

	_, err = p.pool.Exec(ctx, query,
		analysis.DocumentID, nodes, embedding, meta, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save analysis for %s: %w", analysis.DocumentID, err)
	}
	return nil
}

// GetAnalysis fetches the analysis for a document or ErrNotFound.
func (p *Postgres) GetAnalysis(ctx context.Context, documentID string) (*models.Analysis, error) {
	query := `SELECT document_id, syntax_nodes, embedding, metadata
		FROM analyses WHERE document_id = $1`

	var (
		analysis  models.Analysis
		nodes     []byte
		embedding *pgvector.Vector
		meta      []byte
	)
	err := p.pool.QueryRow(ctx, query, documentID).Scan(
		&analysis.DocumentID, &nodes, &embedding, &meta,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("analysis for %s: %w", documentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis for %s: %w", documentID, err)
	}

	if err := json.Unmarshal(nodes, &analysis.SyntaxNodes); err != nil {
		return nil, fmt.Errorf("decode syntax nodes for %s: %w", documentID, err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &analysis.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", documentID, err)
		}
	}
	if embedding != nil {
		analysis.Embeddings = embedding.Slice()
	}
	return &analysis, nil
}

// Ping checks connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
