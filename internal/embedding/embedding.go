// Package embedding generates document vectors. The OpenAI-compatible
// generator covers real deployments; the hash generator keeps the pipeline
// runnable when no embedding endpoint is configured.
package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Generator produces one vector per text.
type Generator interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// OpenAI talks to any OpenAI-compatible embedding endpoint (OpenAI, Ollama,
// vLLM and friends).
type OpenAI struct {
	embedder embeddings.Embedder
}

// NewOpenAI builds the generator. token may be empty for local services that
// skip auth.
func NewOpenAI(baseURL, model, token string) (*OpenAI, error) {
	if token == "" {
		token = "none"
	}

	client, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(token),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	return &OpenAI{embedder: embedder}, nil
}

func (o *OpenAI) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedder returned no vectors")
	}
	return vecs[0], nil
}

// Hash is a deterministic token-bucket embedder: tokens hash into dim
// buckets and the result is L2-normalized. No semantics, but stable across
// runs, which is all local development and tests need.
type Hash struct {
	dim int
}

// NewHash creates a hash embedder with the given dimension.
func NewHash(dim int) *Hash {
	if dim <= 0 {
		dim = 384
	}
	return &Hash{dim: dim}
}

func (h *Hash) EmbedText(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dim)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		f := fnv.New32a()
		f.Write([]byte(token))
		vec[int(f.Sum32())%h.dim]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}
