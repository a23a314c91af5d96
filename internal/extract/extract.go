// Package extract converts raw document bytes into structured content. The
// rest of the pipeline only sees the Extractor contract, so the concrete
// parsers are swappable.
package extract

import (
	"context"
	"errors"
	"strings"
)

// ErrUnsupportedType is returned when no extractor handles a content type.
var ErrUnsupportedType = errors.New("unsupported content type")

// Span is one contiguous piece of extracted text with its position.
type Span struct {
	Text  string `json:"text"`
	Page  int    `json:"page"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Content is the structured representation of one document.
type Content struct {
	Text  string `json:"text"`
	Spans []Span `json:"spans"`
	Pages int    `json:"pages"`
}

// Extractor parses one family of content types.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (*Content, error)
	Supports(contentType string) bool
}

// Registry picks the extractor for a content type.
type Registry struct {
	extractors []Extractor
}

// NewRegistry builds a registry trying extractors in order.
func NewRegistry(extractors ...Extractor) *Registry {
	return &Registry{extractors: extractors}
}

// Extract dispatches to the first extractor supporting contentType.
func (r *Registry) Extract(ctx context.Context, contentType string, data []byte) (*Content, error) {
	ct := normalizeContentType(contentType)
	for _, e := range r.extractors {
		if e.Supports(ct) {
			return e.Extract(ctx, data)
		}
	}
	return nil, ErrUnsupportedType
}

func normalizeContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}
