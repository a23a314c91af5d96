package extract

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Text handles plain-text payloads: one span per non-empty paragraph.
type Text struct{}

// NewText returns the plain-text extractor.
func NewText() *Text { return &Text{} }

func (t *Text) Supports(contentType string) bool {
	return contentType == "text/plain" || strings.HasPrefix(contentType, "text/")
}

func (t *Text) Extract(_ context.Context, data []byte) (*Content, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("content is not valid utf-8")
	}

	text := string(data)
	var spans []Span

	offset := 0
	for _, block := range strings.Split(text, "\n\n") {
		trimmed := strings.TrimSpace(block)
		if trimmed != "" {
			start := offset + strings.Index(block, trimmed)
			spans = append(spans, Span{
				Text:  trimmed,
				Page:  1,
				Start: start,
				End:   start + len(trimmed),
			})
		}
		offset += len(block) + 2
	}

	return &Content{Text: text, Spans: spans, Pages: 1}, nil
}
