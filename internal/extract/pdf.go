package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	pdfcpu "github.com/pdfcpu/pdfcpu/pkg/api"
)

// PDF extracts per-page plain text. The document is validated first; corrupt
// files fail here rather than deep inside the text walk.
type PDF struct{}

// NewPDF returns the PDF extractor.
func NewPDF() *PDF { return &PDF{} }

func (p *PDF) Supports(contentType string) bool {
	return contentType == "application/pdf"
}

func (p *PDF) Extract(ctx context.Context, data []byte) (*Content, error) {
	pages, err := pdfcpu.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return nil, fmt.Errorf("invalid pdf: %w", err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	var full strings.Builder
	var spans []Span

	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// One unreadable page does not sink the document.
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		start := full.Len()
		full.WriteString(text)
		full.WriteString("\n")
		spans = append(spans, Span{
			Text:  text,
			Page:  i,
			Start: start,
			End:   start + len(text),
		})
	}

	return &Content{
		Text:  full.String(),
		Spans: spans,
		Pages: pages,
	}, nil
}
