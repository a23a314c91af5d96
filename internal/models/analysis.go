package models

import (
	"encoding/json"
	"fmt"
)

// ElementKind is the closed set of structural elements an analysis can
// reference. Adding a kind means updating every switch over it.
type ElementKind int

const (
	KindSentence ElementKind = iota
	KindParagraph
	KindHeading
	KindEntity
)

func (k ElementKind) String() string {
	switch k {
	case KindSentence:
		return "sentence"
	case KindParagraph:
		return "paragraph"
	case KindHeading:
		return "heading"
	case KindEntity:
		return "entity"
	}
	return fmt.Sprintf("ElementKind(%d)", int(k))
}

// MarshalJSON encodes the kind as its string name so queue messages stay
// self-describing.
func (k ElementKind) MarshalJSON() ([]byte, error) {
	switch k {
	case KindSentence, KindParagraph, KindHeading, KindEntity:
		return json.Marshal(k.String())
	}
	return nil, fmt.Errorf("unknown element kind %d", int(k))
}

func (k *ElementKind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "sentence":
		*k = KindSentence
	case "paragraph":
		*k = KindParagraph
	case "heading":
		*k = KindHeading
	case "entity":
		*k = KindEntity
	default:
		return fmt.Errorf("unknown element kind %q", name)
	}
	return nil
}

// SyntaxNode is one structural element found in a document.
type SyntaxNode struct {
	Kind       ElementKind `json:"kind"`
	Text       string      `json:"text"`
	Page       int         `json:"page"`
	Start      int         `json:"start"`
	End        int         `json:"end"`
	Confidence float64     `json:"confidence"`
}

// Analysis is the structured output produced exactly once per successfully
// processed document. It is never mutated after creation; reprocessing
// produces a new Analysis for the same document ID and the store upserts.
type Analysis struct {
	DocumentID  string         `json:"document_id"`
	SyntaxNodes []SyntaxNode   `json:"syntax_nodes"`
	Embeddings  []float32      `json:"embeddings,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
