package models_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docstream/docstream/internal/models"
)

func TestElementKindJSONNames(t *testing.T) {
	node := models.SyntaxNode{Kind: models.KindHeading, Text: "Introduction"}

	data, err := json.Marshal(node)
	require.NoError(t, err)
	require.Contains(t, string(data), `"kind":"heading"`)

	var back models.SyntaxNode
	require.NoError(t, json.Unmarshal(data, &back))
	require.Equal(t, models.KindHeading, back.Kind)
}

func TestElementKindRejectsUnknownName(t *testing.T) {
	var node models.SyntaxNode
	err := json.Unmarshal([]byte(`{"kind":"footnote"}`), &node)
	require.Error(t, err)
	require.Contains(t, err.Error(), "footnote")
}

func TestElementKindRejectsOutOfRangeValue(t *testing.T) {
	_, err := json.Marshal(models.SyntaxNode{Kind: models.ElementKind(42)})
	require.Error(t, err)
}
