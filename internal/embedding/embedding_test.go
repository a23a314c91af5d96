package embedding_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docstream/docstream/internal/embedding"
)

func TestHashEmbedderDeterministic(t *testing.T) {
	e := embedding.NewHash(64)

	a, err := e.EmbedText(context.Background(), "queue based document pipeline")
	require.NoError(t, err)
	b, err := e.EmbedText(context.Background(), "queue based document pipeline")
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, a, 64)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	require.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestHashEmbedderEmptyText(t *testing.T) {
	e := embedding.NewHash(16)
	vec, err := e.EmbedText(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, vec, 16)
}
