package retriever

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReciprocalRankFusionOrdersByCombinedScore(t *testing.T) {
	dense := []Document{{ID: "a", Source: "dense"}, {ID: "b", Source: "dense"}}
	sparse := []Document{{ID: "b", Source: "sparse"}, {ID: "c", Source: "sparse"}}

	fused := ReciprocalRankFusion(dense, sparse, DefaultAlpha)
	require.Len(t, fused, 3)
	require.Equal(t, "b", fused[0].ID) // appears in both lists, highest combined score
}

func TestReciprocalRankFusionAppliesAlphaWeight(t *testing.T) {
	dense := []Document{{ID: "a", Source: "dense"}}
	sparse := []Document{{ID: "b", Source: "sparse"}}

	fused := ReciprocalRankFusion(dense, sparse, 1.0)
	require.Equal(t, "a", fused[0].ID)
	require.InDelta(t, 1.0/61.0, fused[0].Score, 1e-9)
	require.InDelta(t, 0, fused[1].Score, 1e-9)

	fused = ReciprocalRankFusion(dense, sparse, 0.0)
	require.Equal(t, "b", fused[0].ID)
	require.InDelta(t, 1.0/61.0, fused[0].Score, 1e-9)
	require.InDelta(t, 0, fused[1].Score, 1e-9)
}

func TestReciprocalRankFusionTiesBrokenByFirstSeenOrder(t *testing.T) {
	dense := []Document{{ID: "x", Source: "dense"}}
	sparse := []Document{{ID: "y", Source: "sparse"}}

	fused := ReciprocalRankFusion(dense, sparse, DefaultAlpha)
	require.Len(t, fused, 2)
	require.Equal(t, "x", fused[0].ID)
}

func TestReciprocalRankFusionToleratesEmptyInputs(t *testing.T) {
	fused := ReciprocalRankFusion(nil, nil, DefaultAlpha)
	require.Empty(t, fused)
}

type constReranker struct{ score float64 }

func (c constReranker) Score(_ context.Context, _ string, _ Document) (float64, error) {
	return c.score, nil
}

func TestRerankKeepsOnlyAtOrAboveThreshold(t *testing.T) {
	docs := []Document{{ID: "a"}, {ID: "b"}}
	kept, err := Rerank(context.Background(), constReranker{score: 0.5}, "q", docs, 0.5)
	require.NoError(t, err)
	require.Len(t, kept, 2)

	kept, err = Rerank(context.Background(), constReranker{score: 0.49}, "q", docs, 0.5)
	require.NoError(t, err)
	require.Empty(t, kept)
}

type emptyDense struct{}

func (emptyDense) Search(_ context.Context, _ string, _ int) ([]Document, error) { return nil, nil }

func TestHybridSearchToleratesEmptyBackends(t *testing.T) {
	h := &Hybrid{Dense: emptyDense{}, Sparse: nil}
	docs, err := h.Search(context.Background(), "q", 5)
	require.NoError(t, err)
	require.Empty(t, docs)
}
