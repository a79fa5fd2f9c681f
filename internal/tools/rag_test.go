package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgoagent/agentserver/internal/retriever"
)

type stubDense struct{ docs []retriever.Document }

func (s stubDense) Search(_ context.Context, _ string, _ int) ([]retriever.Document, error) {
	return s.docs, nil
}

func TestRAGRetrieveToolReturnsCountAndDocuments(t *testing.T) {
	tool := &RAGRetrieveTool{
		Hybrid: &retriever.Hybrid{Dense: stubDense{docs: []retriever.Document{
			{ID: "a", Source: "dense", Content: "alpha"},
		}}},
	}
	out, err := tool.Run(context.Background(), json.RawMessage(`{"query":"alpha"}`))
	require.NoError(t, err)

	var parsed ragResult
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	require.Equal(t, 1, parsed.Count)
	require.Equal(t, "alpha", parsed.Documents[0].Content)
}

func TestRAGRetrieveToolToleratesEmptyBackends(t *testing.T) {
	tool := &RAGRetrieveTool{Hybrid: &retriever.Hybrid{}}
	out, err := tool.Run(context.Background(), json.RawMessage(`{"query":"anything"}`))
	require.NoError(t, err)

	var parsed ragResult
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	require.Equal(t, 0, parsed.Count)
}

func TestRAGRewriteQueryToolFallsBackToOriginalWithoutOracle(t *testing.T) {
	tool := &RAGRewriteQueryTool{}
	out, err := tool.Run(context.Background(), json.RawMessage(`{"original":"q","failure_reason":"empty"}`))
	require.NoError(t, err)
	require.Equal(t, "q", out)
}
