package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pgoagent/agentserver/internal/convmodel"
	"github.com/pgoagent/agentserver/internal/llmoracle"
	"github.com/pgoagent/agentserver/internal/retriever"
)

// ragDocument is the wire shape of one retrieved passage in a rag_retrieve
// tool result. The Act stage's bad-result heuristic does not parse it; it
// matches the serialized text for a zero "count" or "not found"
// (spec.md §4.8: "for rag_retrieve specifically, count == 0 or contexts
// marked not found").
type ragDocument struct {
	Source  string  `json:"source"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

type ragResult struct {
	Count     int           `json:"count"`
	Documents []ragDocument `json:"documents"`
}

// RAGRetrieveTool bridges the rag_retrieve capability to the Retriever
// component (C6): it runs the hybrid RRF search, reranks, and filters by
// the configured minimum score, per spec.md §4.6/§4.8.
type RAGRetrieveTool struct {
	Hybrid         *retriever.Hybrid
	Reranker       retriever.Reranker
	RerankMinScore float64
	TopK           int
}

func (t *RAGRetrieveTool) Name() string { return "rag_retrieve" }

type ragRetrieveArgs struct {
	Query string `json:"query"`
}

// Run executes one retrieval round. An absent or empty result set is
// returned as count: 0, never an error (spec.md §4.6's tolerance rule).
func (t *RAGRetrieveTool) Run(ctx context.Context, args json.RawMessage) (string, error) {
	var a ragRetrieveArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("rag_retrieve: invalid arguments: %w", err)
	}
	topK := t.TopK
	if topK <= 0 {
		topK = 5
	}
	docs, err := t.Hybrid.Search(ctx, a.Query, topK)
	if err != nil {
		return "", fmt.Errorf("rag_retrieve: %w", err)
	}
	if t.Reranker != nil {
		docs, err = retriever.Rerank(ctx, t.Reranker, a.Query, docs, t.RerankMinScore)
		if err != nil {
			return "", fmt.Errorf("rag_retrieve: rerank: %w", err)
		}
	}
	out := ragResult{Count: len(docs)}
	for _, d := range docs {
		out.Documents = append(out.Documents, ragDocument{Source: d.Source, Content: d.Content, Score: d.Score})
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("rag_retrieve: marshal result: %w", err)
	}
	return string(payload), nil
}

// RAGRewriteQueryTool bridges the rag_rewrite_query capability to the
// Retriever component's rewrite_query retry primitive (spec.md §4.6),
// backed by a plain LLM call rather than a hand-rolled heuristic.
type RAGRewriteQueryTool struct {
	Oracle llmoracle.Client
}

func (t *RAGRewriteQueryTool) Name() string { return "rag_rewrite_query" }

type ragRewriteArgs struct {
	Original      string `json:"original"`
	FailureReason string `json:"failure_reason"`
}

// Run asks the oracle for a refined query given why the prior attempt
// failed, falling back to the original query verbatim on any LLM failure.
func (t *RAGRewriteQueryTool) Run(ctx context.Context, args json.RawMessage) (string, error) {
	var a ragRewriteArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("rag_rewrite_query: invalid arguments: %w", err)
	}
	if t.Oracle == nil {
		return a.Original, nil
	}
	prompt := fmt.Sprintf("Rewrite this search query to retrieve better results. Original query: %q. Why it failed: %s. Reply with only the rewritten query.", a.Original, a.FailureReason)
	resp, err := t.Oracle.Complete(ctx, llmoracle.Request{
		Messages: []convmodel.Message{{Role: convmodel.RoleUser, Content: prompt}},
	})
	if err != nil {
		return a.Original, nil
	}
	refined := strings.TrimSpace(resp.Content)
	if refined == "" {
		return a.Original, nil
	}
	return refined, nil
}
