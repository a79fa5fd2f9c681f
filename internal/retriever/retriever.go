// Package retriever implements the Retriever component (spec.md §4.6):
// dense, sparse, and hybrid (Reciprocal Rank Fusion) search, a rerank
// filter, and the rewrite_query retry primitive. All paths tolerate empty
// result sets without erroring.
package retriever

import (
	"context"
	"sort"
)

// Document is one retrieved passage.
type Document struct {
	ID      string
	Content string
	Source  string // "dense" or "sparse"; RRF ties are broken by first-seen order, not by this field
	Score   float64
}

// Dense performs an embedding-similarity search.
type Dense interface {
	Search(ctx context.Context, query string, k int) ([]Document, error)
}

// Sparse performs a lexical (e.g. BM25) search.
type Sparse interface {
	Search(ctx context.Context, query string, k int) ([]Document, error)
}

// Reranker scores a query/document pair; higher is more relevant.
type Reranker interface {
	Score(ctx context.Context, query string, doc Document) (float64, error)
}

// QueryRewriter proposes an alternative query when a search round comes back
// empty or under-relevant, implementing the rewrite_query retry primitive.
type QueryRewriter interface {
	Rewrite(ctx context.Context, original string, priorResults []Document) (string, error)
}

const rrfK = 60

// DefaultAlpha is the dense/sparse weight used when a caller leaves Alpha
// unset (the zero value), splitting RRF weight evenly between the two
// sources.
const DefaultAlpha = 0.5

// ReciprocalRankFusion merges dense and sparse rankings using weighted RRF
// with constant K=60: score(d) = sum over lists containing d of
// w_src/(K+rank), with w_dense=alpha and w_sparse=1-alpha (spec.md §4.6).
// Ties are broken by source order (dense before sparse) to keep the merge
// deterministic (spec.md §8).
func ReciprocalRankFusion(dense, sparse []Document, alpha float64) []Document {
	type fused struct {
		doc       Document
		score     float64
		firstSeen int // lower is earlier/more dense-favored, for tie-break
	}
	order := map[string]*fused{}
	seq := 0

	add := func(list []Document, weight float64) {
		for rank, d := range list {
			f, ok := order[d.ID]
			if !ok {
				f = &fused{doc: d, firstSeen: seq}
				order[d.ID] = f
				seq++
			}
			f.score += weight / float64(rrfK+rank+1)
		}
	}
	add(dense, alpha)
	add(sparse, 1-alpha)

	result := make([]fused, 0, len(order))
	for _, f := range order {
		result = append(result, *f)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].score != result[j].score {
			return result[i].score > result[j].score
		}
		return result[i].firstSeen < result[j].firstSeen
	})

	docs := make([]Document, len(result))
	for i, f := range result {
		docs[i] = f.doc
		docs[i].Score = f.score
	}
	return docs
}

// Hybrid runs Dense and Sparse searches and fuses them with RRF.
type Hybrid struct {
	Dense  Dense
	Sparse Sparse

	// Alpha is the dense-source RRF weight (sparse gets 1-Alpha). The zero
	// value is treated as DefaultAlpha.
	Alpha float64
}

// Search returns the RRF-fused ranking, weighted by h.Alpha. A failure from
// either backend degrades to the other's results rather than failing the
// whole call; both failing yields an empty, non-error result (spec.md §4.6
// tolerance rule).
func (h *Hybrid) Search(ctx context.Context, query string, k int) ([]Document, error) {
	var dense, sparse []Document
	if h.Dense != nil {
		if d, err := h.Dense.Search(ctx, query, k); err == nil {
			dense = d
		}
	}
	if h.Sparse != nil {
		if s, err := h.Sparse.Search(ctx, query, k); err == nil {
			sparse = s
		}
	}
	alpha := h.Alpha
	if alpha == 0 {
		alpha = DefaultAlpha
	}
	fused := ReciprocalRankFusion(dense, sparse, alpha)
	if len(fused) > k && k > 0 {
		fused = fused[:k]
	}
	return fused, nil
}

// Rerank keeps only documents whose reranked score is >= minScore,
// resolving the Open Question in spec.md §9 in favor of an inclusive
// threshold. Tolerates an empty input.
func Rerank(ctx context.Context, rr Reranker, query string, docs []Document, minScore float64) ([]Document, error) {
	kept := make([]Document, 0, len(docs))
	for _, d := range docs {
		score, err := rr.Score(ctx, query, d)
		if err != nil {
			continue
		}
		if score >= minScore {
			d.Score = score
			kept = append(kept, d)
		}
	}
	return kept, nil
}
