package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/dshills/langgraph-travel/graph/model"
)

// EmbedBatchSize is the number of chunks sent per Embed call.
const EmbedBatchSize = 64

// Index is an in-memory vector index over embedded documents.
type Index struct {
	embedder model.Embedder

	mu   sync.RWMutex
	docs []Document
	vecs [][]float64
}

// Hit is a search result.
type Hit struct {
	Document
	Score float64 `json:"score"`
}

// NewIndex creates an empty index.
func NewIndex(embedder model.Embedder) *Index {
	return &Index{embedder: embedder}
}

// Add embeds docs in batches and appends them to the index. Nothing is
// added when any batch fails.
func (x *Index) Add(ctx context.Context, docs []Document) error {
	vecs := make([][]float64, 0, len(docs))
	for start := 0; start < len(docs); start += EmbedBatchSize {
		end := min(start+EmbedBatchSize, len(docs))
		texts := make([]string, end-start)
		for i, d := range docs[start:end] {
			texts[i] = d.Content
		}
		batch, err := x.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed documents: %w", err)
		}
		if len(batch) != len(texts) {
			return fmt.Errorf("embed documents: got %d vectors for %d texts", len(batch), len(texts))
		}
		vecs = append(vecs, batch...)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.docs = append(x.docs, docs...)
	x.vecs = append(x.vecs, vecs...)
	return nil
}

// Search returns up to k documents ranked by cosine similarity to query.
func (x *Index) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	qv, err := x.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(qv) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(qv))
	}

	x.mu.RLock()
	hits := make([]Hit, len(x.docs))
	for i, d := range x.docs {
		hits[i] = Hit{Document: d, Score: cosine(qv[0], x.vecs[i])}
	}
	x.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Len returns the number of indexed documents.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docs)
}

// Reset removes every document.
func (x *Index) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.docs, x.vecs = nil, nil
}

func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range min(len(a), len(b)) {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
