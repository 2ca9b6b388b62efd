package travel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/dshills/langgraph-travel/graph/model"
	"github.com/dshills/langgraph-travel/graph/tool"
	"github.com/dshills/langgraph-travel/internal/log"
)

// PolicyTopK is the number of policy sections returned per lookup.
const PolicyTopK = 2

// PolicySource returns the raw policy document.
type PolicySource func(ctx context.Context) (string, error)

// PolicyFromURL fetches the policy document over HTTP.
func PolicyFromURL(http *tool.HTTPTool, url string) PolicySource {
	return func(ctx context.Context) (string, error) {
		out, err := http.Call(ctx, map[string]interface{}{"url": url})
		if err != nil {
			return "", err
		}
		if status, _ := out["status_code"].(int); status != 200 {
			return "", fmt.Errorf("policy fetch returned status %v", out["status_code"])
		}
		body, _ := out["body"].(string)
		return body, nil
	}
}

// PolicyRetriever answers policy questions from the company FAQ. The
// document is split into sections before every "##" heading and embedded on
// first use; concurrent first lookups share one load.
type PolicyRetriever struct {
	source   PolicySource
	embedder model.Embedder

	group singleflight.Group
	mu    sync.RWMutex
	docs  []string
	vecs  [][]float64
}

// NewPolicyRetriever creates a retriever over source.
func NewPolicyRetriever(source PolicySource, embedder model.Embedder) *PolicyRetriever {
	return &PolicyRetriever{source: source, embedder: embedder}
}

func (p *PolicyRetriever) load(ctx context.Context) error {
	p.mu.RLock()
	loaded := p.docs != nil
	p.mu.RUnlock()
	if loaded {
		return nil
	}

	_, err, _ := p.group.Do("load", func() (interface{}, error) {
		p.mu.RLock()
		loaded := p.docs != nil
		p.mu.RUnlock()
		if loaded {
			return nil, nil
		}

		text, err := p.source(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load policy: %w", err)
		}
		docs := splitSections(text)
		vecs, err := p.embedder.Embed(ctx, docs)
		if err != nil {
			return nil, fmt.Errorf("failed to embed policy: %w", err)
		}
		if len(vecs) != len(docs) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d sections", len(vecs), len(docs))
		}

		p.mu.Lock()
		p.docs, p.vecs = docs, vecs
		p.mu.Unlock()
		log.Debugf("loaded %d policy sections", len(docs))
		return nil, nil
	})
	return err
}

// Query returns the k policy sections most similar to query, best first.
func (p *PolicyRetriever) Query(ctx context.Context, query string, k int) ([]string, error) {
	if err := p.load(ctx); err != nil {
		return nil, err
	}
	qv, err := p.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(qv) != 1 {
		return nil, errors.New("embedder returned no query vector")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	idx := make([]int, len(p.docs))
	scores := make([]float64, len(p.docs))
	for i, v := range p.vecs {
		idx[i] = i
		scores[i] = dot(qv[0], v)
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })
	if k > len(idx) {
		k = len(idx)
	}

	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = p.docs[idx[i]]
	}
	return out, nil
}

// Tool returns the lookup_policy tool.
func (p *PolicyRetriever) Tool() tool.Tool {
	return tool.New("lookup_policy",
		"Consult the company policies to check whether certain options are permitted. Use this before making any flight changes performing other 'write' events.",
		tool.Object(map[string]interface{}{
			"query": tool.String("The policy question to look up"),
		}, "query"),
		func(ctx context.Context, in map[string]interface{}) (map[string]interface{}, error) {
			query := stringArg(in, "query")
			if query == "" {
				return nil, errors.New("query is required")
			}
			docs, err := p.Query(ctx, query, PolicyTopK)
			if err != nil {
				return nil, err
			}
			return text(strings.Join(docs, "\n\n")), nil
		})
}

// splitSections splits text before every "\n##", keeping the separator with
// the section that follows it.
func splitSections(text string) []string {
	var out []string
	start := 0
	for start+1 <= len(text) {
		i := strings.Index(text[start+1:], "\n##")
		if i < 0 {
			break
		}
		end := start + 1 + i
		out = append(out, text[start:end])
		start = end
	}
	return append(out, text[start:])
}

func dot(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var s float64
	for i := 0; i < n; i++ {
		s += a[i] * b[i]
	}
	return s
}
