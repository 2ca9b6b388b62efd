package rag

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/langgraph-travel/graph/tool"
	"github.com/dshills/langgraph-travel/internal/log"
)

// Document is one chunk of a fetched page.
type Document struct {
	Source  string `json:"source"`
	Content string `json:"content"`
}

// Loader fetches web pages and splits their text into overlapping chunks.
type Loader struct {
	HTTP         *tool.HTTPTool
	ChunkSize    int // words per chunk
	ChunkOverlap int // words shared by consecutive chunks
	Concurrency  int
}

// NewLoader creates a loader with at most four concurrent fetches.
func NewLoader(http *tool.HTTPTool, chunkSize, chunkOverlap int) *Loader {
	return &Loader{HTTP: http, ChunkSize: chunkSize, ChunkOverlap: chunkOverlap, Concurrency: 4}
}

// Load fetches every URL in parallel and returns their chunks in URL order.
// Any failed fetch fails the load.
func (l *Loader) Load(ctx context.Context, urls []string) ([]Document, error) {
	pages := make([][]Document, len(urls))

	g, ctx := errgroup.WithContext(ctx)
	if l.Concurrency > 0 {
		g.SetLimit(l.Concurrency)
	}
	for i, url := range urls {
		g.Go(func() error {
			text, err := l.fetch(ctx, url)
			if err != nil {
				return fmt.Errorf("load %s: %w", url, err)
			}
			for _, chunk := range Split(text, l.ChunkSize, l.ChunkOverlap) {
				pages[i] = append(pages[i], Document{Source: url, Content: chunk})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var docs []Document
	for _, page := range pages {
		docs = append(docs, page...)
	}
	log.Infof("loaded %d chunks from %d urls", len(docs), len(urls))
	return docs, nil
}

func (l *Loader) fetch(ctx context.Context, url string) (string, error) {
	out, err := l.HTTP.Call(ctx, map[string]interface{}{"url": url})
	if err != nil {
		return "", err
	}
	if status, _ := out["status_code"].(int); status != 200 {
		return "", fmt.Errorf("status %v", out["status_code"])
	}
	body, _ := out["body"].(string)
	return ExtractText(body), nil
}

// skipped elements contribute no text.
var skipped = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"svg":      true,
}

// ExtractText returns the visible text of an HTML document with runs of
// whitespace collapsed. Plain text passes through unchanged apart from
// whitespace.
func ExtractText(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))
	var b strings.Builder
	depth := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken:
			name, _ := z.TagName()
			if skipped[string(name)] {
				depth++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if skipped[string(name)] && depth > 0 {
				depth--
			}
		case html.TextToken:
			if depth == 0 {
				b.Write(z.Text())
				b.WriteByte(' ')
			}
		}
	}
}

// Split breaks text into chunks of size words, each sharing overlap words
// with the previous one.
func Split(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 || size <= 0 {
		return nil
	}
	step := size - overlap
	if step < 1 {
		step = 1
	}

	var chunks []string
	for start := 0; start < len(words); start += step {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}
