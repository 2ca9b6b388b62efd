package travel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dshills/langgraph-travel/graph/tool"
)

// TavilyEndpoint is the Tavily search API.
const TavilyEndpoint = "https://api.tavily.com/search"

// WebSearch is the tavily_search tool. It returns the top results of a
// Tavily web search as a JSON list of {url, content}.
type WebSearch struct {
	HTTP       *tool.HTTPTool
	APIKey     string
	Endpoint   string
	MaxResults int
}

// NewWebSearch creates a web search tool returning one result per query.
func NewWebSearch(http *tool.HTTPTool, apiKey string) *WebSearch {
	return &WebSearch{HTTP: http, APIKey: apiKey, Endpoint: TavilyEndpoint, MaxResults: 1}
}

// Tool returns the model-facing tool.
func (w *WebSearch) Tool() tool.Tool {
	return tool.New("tavily_search",
		"A search engine optimized for comprehensive, accurate, and trusted results. Useful for when you need to answer questions about current events. Input should be a search query.",
		tool.Object(map[string]interface{}{
			"query": tool.String("search query to look up"),
		}, "query"),
		w.search)
}

type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (w *WebSearch) search(ctx context.Context, in map[string]interface{}) (map[string]interface{}, error) {
	query := stringArg(in, "query")
	if query == "" {
		return nil, errors.New("query is required")
	}
	if w.APIKey == "" {
		return nil, errors.New("web search is not configured (missing Tavily API key)")
	}

	out, err := w.HTTP.Call(ctx, map[string]interface{}{
		"method": "POST",
		"url":    w.Endpoint,
		"body": map[string]interface{}{
			"api_key":     w.APIKey,
			"query":       query,
			"max_results": w.MaxResults,
		},
	})
	if err != nil {
		return nil, err
	}
	body, _ := out["body"].(string)
	if status, _ := out["status_code"].(int); status != 200 {
		return nil, fmt.Errorf("search failed with status %v: %s", out["status_code"], body)
	}

	var resp tavilyResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	results := make([]map[string]interface{}, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, map[string]interface{}{"url": r.URL, "content": r.Content})
	}
	return listContent(results)
}
