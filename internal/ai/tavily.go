package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"
)

const tavilyEndpoint = "https://api.tavily.com/search"

// TavilyClient queries the Tavily search API for context to ground
// assistant replies. Search failures are logged and skipped; web context is
// a bonus, never a requirement.
type TavilyClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// SearchResult is the condensed outcome of one web search.
type SearchResult struct {
	Answer  string
	Sources []Source
}

// NewTavilyClient creates a search client. Returns nil when no API key is
// configured, which disables web augmentation.
func NewTavilyClient(apiKey string) *TavilyClient {
	if apiKey == "" {
		return nil
	}
	return &TavilyClient{
		apiKey:     apiKey,
		baseURL:    tavilyEndpoint,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

type tavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth"`
	IncludeAnswer bool   `json:"include_answer"`
	MaxResults    int    `json:"max_results"`
}

type tavilyResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title string `json:"title"`
		URL   string `json:"url"`
	} `json:"results"`
}

// Search runs one query and returns nil on any failure.
func (c *TavilyClient) Search(ctx context.Context, query string) *SearchResult {
	body, err := json.Marshal(tavilyRequest{
		APIKey:        c.apiKey,
		Query:         query,
		SearchDepth:   "basic",
		IncludeAnswer: true,
		MaxResults:    3,
	})
	if err != nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("ai: web search failed: %v", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("ai: web search returned %d", resp.StatusCode)
		return nil
	}

	var payload tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil
	}
	if len(payload.Results) == 0 {
		return nil
	}

	result := &SearchResult{Answer: payload.Answer}
	for _, r := range payload.Results {
		result.Sources = append(result.Sources, Source{Title: r.Title, URL: r.URL})
	}
	return result
}
