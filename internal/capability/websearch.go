package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/user/checkmate/internal/resilience"
)

// SearchResult is a single web search hit shared by the search-backed
// capabilities.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearch searches the web via SerpAPI.
type WebSearch struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewWebSearch creates a new web search capability.
func NewWebSearch(apiKey, endpoint string) *WebSearch {
	if endpoint == "" {
		endpoint = "https://serpapi.com/search.json"
	}
	return &WebSearch{
		apiKey:   apiKey,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (w *WebSearch) Name() string        { return "web_search" }
func (w *WebSearch) Description() string { return "Search the web for current information" }
func (w *WebSearch) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Search query"},
			"count": {"type": "integer", "description": "Number of results (default: 5, max: 10)"}
		},
		"required": ["query"]
	}`)
}

type serpResponse struct {
	OrganicResults []serpResult `json:"organic_results"`
}

type serpResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

func (w *WebSearch) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Query string `json:"query"`
		Count int    `json:"count"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", resilience.NewError(resilience.KindValidation, "tool:web_search", "parse args", err)
	}
	if params.Query == "" {
		return "", resilience.NewError(resilience.KindValidation, "tool:web_search", "query is required", nil)
	}
	if params.Count <= 0 {
		params.Count = 5
	}
	if params.Count > 10 {
		params.Count = 10
	}

	results, err := w.Search(ctx, params.Query, params.Count)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No results found.", nil
	}

	out, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("marshal results: %w", err)
	}
	return string(out), nil
}

// Search runs a raw query and returns structured results. Used directly by
// the claim verification capability.
func (w *WebSearch) Search(ctx context.Context, query string, count int) ([]SearchResult, error) {
	u, err := url.Parse(w.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("num", fmt.Sprintf("%d", count))
	q.Set("api_key", w.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, wrapStatusErr("tool:web_search", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapStatusErr("tool:web_search", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.FromHTTPStatus(resp.StatusCode, "tool:web_search", string(body))
	}

	var sr serpResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	out := make([]SearchResult, 0, len(sr.OrganicResults))
	for _, r := range sr.OrganicResults {
		out = append(out, SearchResult{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
	}
	return out, nil
}
