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

// ReverseImage finds prior appearances of an image via SerpAPI's Google
// reverse image engine. Used by the image checker to detect recycled or
// miscaptioned media.
type ReverseImage struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewReverseImage creates a new reverse image search capability.
func NewReverseImage(apiKey, endpoint string) *ReverseImage {
	if endpoint == "" {
		endpoint = "https://serpapi.com/search.json"
	}
	return &ReverseImage{
		apiKey:   apiKey,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 20 * time.Second},
	}
}

func (r *ReverseImage) Name() string { return "reverse_image_search" }
func (r *ReverseImage) Description() string {
	return "Find where else an image has appeared online"
}
func (r *ReverseImage) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"image_url": {"type": "string", "description": "Public URL of the image to look up"}
		},
		"required": ["image_url"]
	}`)
}

type reverseImageResponse struct {
	ImageResults []serpResult `json:"image_results"`
}

func (r *ReverseImage) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		ImageURL string `json:"image_url"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", resilience.NewError(resilience.KindValidation, "tool:reverse_image_search", "parse args", err)
	}
	if params.ImageURL == "" {
		return "", resilience.NewError(resilience.KindValidation, "tool:reverse_image_search", "image_url is required", nil)
	}

	u, err := url.Parse(r.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("engine", "google_reverse_image")
	q.Set("image_url", params.ImageURL)
	q.Set("api_key", r.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", wrapStatusErr("tool:reverse_image_search", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", wrapStatusErr("tool:reverse_image_search", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", resilience.FromHTTPStatus(resp.StatusCode, "tool:reverse_image_search", string(body))
	}

	var rir reverseImageResponse
	if err := json.Unmarshal(body, &rir); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(rir.ImageResults) == 0 {
		return "No prior appearances found.", nil
	}

	results := make([]SearchResult, 0, len(rir.ImageResults))
	for _, ir := range rir.ImageResults {
		results = append(results, SearchResult{Title: ir.Title, URL: ir.Link, Snippet: ir.Snippet})
	}
	out, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("marshal results: %w", err)
	}
	return string(out), nil
}
