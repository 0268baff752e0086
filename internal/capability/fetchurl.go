package capability

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/checkmate/internal/resilience"
)

const maxFetchURLChars = 50000

// FetchURL fetches a URL and converts its HTML content to markdown.
type FetchURL struct {
	client *http.Client
}

// NewFetchURL creates a new FetchURL capability.
func NewFetchURL() *FetchURL {
	return &FetchURL{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (f *FetchURL) Name() string        { return "fetch_url" }
func (f *FetchURL) Description() string { return "Fetch a URL and return its content as markdown" }
func (f *FetchURL) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "The URL to fetch"}
		},
		"required": ["url"]
	}`)
}

func (f *FetchURL) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", resilience.NewError(resilience.KindValidation, "tool:fetch_url", "parse args", err)
	}
	if params.URL == "" {
		return "", resilience.NewError(resilience.KindValidation, "tool:fetch_url", "url is required", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, params.URL, nil)
	if err != nil {
		return "", resilience.NewError(resilience.KindValidation, "tool:fetch_url", "create request", err)
	}
	req.Header.Set("User-Agent", "Checkmate/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", wrapStatusErr("tool:fetch_url", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", resilience.FromHTTPStatus(resp.StatusCode, "tool:fetch_url", "")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", wrapStatusErr("tool:fetch_url", err)
	}

	md, err := htmltomarkdown.ConvertString(string(body))
	if err != nil {
		return "", resilience.NewError(resilience.KindInternal, "tool:fetch_url", "convert to markdown", err)
	}

	if len(md) > maxFetchURLChars {
		md = md[:maxFetchURLChars] + "\n\n[Content truncated]"
	}
	return md, nil
}
