package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/user/checkmate/internal/resilience"
)

// VideoMetadata looks up uploader, title, and engagement figures for a video
// URL. YouTube links go through the Data API; TikTok links use the public
// oEmbed endpoint.
type VideoMetadata struct {
	youtubeKey  string
	youtubeBase string
	tiktokBase  string
	client      *http.Client
}

// NewVideoMetadata creates a new video metadata capability.
func NewVideoMetadata(youtubeKey string) *VideoMetadata {
	return &VideoMetadata{
		youtubeKey:  youtubeKey,
		youtubeBase: "https://www.googleapis.com/youtube/v3",
		tiktokBase:  "https://www.tiktok.com/oembed",
		client:      &http.Client{Timeout: 15 * time.Second},
	}
}

func (v *VideoMetadata) Name() string { return "video_metadata" }
func (v *VideoMetadata) Description() string {
	return "Look up title, channel, and engagement stats for a YouTube or TikTok video"
}
func (v *VideoMetadata) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "The video URL"}
		},
		"required": ["url"]
	}`)
}

func (v *VideoMetadata) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", resilience.NewError(resilience.KindValidation, "tool:video_metadata", "parse args", err)
	}
	if params.URL == "" {
		return "", resilience.NewError(resilience.KindValidation, "tool:video_metadata", "url is required", nil)
	}

	u, err := url.Parse(params.URL)
	if err != nil {
		return "", resilience.NewError(resilience.KindValidation, "tool:video_metadata", "invalid url", err)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	switch {
	case host == "youtube.com" || host == "youtu.be" || strings.HasSuffix(host, ".youtube.com"):
		return v.youtube(ctx, u)
	case host == "tiktok.com" || strings.HasSuffix(host, ".tiktok.com"):
		return v.tiktok(ctx, params.URL)
	}
	return "", resilience.NewError(resilience.KindValidation, "tool:video_metadata", "unsupported video host: "+host, nil)
}

type youtubeResponse struct {
	Items []struct {
		Snippet struct {
			Title        string `json:"title"`
			ChannelTitle string `json:"channelTitle"`
			PublishedAt  string `json:"publishedAt"`
			Description  string `json:"description"`
		} `json:"snippet"`
		Statistics struct {
			ViewCount string `json:"viewCount"`
			LikeCount string `json:"likeCount"`
		} `json:"statistics"`
	} `json:"items"`
}

func (v *VideoMetadata) youtube(ctx context.Context, videoURL *url.URL) (string, error) {
	id := youtubeVideoID(videoURL)
	if id == "" {
		return "", resilience.NewError(resilience.KindValidation, "tool:video_metadata", "could not extract video id", nil)
	}

	u, _ := url.Parse(v.youtubeBase + "/videos")
	q := u.Query()
	q.Set("part", "snippet,statistics")
	q.Set("id", id)
	q.Set("key", v.youtubeKey)
	u.RawQuery = q.Encode()

	body, err := v.get(ctx, u.String())
	if err != nil {
		return "", err
	}

	var yr youtubeResponse
	if err := json.Unmarshal(body, &yr); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(yr.Items) == 0 {
		return "", resilience.NewError(resilience.KindNotFound, "tool:video_metadata", "video not found: "+id, nil)
	}

	item := yr.Items[0]
	out, err := json.Marshal(map[string]string{
		"platform":    "youtube",
		"title":       item.Snippet.Title,
		"channel":     item.Snippet.ChannelTitle,
		"publishedAt": item.Snippet.PublishedAt,
		"description": truncate(item.Snippet.Description, 500),
		"views":       item.Statistics.ViewCount,
		"likes":       item.Statistics.LikeCount,
	})
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(out), nil
}

type tiktokOEmbed struct {
	Title      string `json:"title"`
	AuthorName string `json:"author_name"`
}

func (v *VideoMetadata) tiktok(ctx context.Context, videoURL string) (string, error) {
	u, _ := url.Parse(v.tiktokBase)
	q := u.Query()
	q.Set("url", videoURL)
	u.RawQuery = q.Encode()

	body, err := v.get(ctx, u.String())
	if err != nil {
		return "", err
	}

	var te tiktokOEmbed
	if err := json.Unmarshal(body, &te); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	out, err := json.Marshal(map[string]string{
		"platform": "tiktok",
		"title":    te.Title,
		"author":   te.AuthorName,
	})
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(out), nil
}

func (v *VideoMetadata) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, wrapStatusErr("tool:video_metadata", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapStatusErr("tool:video_metadata", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.FromHTTPStatus(resp.StatusCode, "tool:video_metadata", string(body))
	}
	return body, nil
}

// youtubeVideoID extracts the video id from watch, shorts, and youtu.be URL
// shapes.
func youtubeVideoID(u *url.URL) string {
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	if host == "youtu.be" {
		return strings.Trim(u.Path, "/")
	}
	if id := u.Query().Get("v"); id != "" {
		return id
	}
	for _, prefix := range []string{"/shorts/", "/embed/", "/live/"} {
		if strings.HasPrefix(u.Path, prefix) {
			rest := strings.TrimPrefix(u.Path, prefix)
			if i := strings.IndexByte(rest, '/'); i >= 0 {
				rest = rest[:i]
			}
			return rest
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
