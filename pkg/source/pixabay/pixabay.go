// Package pixabay searches the Pixabay video API.
package pixabay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"docuscene/pkg/config"
	"docuscene/pkg/model"
	"docuscene/pkg/request"
	"docuscene/pkg/source"
)

const defaultBaseURL = "https://pixabay.com"

// Client implements source.Source for Pixabay.
type Client struct {
	request *request.Client
	key     string
	baseURL string
	perPage int
}

// NewClient creates a Pixabay client.
func NewClient(cfg config.SourceConfig, rc *request.Client) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	perPage := cfg.PerPage
	// Pixabay rejects per_page outside [3, 200].
	if perPage < 3 || perPage > 200 {
		perPage = 20
	}
	return &Client{request: rc, key: cfg.Key, baseURL: base, perPage: perPage}
}

func (c *Client) Name() model.AssetSource { return model.SourcePixabay }

func (c *Client) Configured() bool { return c.key != "" }

// Search queries film-type videos for query.
func (c *Client) Search(ctx context.Context, query string, _ int) ([]source.Candidate, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("pixabay api key not configured")
	}

	u, err := url.Parse(c.baseURL + "/api/videos/")
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	q := u.Query()
	q.Set("key", c.key)
	q.Set("q", query)
	q.Set("per_page", strconv.Itoa(c.perPage))
	q.Set("video_type", "film")
	u.RawQuery = q.Encode()

	ctx = context.WithValue(ctx, request.CtxProviderLabel, "pixabay")
	cacheKey := fmt.Sprintf("pixabay:search:%d:%s", c.perPage, strings.ToLower(query))
	body, err := c.request.Get(ctx, u.String(), cacheKey)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode pixabay response: %w", err)
	}

	out := make([]source.Candidate, 0, len(resp.Hits))
	for _, h := range resp.Hits {
		r, ok := h.Videos.best()
		if !ok {
			continue
		}
		out = append(out, source.Candidate{
			ID:          strconv.Itoa(h.ID),
			PageURL:     h.PageURL,
			DownloadURL: r.URL,
			Duration:    float64(h.Duration),
			Width:       r.Width,
			Height:      r.Height,
		})
	}
	return out, nil
}

type rendition struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type renditions struct {
	Large  rendition `json:"large"`
	Medium rendition `json:"medium"`
	Small  rendition `json:"small"`
}

// best returns the largest rendition that has a URL.
func (r renditions) best() (rendition, bool) {
	for _, v := range []rendition{r.Large, r.Medium, r.Small} {
		if v.URL != "" {
			return v, true
		}
	}
	return rendition{}, false
}

type searchResponse struct {
	Hits []struct {
		ID       int        `json:"id"`
		PageURL  string     `json:"pageURL"`
		Duration int        `json:"duration"`
		Videos   renditions `json:"videos"`
	} `json:"hits"`
}
