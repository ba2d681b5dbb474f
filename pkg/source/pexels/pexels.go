// Package pexels searches the Pexels video API.
package pexels

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

const defaultBaseURL = "https://api.pexels.com"

// Client implements source.Source for Pexels.
type Client struct {
	request *request.Client
	key     string
	baseURL string
	perPage int
}

// NewClient creates a Pexels client.
func NewClient(cfg config.SourceConfig, rc *request.Client) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	perPage := cfg.PerPage
	if perPage <= 0 {
		perPage = 15
	}
	return &Client{request: rc, key: cfg.Key, baseURL: base, perPage: perPage}
}

func (c *Client) Name() model.AssetSource { return model.SourcePexels }

func (c *Client) Configured() bool { return c.key != "" }

// Search queries landscape videos for query.
func (c *Client) Search(ctx context.Context, query string, _ int) ([]source.Candidate, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("pexels api key not configured")
	}

	u, err := url.Parse(c.baseURL + "/videos/search")
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	q := u.Query()
	q.Set("query", query)
	q.Set("per_page", strconv.Itoa(c.perPage))
	q.Set("orientation", "landscape")
	u.RawQuery = q.Encode()

	ctx = context.WithValue(ctx, request.CtxProviderLabel, "pexels")
	cacheKey := fmt.Sprintf("pexels:search:%d:%s", c.perPage, strings.ToLower(query))
	body, err := c.request.GetWithHeaders(ctx, u.String(), map[string]string{"Authorization": c.key}, cacheKey)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode pexels response: %w", err)
	}

	out := make([]source.Candidate, 0, len(resp.Videos))
	for _, v := range resp.Videos {
		f, ok := pickFile(v.VideoFiles)
		if !ok {
			continue
		}
		w, h := v.Width, v.Height
		if f.Width > 0 && f.Height > 0 {
			w, h = f.Width, f.Height
		}
		out = append(out, source.Candidate{
			ID:          strconv.Itoa(v.ID),
			PageURL:     v.URL,
			DownloadURL: f.Link,
			Duration:    float64(v.Duration),
			Width:       w,
			Height:      h,
		})
	}
	return out, nil
}

// pickFile prefers the widest HD mp4 no wider than 1920, then any mp4.
func pickFile(files []videoFile) (videoFile, bool) {
	var best videoFile
	found := false
	for _, f := range files {
		if f.FileType != "video/mp4" || f.Link == "" {
			continue
		}
		if !found {
			best, found = f, true
			continue
		}
		if preferred(f) && (!preferred(best) || f.Width > best.Width) {
			best = f
		}
	}
	return best, found
}

func preferred(f videoFile) bool {
	return f.Quality == "hd" && f.Width <= 1920
}

type searchResponse struct {
	Videos []struct {
		ID         int         `json:"id"`
		URL        string      `json:"url"`
		Duration   int         `json:"duration"`
		Width      int         `json:"width"`
		Height     int         `json:"height"`
		VideoFiles []videoFile `json:"video_files"`
	} `json:"videos"`
}

type videoFile struct {
	ID       int    `json:"id"`
	Quality  string `json:"quality"`
	FileType string `json:"file_type"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Link     string `json:"link"`
}
