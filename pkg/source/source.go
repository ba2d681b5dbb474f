// Package source defines the stock-video search capability used by the
// resolver and the scoring that picks one candidate out of a result page.
package source

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"docuscene/pkg/model"
	"docuscene/pkg/request"
)

// TargetAspect is the preferred width/height ratio.
const TargetAspect = 16.0 / 9.0

// Candidate is one downloadable video returned by a search.
type Candidate struct {
	ID          string
	PageURL     string
	DownloadURL string
	Duration    float64
	Width       int
	Height      int
}

// Source searches a stock-video catalogue.
type Source interface {
	Name() model.AssetSource
	// Configured reports whether credentials are present. Unconfigured sources are skipped.
	Configured() bool
	Search(ctx context.Context, query string, targetDuration int) ([]Candidate, error)
}

// SourceUnavailableError wraps any failure of a single source lookup or download.
type SourceUnavailableError struct {
	Source string
	Query  string
	Err    error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable for %q: %v", e.Source, e.Query, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// DurationScore is 1 when d matches target and falls toward 0 as they diverge.
func DurationScore(d, target float64) float64 {
	m := math.Max(d, target)
	if m <= 0 {
		return 0
	}
	return 1 - math.Abs(d-target)/m
}

// AspectScore is 1 for 16:9 and decreases with distance from it.
func AspectScore(width, height int) float64 {
	if width <= 0 || height <= 0 {
		return 0
	}
	ratio := float64(width) / float64(height)
	return 1 - math.Abs(ratio-TargetAspect)/TargetAspect
}

// Score weighs duration fit 0.7 and aspect fit 0.3.
func Score(c Candidate, target float64) float64 {
	return 0.7*DurationScore(c.Duration, target) + 0.3*AspectScore(c.Width, c.Height)
}

// Best returns the highest scoring candidate that has a download URL.
// Ties keep the earlier candidate.
func Best(candidates []Candidate, target float64) (Candidate, bool) {
	var best Candidate
	bestScore := math.Inf(-1)
	found := false
	for _, c := range candidates {
		if c.DownloadURL == "" {
			continue
		}
		if s := Score(c, target); s > bestScore {
			best, bestScore, found = c, s, true
		}
	}
	return best, found
}

// AspectRatio formats width and height as a reduced "W:H" string.
func AspectRatio(width, height int) string {
	if width <= 0 || height <= 0 {
		return ""
	}
	g := gcd(width, height)
	return strconv.Itoa(width/g) + ":" + strconv.Itoa(height/g)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// Downloader stores a remote file under dir/name and returns its path.
type Downloader interface {
	Download(ctx context.Context, url, dir, name string) (string, error)
}

// HTTPDownloader downloads through the shared request client.
type HTTPDownloader struct {
	client *request.Client
}

// NewHTTPDownloader creates an HTTPDownloader.
func NewHTTPDownloader(c *request.Client) *HTTPDownloader {
	return &HTTPDownloader{client: c}
}

// Download fetches url into dir/name.
func (d *HTTPDownloader) Download(ctx context.Context, url, dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download dir: %w", err)
	}
	dst := filepath.Join(dir, name)
	if _, err := d.client.Download(ctx, url, dst); err != nil {
		return "", err
	}
	return dst, nil
}
