package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
)

// Preview fetch limits. Pages are read only far enough to find the title
// and description; previews are cached because the same link is often
// shared repeatedly in one channel.
const (
	previewBodyLimit = 64 * 1024
	previewCacheTTL  = time.Hour
)

var (
	titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	descRe  = regexp.MustCompile(`(?is)<meta[^>]+name=["']description["'][^>]+content=["']([^"']*)["']`)
	tagRe   = regexp.MustCompile(`<[^>]+>`)
	wsRe    = regexp.MustCompile(`\s+`)
)

// HTTPFetcher implements Fetcher against the open web: it fetches the
// page and scrapes the title tag and meta description.
type HTTPFetcher struct {
	client *http.Client
	cache  *ristretto.Cache
}

// NewHTTPFetcher creates a fetcher with a preview cache.
func NewHTTPFetcher() (*HTTPFetcher, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     8 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &HTTPFetcher{
		client: &http.Client{Timeout: 10 * time.Second},
		cache:  cache,
	}, nil
}

// FetchPreview resolves url to a title and snippet.
func (f *HTTPFetcher) FetchPreview(ctx context.Context, url string) (Preview, error) {
	if cached, ok := f.cache.Get(url); ok {
		if p, ok := cached.(Preview); ok {
			return p, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Preview{}, fmt.Errorf("create preview request: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := f.client.Do(req)
	if err != nil {
		return Preview{}, fmt.Errorf("fetch preview: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Preview{}, fmt.Errorf("fetch preview: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, previewBodyLimit))
	if err != nil {
		return Preview{}, fmt.Errorf("read preview body: %w", err)
	}

	preview := Preview{
		Title:   cleanFragment(firstMatch(titleRe, body)),
		Snippet: cleanFragment(firstMatch(descRe, body)),
	}
	if preview.Title == "" && preview.Snippet == "" {
		return Preview{}, fmt.Errorf("no preview content at %s", url)
	}

	f.cache.SetWithTTL(url, preview, int64(len(preview.Title)+len(preview.Snippet)), previewCacheTTL)
	return preview, nil
}

func firstMatch(re *regexp.Regexp, body []byte) string {
	if m := re.FindSubmatch(body); m != nil {
		return string(m[1])
	}
	return ""
}

func cleanFragment(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(wsRe.ReplaceAllString(s, " "))
}
