package offline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/JSH-Team/vidcache/internal/config"
	htmlutils "github.com/JSH-Team/vidcache/internal/utils/html"
	"github.com/JSH-Team/vidcache/internal/utils/logger"
	urlutils "github.com/JSH-Team/vidcache/internal/utils/url"
)

var ErrNotHTML = errors.New("page is not an HTML document")

// PageVideo is the outcome of caching one video found on a page.
type PageVideo struct {
	URL    string
	Cached bool
}

// DiscoverVideos loads pageURL and returns the videos it references.
func (f *Facade) DiscoverVideos(ctx context.Context, pageURL string) ([]string, error) {
	if controller := f.active(); controller != nil {
		pageURL = resolve(controller, pageURL)
	}
	if _, err := urlutils.CacheKey(pageURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.fetcher().Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("failed to load %s: status %d", pageURL, resp.StatusCode)
	}

	base := pageURL
	if resp.Request != nil && resp.Request.URL != nil {
		// Redirects move the base relative sources resolve against
		base = resp.Request.URL.String()
	}

	sources, err := htmlutils.ExtractVideoSources(resp.Body, base, config.VideoExtensions)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotHTML, pageURL, err)
	}
	return sources, nil
}

// CachePage caches every video referenced by pageURL, one after the other.
// progress, when set, is called after each video.
func (f *Facade) CachePage(ctx context.Context, pageURL string, progress func(PageVideo)) ([]PageVideo, error) {
	sources, err := f.DiscoverVideos(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	logger.Info("Found %d videos on %s", len(sources), pageURL)

	results := make([]PageVideo, 0, len(sources))
	for _, source := range sources {
		if ctx.Err() != nil {
			break
		}
		result := PageVideo{URL: source, Cached: f.CacheVideo(ctx, source)}
		results = append(results, result)
		if progress != nil {
			progress(result)
		}
	}
	return results, ctx.Err()
}
