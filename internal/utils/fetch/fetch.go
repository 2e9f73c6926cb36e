package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/ratelimit"
)

// ErrNetwork marks a request that never produced a response.
var ErrNetwork = errors.New("network request failed")

// Fetcher performs a network round trip for an intercepted request.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

type Options struct {
	Timeout           time.Duration
	RequestsPerSecond int
	Transport         http.RoundTripper
}

// NetworkFetcher is the rate limited HTTP client every strategy goes through.
type NetworkFetcher struct {
	client      *http.Client
	rateLimiter ratelimit.Limiter
}

func NewNetworkFetcher(opts Options) *NetworkFetcher {
	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   20,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   30 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}

	var rateLimiter ratelimit.Limiter
	if opts.RequestsPerSecond > 0 {
		rateLimiter = ratelimit.New(opts.RequestsPerSecond)
	} else {
		rateLimiter = ratelimit.NewUnlimited()
	}

	return &NetworkFetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		rateLimiter: rateLimiter,
	}
}

// Fetch sends req as-is. Transport failures are wrapped in ErrNetwork; any
// HTTP status, including errors, is a successful fetch.
func (s *NetworkFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	s.rateLimiter.Take()

	out := req.Clone(ctx)
	out.RequestURI = ""

	resp, err := s.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNetwork, req.Method, req.URL, err)
	}
	return resp, nil
}

// NewFreshRequest builds a GET for the whole resource at rawURL that asks
// every intermediary to revalidate instead of serving a stored copy.
func NewFreshRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Accept", "*/*")

	return req, nil
}
