package url

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// CacheKey normalises a request URL into the key used by the cache store.
// The fragment never reaches the network, so it is not part of the key.
func CacheKey(rawURL string) (string, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("error parsing URL '%s': %w", rawURL, err)
	}
	if !parsedURL.IsAbs() || parsedURL.Host == "" {
		return "", fmt.Errorf("URL '%s' is not absolute", rawURL)
	}

	parsedURL.Fragment = ""
	parsedURL.RawFragment = ""

	return parsedURL.String(), nil
}

// IsHTTP reports whether u uses the http or https scheme.
func IsHTTP(u *url.URL) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

// HasExtension reports whether the last path segment ends in one of exts,
// compared case-insensitively. Extensions are given without the dot.
func HasExtension(urlPath string, exts []string) bool {
	ext := strings.TrimPrefix(path.Ext(urlPath), ".")
	if ext == "" {
		return false
	}
	for _, candidate := range exts {
		if strings.EqualFold(ext, strings.TrimPrefix(candidate, ".")) {
			return true
		}
	}
	return false
}

func ToAbsoluteURL(baseStr, inputStr string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(inputStr))
	if err != nil {
		return "", err
	}

	// If the input is already an absolute URL, return it as-is
	if u.IsAbs() {
		return u.String(), nil
	}

	// Otherwise, resolve it against the base
	base, err := url.Parse(baseStr)
	if err != nil {
		return "", err
	}

	return base.ResolveReference(u).String(), nil
}
