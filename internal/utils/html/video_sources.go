package html

import (
	"fmt"
	"io"
	"strings"

	urlutils "github.com/JSH-Team/vidcache/internal/utils/url"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ExtractVideoSources returns the absolute URLs of every video referenced by
// the document: <video src>, <source src> inside a <video>, and links whose
// path ends in one of videoExtensions. Order of first appearance is kept and
// duplicates are dropped.
func ExtractVideoSources(r io.Reader, baseURL string, videoExtensions []string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	// A <base href> changes what relative URLs resolve against
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, err := urlutils.ToAbsoluteURL(baseURL, href); err == nil {
			baseURL = resolved
		}
	}

	seen := make(map[string]bool)
	sources := []string{}

	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "blob:") || strings.HasPrefix(raw, "data:") {
			return
		}
		absolute, err := urlutils.ToAbsoluteURL(baseURL, raw)
		if err != nil {
			return
		}
		key, err := urlutils.CacheKey(absolute)
		if err != nil || seen[key] {
			return
		}
		seen[key] = true
		sources = append(sources, key)
	}

	doc.Find("video, a[href]").Each(func(i int, s *goquery.Selection) {
		node := s.Nodes[0]

		if node.Data == "a" {
			href := attr(node, "href")
			if urlutils.HasExtension(pathOf(href), videoExtensions) {
				add(href)
			}
			return
		}

		add(attr(node, "src"))
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			if child.Type == html.ElementNode && child.Data == "source" {
				add(attr(child, "src"))
			}
		}
	})

	return sources, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// pathOf strips the query and fragment from a possibly relative reference.
func pathOf(ref string) string {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		return ref[:i]
	}
	return ref
}
