package sw

import (
	"net/http"
	"strings"

	urlutils "github.com/JSH-Team/vidcache/internal/utils/url"
)

type Strategy int

const (
	// StrategyPassThrough marks requests the worker never intercepts.
	StrategyPassThrough Strategy = iota
	StrategyRangeBypass
	StrategyNetworkFirst
	StrategyCacheFirst
)

func (s Strategy) String() string {
	switch s {
	case StrategyPassThrough:
		return "pass-through"
	case StrategyRangeBypass:
		return "range-bypass"
	case StrategyNetworkFirst:
		return "network-first"
	case StrategyCacheFirst:
		return "cache-first"
	default:
		return "unknown"
	}
}

// Route is the classifier's decision for one request. Generation is empty
// for strategies that never touch a cache.
type Route struct {
	Strategy   Strategy
	Generation string
}

type Rules struct {
	VideoExtensions  []string
	StaticExtensions []string
	Generations      Generations
}

// Interceptable reports whether the worker handles req at all: only GET
// requests over http or https.
func Interceptable(req *http.Request) bool {
	return req.Method == http.MethodGet && urlutils.IsHTTP(req.URL)
}

// Classify picks the strategy for req. The first matching rule wins.
func Classify(req *http.Request, rules Rules) Route {
	if !Interceptable(req) {
		return Route{Strategy: StrategyPassThrough}
	}

	path := req.URL.Path

	if urlutils.HasExtension(path, rules.VideoExtensions) {
		// Partial reads must neither be stored nor served from a cache
		// that only holds whole bodies.
		if req.Header.Get("Range") != "" {
			return Route{Strategy: StrategyRangeBypass}
		}
		return Route{Strategy: StrategyNetworkFirst, Generation: rules.Generations.Video}
	}

	if urlutils.HasExtension(path, rules.StaticExtensions) {
		return Route{Strategy: StrategyNetworkFirst, Generation: rules.Generations.Static}
	}

	if strings.Contains(req.Header.Get("Accept"), "text/html") {
		return Route{Strategy: StrategyCacheFirst, Generation: rules.Generations.Static}
	}

	return Route{Strategy: StrategyNetworkFirst, Generation: rules.Generations.Default}
}
