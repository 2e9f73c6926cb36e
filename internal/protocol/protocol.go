// Package protocol defines the messages exchanged between a page and the
// caching worker. Requests form a closed set: every handler switches over
// the three concrete types and decoding anything else is an error.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type Type string

const (
	TypeCacheVideo       Type = "CACHE_VIDEO"
	TypeRemoveVideoCache Type = "REMOVE_VIDEO_CACHE"
	TypeGetCachedVideos  Type = "GET_CACHED_VIDEOS"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrMissingURL  = errors.New("message requires a url")
)

// Request is one of CacheVideo, RemoveVideoCache or GetCachedVideos.
type Request interface {
	Type() Type
	isRequest()
}

// CacheVideo asks the worker to fetch url in full and keep it in the video generation.
type CacheVideo struct {
	URL string
}

// RemoveVideoCache asks the worker to drop url from the video generation.
type RemoveVideoCache struct {
	URL string
}

// GetCachedVideos asks the worker for every URL in the video generation.
type GetCachedVideos struct{}

func (CacheVideo) Type() Type       { return TypeCacheVideo }
func (RemoveVideoCache) Type() Type { return TypeRemoveVideoCache }
func (GetCachedVideos) Type() Type  { return TypeGetCachedVideos }

func (CacheVideo) isRequest()       {}
func (RemoveVideoCache) isRequest() {}
func (GetCachedVideos) isRequest()  {}

// Envelope is the JSON wire shape of a request.
type Envelope struct {
	Type Type   `json:"type"`
	URL  string `json:"url,omitempty"`
}

// Reply is the JSON wire shape of a response. CACHE_VIDEO and
// REMOVE_VIDEO_CACHE fill Success, GET_CACHED_VIDEOS fills Videos.
type Reply struct {
	Success *bool    `json:"success,omitempty"`
	Videos  []string `json:"videos,omitempty"`
}

// MarshalJSON writes exactly one field per reply kind, so an empty video
// list still goes out as "videos":[].
func (r Reply) MarshalJSON() ([]byte, error) {
	switch {
	case r.Videos != nil:
		return json.Marshal(struct {
			Videos []string `json:"videos"`
		}{r.Videos})
	case r.Success != nil:
		return json.Marshal(struct {
			Success bool `json:"success"`
		}{*r.Success})
	default:
		return []byte("{}"), nil
	}
}

func SuccessReply(ok bool) Reply {
	return Reply{Success: &ok}
}

func VideosReply(videos []string) Reply {
	if videos == nil {
		videos = []string{}
	}
	return Reply{Videos: videos}
}

// Succeeded reports the success flag, false when absent.
func (r Reply) Succeeded() bool {
	return r.Success != nil && *r.Success
}

// CachedVideos returns the video list, never nil.
func (r Reply) CachedVideos() []string {
	if r.Videos == nil {
		return []string{}
	}
	return r.Videos
}

// DefaultReply is the safe answer for req when the worker is absent or late.
func DefaultReply(req Request) Reply {
	switch req.(type) {
	case GetCachedVideos:
		return VideosReply(nil)
	default:
		return SuccessReply(false)
	}
}

// Encode converts req to its wire envelope.
func Encode(req Request) Envelope {
	switch r := req.(type) {
	case CacheVideo:
		return Envelope{Type: TypeCacheVideo, URL: r.URL}
	case RemoveVideoCache:
		return Envelope{Type: TypeRemoveVideoCache, URL: r.URL}
	default:
		return Envelope{Type: req.Type()}
	}
}

// Decode validates env and returns the matching request.
func Decode(env Envelope) (Request, error) {
	url := strings.TrimSpace(env.URL)

	switch env.Type {
	case TypeCacheVideo:
		if url == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingURL, env.Type)
		}
		return CacheVideo{URL: url}, nil
	case TypeRemoveVideoCache:
		if url == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingURL, env.Type)
		}
		return RemoveVideoCache{URL: url}, nil
	case TypeGetCachedVideos:
		return GetCachedVideos{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func MarshalRequest(req Request) ([]byte, error) {
	return json.Marshal(Encode(req))
}

func UnmarshalRequest(data []byte) (Request, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	return Decode(env)
}
