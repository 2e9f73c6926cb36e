package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Response is a complete captured response. Entries are immutable once
// stored; a later Put for the same URL replaces the whole value.
type Response struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Complete reports whether the response carries the whole resource.
func (r *Response) Complete() bool {
	return r != nil && r.Status == http.StatusOK
}

// ErrBodyTooLarge is returned by Capture for bodies above the size limit.
var ErrBodyTooLarge = errors.New("response body exceeds the cache entry limit")

type replayBody struct {
	io.Reader
	io.Closer
}

// Capture drains and closes resp.Body and returns the captured copy. With a
// positive limit, a longer body yields ErrBodyTooLarge and resp.Body is left
// open, rewound to replay the whole stream.
func Capture(rawURL string, resp *http.Response, limit int64) (*Response, error) {
	if limit > 0 && resp.ContentLength > limit {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrBodyTooLarge, rawURL, resp.ContentLength)
	}

	reader := io.Reader(resp.Body)
	if limit > 0 {
		reader = io.LimitReader(resp.Body, limit+1)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to read response body for %s: %w", rawURL, err)
	}

	if limit > 0 && int64(len(body)) > limit {
		resp.Body = replayBody{io.MultiReader(bytes.NewReader(body), resp.Body), resp.Body}
		return nil, fmt.Errorf("%w: %s is over %d bytes", ErrBodyTooLarge, rawURL, limit)
	}
	resp.Body.Close()

	return &Response{
		URL:    rawURL,
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	}, nil
}

// HTTPResponse materialises the entry as a fresh *http.Response for req.
// Every call returns an independent body reader.
func (r *Response) HTTPResponse(req *http.Request) *http.Response {
	header := r.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Content-Length", strconv.Itoa(len(r.Body)))

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", r.Status, http.StatusText(r.Status)),
		StatusCode:    r.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}
