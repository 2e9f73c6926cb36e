package sw

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/JSH-Team/vidcache/internal/protocol"
	"github.com/JSH-Team/vidcache/internal/utils/fetch"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOriginServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/videos/a.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("frames-a"))
	})
	mux.HandleFunc("/watch", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>watch</html>"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newProxy(t *testing.T, originURL string, register bool) (*httptest.Server, *Container) {
	t.Helper()
	fetcher := fetch.NewNetworkFetcher(fetch.Options{Timeout: 5 * time.Second})

	c, err := NewContainer(originURL, testOptions(newTestStore(t), fetcher))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	if register {
		_, err := c.Register(context.Background(), ScriptPath, RootScope)
		require.NoError(t, err)
	}

	srv := httptest.NewServer(NewHandler(c, fetcher, 5*time.Second))
	t.Cleanup(srv.Close)
	return srv, c
}

func postMessage(t *testing.T, base string, body string) (int, protocol.Reply) {
	t.Helper()
	resp, err := http.Post(base+ScriptPath, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var reply protocol.Reply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	return resp.StatusCode, reply
}

func TestHandlerScriptInfo(t *testing.T) {
	origin := newOriginServer(t)
	proxy, _ := newProxy(t, origin.URL, true)

	resp, err := http.Get(proxy.URL + ScriptPath)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Service-Worker-Allowed"))

	var info Info
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, Info{Script: ScriptPath, Scope: origin.URL + "/", Version: "v1", State: "activated"}, info)
}

func TestHandlerWithoutRegistration(t *testing.T) {
	origin := newOriginServer(t)
	proxy, _ := newProxy(t, origin.URL, false)

	resp, err := http.Get(proxy.URL + ScriptPath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	status, _ := postMessage(t, proxy.URL, `{"type":"GET_CACHED_VIDEOS"}`)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	// Requests still reach the origin.
	resp, err = http.Get(proxy.URL + "/videos/a.mp4")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "frames-a", string(body))
}

func TestHandlerMessages(t *testing.T) {
	origin := newOriginServer(t)
	proxy, _ := newProxy(t, origin.URL, true)
	video := origin.URL + "/videos/a.mp4"

	status, reply := postMessage(t, proxy.URL, `{"type":"CACHE_VIDEO","url":"`+video+`"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, reply.Succeeded())

	_, reply = postMessage(t, proxy.URL, `{"type":"GET_CACHED_VIDEOS"}`)
	assert.Equal(t, []string{video}, reply.CachedVideos())

	_, reply = postMessage(t, proxy.URL, `{"type":"REMOVE_VIDEO_CACHE","url":"`+video+`"}`)
	assert.True(t, reply.Succeeded())
}

func TestHandlerRejectsUnknownMessages(t *testing.T) {
	origin := newOriginServer(t)
	proxy, _ := newProxy(t, origin.URL, true)

	resp, err := http.Post(proxy.URL+ScriptPath, "application/json", strings.NewReader(`{"type":"CLEAR_ALL"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlerServesCachedDocumentWhenOriginIsDown(t *testing.T) {
	origin := newOriginServer(t)
	proxy, _ := newProxy(t, origin.URL, true)

	fetchPage := func(path string) (int, string) {
		req, err := http.NewRequest(http.MethodGet, proxy.URL+path, nil)
		require.NoError(t, err)
		req.Header.Set("Accept", "text/html")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	status, body := fetchPage("/watch")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "<html>watch</html>", body)

	origin.Close()

	status, body = fetchPage("/watch")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "<html>watch</html>", body)

	status, body = fetchPage("/never-visited")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "You're offline")
}
