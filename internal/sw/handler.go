package sw

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JSH-Team/vidcache/internal/protocol"
	"github.com/JSH-Team/vidcache/internal/utils/fetch"
	"github.com/JSH-Team/vidcache/internal/utils/logger"
)

// Hop-by-hop headers are meaningful for a single connection only.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Info is the JSON answer to GET /sw.js.
type Info struct {
	Script  string `json:"script"`
	Scope   string `json:"scope"`
	Version string `json:"version,omitempty"`
	State   string `json:"state"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Handler serves the origin through the controlling worker. Requests made
// while no worker is active go straight to the network.
type Handler struct {
	container      *Container
	fetcher        fetch.Fetcher
	messageTimeout time.Duration
}

// NewHandler wraps container. fetcher serves requests nobody intercepts;
// messageTimeout caps how long a posted message may wait for its reply.
func NewHandler(container *Container, fetcher fetch.Fetcher, messageTimeout time.Duration) *Handler {
	return &Handler{
		container:      container,
		fetcher:        fetcher,
		messageTimeout: messageTimeout,
	}
}

func (h *Handler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.URL.Path == ScriptPath {
		h.serveScript(rw, r)
		return
	}
	h.serveProxy(rw, r)
}

func (h *Handler) serveScript(rw http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		h.serveInfo(rw)
	case http.MethodPost:
		h.serveMessage(rw, r)
	default:
		rw.Header().Set("Allow", "GET, HEAD, POST")
		writeJSON(rw, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	}
}

func (h *Handler) serveInfo(rw http.ResponseWriter) {
	rw.Header().Set("Service-Worker-Allowed", RootScope)

	reg := h.container.Registration()
	if reg == nil {
		writeJSON(rw, http.StatusServiceUnavailable, errorBody{Error: ErrNotRegistered.Error()})
		return
	}

	info := Info{Script: reg.ScriptURL(), Scope: reg.Scope(), State: StateRedundant.String()}
	if w := reg.Active(); w != nil {
		info.Version = w.Version()
		info.State = w.State().String()
	}
	writeJSON(rw, http.StatusOK, info)
}

func (h *Handler) serveMessage(rw http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	req, err := protocol.UnmarshalRequest(data)
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	reg := h.container.Registration()
	if reg == nil {
		writeJSON(rw, http.StatusServiceUnavailable, errorBody{Error: ErrNotRegistered.Error()})
		return
	}

	ctx := r.Context()
	if h.messageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.messageTimeout)
		defer cancel()
	}

	port := protocol.NewPort()
	if err := reg.PostMessage(protocol.Message{Request: req, Port: port}); err != nil {
		logger.Warn("Rejected %s message: %v", req.Type(), err)
		writeJSON(rw, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
		return
	}

	reply, ok := port.Await(ctx, req)
	if !ok {
		logger.Warn("%s message timed out", req.Type())
		writeJSON(rw, http.StatusGatewayTimeout, reply)
		return
	}
	writeJSON(rw, http.StatusOK, reply)
}

func (h *Handler) serveProxy(rw http.ResponseWriter, r *http.Request) {
	out := h.outgoing(r)

	var (
		resp *http.Response
		err  error
	)
	if w := h.activeWorker(); w != nil {
		resp, err = w.Fetch(r.Context(), out)
	} else {
		resp, err = h.fetcher.Fetch(r.Context(), out)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.Warn("Failed to fetch %s: %v", out.URL, err)
		http.Error(rw, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	header := rw.Header()
	for key, values := range resp.Header {
		for _, value := range values {
			header.Add(key, value)
		}
	}
	removeHopHeaders(header)

	rw.WriteHeader(resp.StatusCode)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(rw, resp.Body); err != nil {
		logger.Debug("Client stopped reading %s: %v", out.URL, err)
	}
}

func (h *Handler) activeWorker() *Worker {
	if reg := h.container.Registration(); reg != nil {
		return reg.Active()
	}
	return nil
}

// outgoing rewrites r so it targets the origin.
func (h *Handler) outgoing(r *http.Request) *http.Request {
	out := r.Clone(r.Context())
	out.RequestURI = ""

	target := h.container.Origin()
	target.Path = r.URL.Path
	target.RawPath = r.URL.RawPath
	target.RawQuery = r.URL.RawQuery
	out.URL = target
	out.Host = target.Host

	removeHopHeaders(out.Header)
	if r.ContentLength == 0 {
		out.Body = nil
	}
	return out
}

func removeHopHeaders(header http.Header) {
	if connection := header.Get("Connection"); connection != "" {
		for _, name := range strings.Split(connection, ",") {
			header.Del(strings.TrimSpace(name))
		}
	}
	for _, name := range hopHeaders {
		header.Del(name)
	}
}

func writeJSON(rw http.ResponseWriter, status int, body any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	if err := json.NewEncoder(rw).Encode(body); err != nil {
		logger.Debug("Failed to write response: %v", err)
	}
}
