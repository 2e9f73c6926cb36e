package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/JSH-Team/vidcache/internal/protocol"
	"github.com/JSH-Team/vidcache/internal/sw"
	"github.com/JSH-Team/vidcache/internal/utils/fetch"
	"github.com/JSH-Team/vidcache/internal/utils/logger"
)

// Local registers the worker script in an in-process container.
func Local(container *sw.Container) Registrar {
	return RegistrarFunc(func(ctx context.Context) (Controller, error) {
		reg, err := container.Register(ctx, sw.ScriptPath, sw.RootScope)
		if err != nil {
			return nil, err
		}
		return reg, nil
	})
}

// Remote talks to a worker served by another process.
type Remote struct {
	script  *url.URL
	fetcher fetch.Fetcher
}

// NewRemote targets the worker host at workerURL.
func NewRemote(workerURL string, fetcher fetch.Fetcher) (*Remote, error) {
	base, err := url.Parse(workerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid worker URL %q: %w", workerURL, err)
	}
	if !base.IsAbs() || base.Host == "" {
		return nil, fmt.Errorf("invalid worker URL %q: must be an absolute URL", workerURL)
	}

	return &Remote{
		script:  base.ResolveReference(&url.URL{Path: sw.ScriptPath}),
		fetcher: fetcher,
	}, nil
}

// Register succeeds when the remote worker is active and controls the root scope.
func (r *Remote) Register(ctx context.Context) (Controller, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.script.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("worker at %s answered %d", r.script, resp.StatusCode)
	}
	if allowed := resp.Header.Get("Service-Worker-Allowed"); allowed != sw.RootScope {
		return nil, fmt.Errorf("worker at %s does not allow scope %s", r.script, sw.RootScope)
	}

	var info sw.Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("invalid worker info from %s: %w", r.script, err)
	}
	if info.State != sw.StateActivated.String() {
		return nil, fmt.Errorf("worker at %s is %s: %w", r.script, info.State, sw.ErrNotActive)
	}

	return &remoteController{remote: r, scope: info.Scope}, nil
}

type remoteController struct {
	remote *Remote
	scope  string
}

func (c *remoteController) Scope() string {
	return c.scope
}

// PostMessage sends msg in the background. A transport failure is answered
// with the default reply so the caller does not wait for its deadline.
func (c *remoteController) PostMessage(msg protocol.Message) error {
	body, err := protocol.MarshalRequest(msg.Request)
	if err != nil {
		return err
	}

	go func() {
		msg.Port.Post(c.remote.send(body, msg.Request))
	}()
	return nil
}

// send outlives the caller's deadline so the worker side always completes.
func (r *Remote) send(body []byte, req protocol.Request) protocol.Reply {
	ctx := context.Background()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.script.String(), bytes.NewReader(body))
	if err != nil {
		logger.Error("Failed to build %s request: %v", req.Type(), err)
		return protocol.DefaultReply(req)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.fetcher.Fetch(ctx, httpReq)
	if err != nil {
		logger.Warn("Failed to send %s: %v", req.Type(), err)
		return protocol.DefaultReply(req)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		logger.Warn("Worker answered %s with status %d", req.Type(), resp.StatusCode)
		return protocol.DefaultReply(req)
	}

	var reply protocol.Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		logger.Warn("Invalid reply to %s: %v", req.Type(), err)
		return protocol.DefaultReply(req)
	}
	return reply
}
