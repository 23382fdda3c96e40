// Package apiclient is the HTTP client for the admin API, used by
// aeriectl.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aeriedb/aerie/pkg/coord/handle"
	"github.com/aeriedb/aerie/pkg/coord/lock"
	"github.com/aeriedb/aerie/pkg/coord/master"
	"github.com/aeriedb/aerie/pkg/coord/session"
)

// Client talks to one aeried admin endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the given base URL, e.g.
// "http://localhost:7682".
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("admin API %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Health checks the liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	var out map[string]string
	return c.get(ctx, "/health", &out)
}

// Sessions lists tracked sessions.
func (c *Client) Sessions(ctx context.Context) ([]session.Info, error) {
	var out []session.Info
	err := c.get(ctx, "/v1/sessions", &out)
	return out, err
}

// Handles lists open handles.
func (c *Client) Handles(ctx context.Context) ([]handle.Info, error) {
	var out []handle.Info
	err := c.get(ctx, "/v1/handles", &out)
	return out, err
}

// Locks lists nodes with lock state.
func (c *Client) Locks(ctx context.Context) ([]lock.Info, error) {
	var out []lock.Info
	err := c.get(ctx, "/v1/locks", &out)
	return out, err
}

// Namespace inspects one namespace node.
func (c *Client) Namespace(ctx context.Context, path string) (*master.NodeInfo, error) {
	var out master.NodeInfo
	err := c.get(ctx, "/v1/namespace?path="+url.QueryEscape(path), &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
