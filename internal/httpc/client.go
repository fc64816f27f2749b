// Package httpc is the HTTP client for a running panorama server.
package httpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teslashibe/go-panorama/pkg/compose"
	"github.com/teslashibe/go-panorama/pkg/session"
)

// Default timeouts for HTTP operations.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultConnectTimeout  = 10 * time.Second
	DefaultKeepAlive       = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
)

// NewHTTPClient returns an http.Client with the given overall timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   DefaultConnectTimeout,
				KeepAlive: DefaultKeepAlive,
			}).DialContext,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       DefaultIdleConnTimeout,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	Result     *compose.Result
}

func (e *APIError) Error() string {
	return fmt.Sprintf("panorama: %d: %s", e.StatusCode, e.Message)
}

// Client talks to the server's /api routes.
type Client struct {
	base string
	http *http.Client
}

// New returns a client for the server at baseURL, e.g.
// "http://localhost:8080". A nil hc uses NewHTTPClient(DefaultTimeout).
func New(baseURL string, hc *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("httpc: base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("httpc: base url %q: scheme must be http or https", baseURL)
	}
	if hc == nil {
		hc = NewHTTPClient(DefaultTimeout)
	}
	return &Client{base: strings.TrimRight(u.String(), "/"), http: hc}, nil
}

// Status fetches the session snapshot.
func (c *Client) Status(ctx context.Context) (session.Status, error) {
	var st session.Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &st)
	return st, err
}

// Start begins a collection.
func (c *Client) Start(ctx context.Context) (session.Status, error) {
	var st session.Status
	err := c.do(ctx, http.MethodPost, "/api/collection/start", nil, &st)
	return st, err
}

// Capture grabs the current live frame and returns its buffer index.
func (c *Client) Capture(ctx context.Context) (int, error) {
	var out struct {
		Index int `json:"index"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/collection/capture", nil, &out); err != nil {
		return -1, err
	}
	return out.Index, nil
}

// Stop ends the collection.
func (c *Client) Stop(ctx context.Context) (session.Status, error) {
	var st session.Status
	err := c.do(ctx, http.MethodPost, "/api/collection/stop", nil, &st)
	return st, err
}

// Reset discards frames and the composite.
func (c *Client) Reset(ctx context.Context) (session.Status, error) {
	var st session.Status
	err := c.do(ctx, http.MethodPost, "/api/reset", nil, &st)
	return st, err
}

// Compose requests a composition. An empty mode uses the server default.
func (c *Client) Compose(ctx context.Context, mode string) (compose.Result, error) {
	var res compose.Result
	err := c.do(ctx, http.MethodPost, "/api/compose", map[string]string{"mode": mode}, &res)
	return res, err
}

// Export asks the server to write the composite to path on its filesystem.
func (c *Client) Export(ctx context.Context, path string) (string, error) {
	var out struct {
		Path string `json:"path"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/export", map[string]string{"path": path}, &out); err != nil {
		return "", err
	}
	return out.Path, nil
}

// Composite downloads the current composite encoded as format and copies
// it to w. It returns the response content type.
func (c *Client) Composite(ctx context.Context, format string, w io.Writer) (string, error) {
	path := "/api/composite"
	if format != "" {
		path += "?format=" + url.QueryEscape(format)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return "", decodeError(resp)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", fmt.Errorf("httpc: read composite: %w", err)
	}
	return resp.Header.Get("Content-Type"), nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("httpc: decode %s: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
	var body struct {
		Error  string          `json:"error"`
		Result *compose.Result `json:"result"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Result = body.Result
	}
	return apiErr
}
