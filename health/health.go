/*
Copyright © 2025 Jayson Grace <jayson.e.grace@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

// Package health queries the readiness and liveness endpoints of a Triton
// server over its KServe v2 HTTP protocol.
//
// Checks return (false, nil) when the server answers but is not ready,
// and an error wrapping ErrConnectionClosed when the server cannot be
// reached yet. Both conditions are transient while a container starts.
package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// DefaultRequestTimeout bounds a single health request.
const DefaultRequestTimeout = 5 * time.Second

var (
	// ErrNotReady reports a server that answered but is not ready.
	ErrNotReady = errors.New("triton server is not ready")

	// ErrConnectionClosed reports a transient transport failure such as a
	// refused, reset or prematurely closed connection.
	ErrConnectionClosed = errors.New("connection closed")
)

// Checker is the readiness check used by the container lifecycle wrapper.
type Checker interface {
	IsServerReady(ctx context.Context, baseURL string) (bool, error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, baseURL string) (bool, error)

// IsServerReady calls f.
func (f CheckerFunc) IsServerReady(ctx context.Context, baseURL string) (bool, error) {
	return f(ctx, baseURL)
}

// Client checks Triton health endpoints. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRequestTimeout sets the per-request timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// NewClient returns a Client with DefaultRequestTimeout and keep-alives
// disabled, so a restarting server never sees a stale pooled connection.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout:   DefaultRequestTimeout,
			Transport: &http.Transport{DisableKeepAlives: true, Proxy: nil},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsServerReady queries GET /v2/health/ready.
func (c *Client) IsServerReady(ctx context.Context, baseURL string) (bool, error) {
	return c.check(ctx, baseURL, "v2", "health", "ready")
}

// IsServerLive queries GET /v2/health/live.
func (c *Client) IsServerLive(ctx context.Context, baseURL string) (bool, error) {
	return c.check(ctx, baseURL, "v2", "health", "live")
}

// IsModelReady queries GET /v2/models/{name}[/versions/{version}]/ready.
// An empty version asks about the model's default version policy.
func (c *Client) IsModelReady(ctx context.Context, baseURL, name, version string) (bool, error) {
	if name == "" {
		return false, fmt.Errorf("model name is required")
	}
	if version == "" {
		return c.check(ctx, baseURL, "v2", "models", name, "ready")
	}
	return c.check(ctx, baseURL, "v2", "models", name, "versions", version, "ready")
}

func (c *Client) check(ctx context.Context, baseURL string, segments ...string) (bool, error) {
	endpoint, err := url.JoinPath(strings.TrimRight(baseURL, "/"), segments...)
	if err != nil {
		return false, fmt.Errorf("failed to build health URL from %q: %w", baseURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		if IsTransient(err) {
			return false, fmt.Errorf("%w: %s: %v", ErrConnectionClosed, endpoint, err)
		}
		return false, fmt.Errorf("failed to query %s: %w", endpoint, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	return resp.StatusCode == http.StatusOK, nil
}

// IsTransient reports whether err is a transport failure expected while a
// server is still binding its ports.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// An unresolvable host will not start resolving while we wait.
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}

	if errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
