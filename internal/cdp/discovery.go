// Package cdp resolves a usable Chrome DevTools Protocol WebSocket URL from a
// worker's Chrome discovery HTTP API.
package cdp

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout is applied per HTTP request made during discovery when the
// caller does not supply one.
const DefaultTimeout = 2 * time.Second

// target mirrors one entry of Chrome's GET /json response. Only the fields
// the discovery algorithm inspects are declared.
type target struct {
	Type                 string `json:"type"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Client discovers CDP WebSocket endpoints on worker nodes.
type Client struct {
	HTTPClient *http.Client
}

// NewClient returns a discovery client with a fresh, unshared http.Client.
// A dedicated client (rather than http.DefaultClient) keeps the discovery
// timeouts isolated from any other HTTP traffic the process makes.
func NewClient() *Client {
	return &Client{HTTPClient: &http.Client{}}
}

// FetchWS resolves a CDP WebSocket URL reachable at addr (a "host:port"
// literal, canonically "{workerIP}:9222"). It returns ok=false whenever
// Chrome isn't ready yet or isn't reachable at all; callers must poll.
//
// Algorithm (mirrors the upstream discovery flow Chrome itself exposes):
//  1. GET /json. Non-200 or transport error => not ready.
//  2. Take the first "page" target's webSocketDebuggerUrl, if any.
//  3. Otherwise PUT /json/new?about:blank to create one; on non-200, fall
//     back to the browser-level URL from GET /json/version.
//  4. Rewrite the literal host "localhost" to the caller's host — Chrome
//     has no idea what its externally reachable address is.
func (c *Client) FetchWS(ctx context.Context, addr string, timeout time.Duration) (string, bool) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	host := hostOf(addr)

	targets, ok := c.listTargets(ctx, addr, timeout)
	if !ok {
		return "", false
	}

	for _, t := range targets {
		if t.Type == "page" {
			if t.WebSocketDebuggerURL == "" {
				return "", false
			}
			return rewriteHost(t.WebSocketDebuggerURL, host), true
		}
	}

	if wsURL, ok := c.createPage(ctx, addr, timeout); ok {
		return rewriteHost(wsURL, host), true
	}

	wsURL, ok := c.browserVersionWS(ctx, addr, timeout)
	if !ok {
		return "", false
	}
	return rewriteHost(wsURL, host), true
}

func (c *Client) listTargets(ctx context.Context, addr string, timeout time.Duration) ([]target, bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/json", nil)
	if err != nil {
		return nil, false
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false
	}

	var targets []target
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return nil, false
	}
	return targets, true
}

func (c *Client) createPage(ctx context.Context, addr string, timeout time.Duration) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := "http://" + addr + "/json/new?" + url.QueryEscape("about:blank")
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, nil)
	if err != nil {
		return "", false
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	var t target
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil || t.WebSocketDebuggerURL == "" {
		return "", false
	}
	return t.WebSocketDebuggerURL, true
}

func (c *Client) browserVersionWS(ctx context.Context, addr string, timeout time.Duration) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/json/version", nil)
	if err != nil {
		return "", false
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	var version struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&version); err != nil || version.WebSocketDebuggerURL == "" {
		return "", false
	}
	return version.WebSocketDebuggerURL, true
}

// PathSuffix returns the portion of a CDP WebSocket URL after its ":9222"
// (or other, non-standard in the local backend's case) port marker, which is
// what gets glued onto "/ws/browsers/{id}" to build the public route.
func PathSuffix(wsURL string, port string) string {
	marker := ":" + port
	if idx := strings.Index(wsURL, marker); idx != -1 {
		return wsURL[idx+len(marker):]
	}
	return ""
}

func hostOf(addr string) string {
	if h, _, err := net.SplitHostPort(addr); err == nil {
		return h
	}
	return addr
}

func rewriteHost(wsURL, host string) string {
	return strings.Replace(wsURL, "localhost", host, 1)
}
