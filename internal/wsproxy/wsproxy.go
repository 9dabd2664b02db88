// Package wsproxy implements the WebSocket Proxy (C5): the hard component.
// It accepts a client WebSocket, resolves the target actor, verifies Chrome
// is reachable, dials the upstream CDP WebSocket, and bridges frames
// bidirectionally with correct teardown. Bridging is grounded in the
// teacher's proxyWebSocketMessages two-goroutine pattern.
package wsproxy

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/operolabs/browserstation/internal/actor"
	"github.com/operolabs/browserstation/internal/authtoken"
	"github.com/operolabs/browserstation/internal/cdp"
	"github.com/operolabs/browserstation/internal/logging"
	"github.com/operolabs/browserstation/internal/registry"
)

const (
	versionProbeTimeout = 2 * time.Second
	upstreamDialTimeout = 5 * time.Second
)

// Close codes per §7's error-kind table.
const (
	closeNotFound           = websocket.ClosePolicyViolation    // 1008
	closeServiceUnavailable = websocket.CloseInternalServerErr  // 1011
)

// Handler serves the "/ws/browsers/{id}/{path...}" route.
type Handler struct {
	registry  *registry.Registry
	discovery *cdp.Client
	tokens    *authtoken.Signer // nil disables the token check entirely
	upgrader  websocket.Upgrader
	httpc     *http.Client
}

// New constructs a Handler. tokens may be nil, in which case the WS route
// stays exactly as open as the original (§9a's zero-config case).
func New(reg *registry.Registry, tokens *authtoken.Signer) *Handler {
	return &Handler{
		registry:  reg,
		discovery: cdp.NewClient(),
		tokens:    tokens,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		httpc: &http.Client{},
	}
}

// ServeHTTP implements the pre-flight state machine then, on success, runs
// the bridge until either side closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	browserID := r.PathValue("id")
	path := r.PathValue("path")

	client, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.RequestError(browserID, "ws_upgrade", err)
		return
	}
	defer client.Close()

	if h.tokens != nil {
		token := r.URL.Query().Get("token")
		if err := h.tokens.Verify(token, browserID); err != nil {
			closeWith(client, closeNotFound, "invalid or expired token")
			return
		}
	}

	ctx := r.Context()

	handle, err := h.registry.Lookup(ctx, browserID)
	if err != nil {
		closeWith(client, closeNotFound, "Browser not found")
		return
	}

	addr, ok, err := handle.Addr(ctx)
	if err != nil {
		logging.RequestError(browserID, "resolve_addr", err)
		closeWith(client, closeServiceUnavailable, "Chrome not ready")
		return
	}
	if !ok {
		closeWith(client, closeServiceUnavailable, "Chrome not ready")
		return
	}

	info := actor.New(browserID, addr, "", h.discovery).GetInfo(ctx)
	if !info.ChromeReady {
		closeWith(client, closeServiceUnavailable, "Chrome not ready")
		return
	}

	if err := h.verifyReachable(ctx, addr); err != nil {
		closeWith(client, closeServiceUnavailable, "Chrome unreachable: "+err.Error())
		return
	}

	upstream, err := h.dialUpstream(ctx, addr, path)
	if err != nil {
		closeWith(client, closeServiceUnavailable, "Upstream dial failed")
		return
	}
	defer upstream.Close()

	bridge(client, upstream)
}

func (h *Handler) verifyReachable(ctx context.Context, addr string) error {
	ctx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/json/version", nil)
	if err != nil {
		return err
	}
	resp, err := h.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func (h *Handler) dialUpstream(ctx context.Context, addr, path string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: upstreamDialTimeout}
	conn, _, err := dialer.DialContext(ctx, "ws://"+addr+"/"+path, nil)
	if err != nil {
		return nil, fmt.Errorf("wsproxy: dial upstream: %w", err)
	}
	return conn, nil
}

// bridge runs the two-goroutine forwarding loop. Order within one direction
// is preserved because each direction is a single goroutine reading and
// writing in a tight loop; the two directions are otherwise independent.
// When either side's loop ends, both connections are closed so the other
// loop's blocking read returns immediately instead of leaking.
func bridge(client, upstream *websocket.Conn) {
	done := make(chan struct{}, 2)

	go func() {
		forward(client, upstream)
		done <- struct{}{}
	}()
	go func() {
		forward(upstream, client)
		done <- struct{}{}
	}()

	<-done
	client.Close()
	upstream.Close()
	<-done
}

func forward(from, to *websocket.Conn) {
	for {
		msgType, data, err := from.ReadMessage()
		if err != nil {
			return
		}
		if err := to.WriteMessage(msgType, data); err != nil {
			return
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
}
