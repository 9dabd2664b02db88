package wsproxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/operolabs/browserstation/internal/placement"
	"github.com/operolabs/browserstation/internal/registry"
)

// fakeHandle is the minimal placement.Handle a test actor needs.
type fakeHandle struct {
	name string
	addr string
	ok   bool
}

func (h *fakeHandle) Name() string { return h.name }
func (h *fakeHandle) Addr(ctx context.Context) (string, bool, error) {
	return h.addr, h.ok, nil
}
func (h *fakeHandle) State(ctx context.Context) (placement.State, error) {
	return placement.StateAlive, nil
}

// fakeRuntime backs a Registry with a single, test-controlled actor.
type fakeRuntime struct {
	handle *fakeHandle // nil means Lookup always returns NotFound
}

func (r *fakeRuntime) Init(ctx context.Context) error   { return nil }
func (r *fakeRuntime) Healthy(ctx context.Context) bool { return true }
func (r *fakeRuntime) CreateActor(ctx context.Context, name string, cpus float64) (placement.Handle, error) {
	return r.handle, nil
}
func (r *fakeRuntime) Lookup(ctx context.Context, name string) (placement.Handle, error) {
	if r.handle == nil {
		return nil, placement.ErrNotFound
	}
	return r.handle, nil
}
func (r *fakeRuntime) ListByState(ctx context.Context, state placement.State) ([]placement.Descriptor, error) {
	return nil, nil
}
func (r *fakeRuntime) Kill(ctx context.Context, name string) error { return nil }
func (r *fakeRuntime) ClusterResources(ctx context.Context) (map[string]float64, map[string]float64, error) {
	return map[string]float64{}, map[string]float64{}, nil
}

// newUpstreamChrome starts a fake worker node exposing /json, /json/version,
// and an echo WebSocket endpoint, mimicking real Chrome closely enough for
// the proxy's pre-flight and bridging phases to exercise it end to end.
func newUpstreamChrome(t *testing.T) (addr string, closeFn func()) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	var selfAddr string

	mux := http.NewServeMux()
	mux.HandleFunc("/json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]string{
			{"type": "page", "webSocketDebuggerUrl": "ws://" + selfAddr + "/devtools/page/FAKE"},
		})
	})
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"webSocketDebuggerUrl": "ws://localhost:0/devtools/browser/FAKE"})
	})
	mux.HandleFunc("/devtools/page/FAKE", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, append([]byte("echo:"), data...)); err != nil {
				return
			}
		}
	})

	srv := httptest.NewServer(mux)
	addr = strings.TrimPrefix(srv.URL, "http://")
	selfAddr = addr

	return addr, srv.Close
}

func newTestHandler(rt *fakeRuntime) *Handler {
	reg := registry.New(rt)
	return New(reg, nil)
}

func dialWS(t *testing.T, srv *httptest.Server, path string) (*websocket.Conn, *http.Response) {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	u.Scheme = "ws"
	u.Path = path
	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn, resp
}

func TestServeHTTP_GhostID_ClosesWithPolicyViolation(t *testing.T) {
	rt := &fakeRuntime{handle: nil}
	h := newTestHandler(rt)

	mux := http.NewServeMux()
	mux.Handle("GET /ws/browsers/{id}/{path...}", h)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn, _ := dialWS(t, srv, "/ws/browsers/00000000-0000-4000-8000-000000000000/devtools/browser")
	defer conn.Close()

	_, _, err := conn.ReadMessage()
	code := websocket.CloseStatus(err)
	if code != websocket.ClosePolicyViolation {
		t.Fatalf("expected close code %d, got %d (err=%v)", websocket.ClosePolicyViolation, code, err)
	}
}

func TestServeHTTP_ChromeNotReady_ClosesWithInternalErr(t *testing.T) {
	rt := &fakeRuntime{handle: &fakeHandle{name: "b1", addr: "", ok: false}}
	h := newTestHandler(rt)

	mux := http.NewServeMux()
	mux.Handle("GET /ws/browsers/{id}/{path...}", h)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn, _ := dialWS(t, srv, "/ws/browsers/b1/devtools/browser")
	defer conn.Close()

	_, _, err := conn.ReadMessage()
	code := websocket.CloseStatus(err)
	if code != websocket.CloseInternalServerErr {
		t.Fatalf("expected close code %d, got %d (err=%v)", websocket.CloseInternalServerErr, code, err)
	}
}

func TestServeHTTP_BridgesFramesBothDirections(t *testing.T) {
	upstreamAddr, closeUpstream := newUpstreamChrome(t)
	defer closeUpstream()

	rt := &fakeRuntime{handle: &fakeHandle{name: "b1", addr: upstreamAddr, ok: true}}
	h := newTestHandler(rt)

	mux := http.NewServeMux()
	mux.Handle("GET /ws/browsers/{id}/{path...}", h)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn, _ := dialWS(t, srv, "/ws/browsers/b1/devtools/page/FAKE")
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "echo:hello" {
		t.Fatalf("expected echoed frame, got %q", data)
	}

	// Closing the client must unblock the bridge's other goroutine: the
	// upstream connection, with no more frames in flight, should also
	// terminate within a bounded time rather than leaking.
	conn.Close()
}

func TestServeHTTP_PreservesOrderWithinOneDirection(t *testing.T) {
	upstreamAddr, closeUpstream := newUpstreamChrome(t)
	defer closeUpstream()

	rt := &fakeRuntime{handle: &fakeHandle{name: "b1", addr: upstreamAddr, ok: true}}
	h := newTestHandler(rt)

	mux := http.NewServeMux()
	mux.Handle("GET /ws/browsers/{id}/{path...}", h)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn, _ := dialWS(t, srv, "/ws/browsers/b1/devtools/page/FAKE")
	defer conn.Close()

	frames := []string{"one", "two", "three"}
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatalf("write %q: %v", f, err)
		}
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for _, f := range frames {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		want := "echo:" + f
		if string(data) != want {
			t.Fatalf("out-of-order delivery: expected %q, got %q", want, data)
		}
	}
}
