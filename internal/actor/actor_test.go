package actor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/operolabs/browserstation/internal/cdp"
)

func TestGetInfo_ChromeReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]string{
			{"type": "page", "webSocketDebuggerUrl": "ws://localhost:9222/devtools/page/XYZ"},
		})
	}))
	defer srv.Close()
	addr := strings.TrimPrefix(srv.URL, "http://")

	a := New("browser-1", addr, "9222", cdp.NewClient())
	info := a.GetInfo(context.Background())

	if !info.ChromeReady {
		t.Fatalf("expected chrome_ready")
	}
	if info.WebsocketURL == nil || *info.WebsocketURL != "/ws/browsers/browser-1/devtools/page/XYZ" {
		t.Fatalf("unexpected websocket_url: %+v", info.WebsocketURL)
	}
	if info.PodIP == "" || strings.Contains(info.PodIP, ":") {
		t.Fatalf("expected host-only pod_ip, got %q", info.PodIP)
	}
}

func TestGetInfo_ChromeNotReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	addr := strings.TrimPrefix(srv.URL, "http://")

	a := New("browser-2", addr, "", nil)
	info := a.GetInfo(context.Background())

	if info.ChromeReady {
		t.Fatalf("expected not ready")
	}
	if info.WebsocketURL != nil {
		t.Fatalf("expected nil websocket_url")
	}
}
