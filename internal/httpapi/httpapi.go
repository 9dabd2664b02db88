// Package httpapi implements the HTTP Front End (C6): route registration,
// the shared-secret auth gate on mutating endpoints, CORS, and JSON
// serialisation of the §3 data model. It owns no business logic of its own —
// every handler is a thin adapter onto the Lifecycle Service or the
// WebSocket Proxy.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/operolabs/browserstation/internal/lifecycle"
	"github.com/operolabs/browserstation/internal/model"
	"github.com/operolabs/browserstation/internal/wsproxy"
)

// Server wires the Lifecycle Service and the WebSocket Proxy into one
// http.Handler.
type Server struct {
	lifecycle *lifecycle.Service
	ws        *wsproxy.Handler
	apiKey    string
}

// New constructs a Server. apiKey empty disables the X-API-Key check
// entirely, per §4.6.
func New(lc *lifecycle.Service, ws *wsproxy.Handler, apiKey string) *Server {
	return &Server{lifecycle: lc, ws: ws, apiKey: apiKey}
}

// Routes builds the full routing table in §4.6, wrapped in CORS and, for the
// "required" routes, the shared-secret auth gate.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.Handle("POST /browsers", s.requireAuth(http.HandlerFunc(s.handleCreate)))
	mux.Handle("GET /browsers", s.requireAuth(http.HandlerFunc(s.handleList)))
	mux.Handle("GET /browsers/{id}", s.requireAuth(http.HandlerFunc(s.handleGet)))
	mux.Handle("DELETE /browsers/{id}", s.requireAuth(http.HandlerFunc(s.handleDelete)))
	// Intentionally not wrapped in requireAuth: a bare WebSocket client
	// cannot set a custom header. Gated instead by the signed ?token=
	// scheme inside wsproxy.Handler itself when an API key is configured.
	mux.Handle("GET /ws/browsers/{id}/{path...}", s.ws)

	return cors(mux)
}

// requireAuth enforces the X-API-Key header when an API key is configured.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("X-API-Key")
		if got == "" {
			writeError(w, http.StatusUnauthorized, "Missing API key")
			return
		}
		if got != s.apiKey {
			writeError(w, http.StatusUnauthorized, "Invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// cors allows any origin and header, every method the API serves, and
// credentials — the control
// plane is assumed to sit behind a cluster boundary, not exposed directly to
// the open internet.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.lifecycle.Health(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Unhealthy: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	info, err := s.lifecycle.CreateBrowser(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := s.lifecycle.ListBrowsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	info, err := s.lifecycle.GetBrowser(r.Context(), id)
	if err != nil {
		writeNotFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, err := s.lifecycle.DeleteBrowser(r.Context(), id)
	if err != nil {
		writeNotFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func writeNotFoundOr500(w http.ResponseWriter, err error) {
	if errors.Is(err, lifecycle.ErrNotFound) {
		writeError(w, http.StatusNotFound, "browser not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, model.ErrorBody{Detail: detail})
}
