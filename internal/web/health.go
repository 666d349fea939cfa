// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"context"
	"maps"
	"net/http"
	"net/url"
	"time"

	"go.astrophena.name/tgrelay/internal/syncx"
)

// CheckTimeout bounds a single /health request.
const CheckTimeout = 5 * time.Second

// Health returns the [HealthHandler] registered on mux at /health, creating it
// if necessary.
func Health(mux *http.ServeMux) *HealthHandler {
	h, pat := mux.Handler(&http.Request{Method: http.MethodGet, URL: &url.URL{Path: "/health"}})
	if hh, ok := h.(*HealthHandler); ok && pat == "/health" {
		return hh
	}
	hh := &HealthHandler{checks: syncx.Protect(make(map[string]HealthFunc))}
	mux.Handle("/health", hh)
	return hh
}

// HealthHandler reports the state of registered subsystems as JSON. It
// responds with 503 Service Unavailable when any check fails.
type HealthHandler struct {
	checks *syncx.Protected[map[string]HealthFunc]
}

// HealthFunc reports the state of one subsystem. ctx expires after
// [CheckTimeout]. It must be safe for concurrent use.
type HealthFunc func(ctx context.Context) (status string, ok bool)

// RegisterFunc adds a check under name. It panics if name is taken.
func (h *HealthHandler) RegisterFunc(name string, f HealthFunc) {
	h.checks.WriteAccess(func(checks map[string]HealthFunc) {
		if _, dup := checks[name]; dup {
			panic("web: duplicate health check " + name)
		}
		checks[name] = f
	})
}

// HealthResponse is the body of the /health endpoint.
type HealthResponse struct {
	OK     bool                     `json:"ok"`
	Checks map[string]CheckResponse `json:"checks"`
}

// CheckResponse is the result of one check.
type CheckResponse struct {
	Status string `json:"status"`
	OK     bool   `json:"ok"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		RespondJSONError(w, ErrMethodNotAllowed)
		return
	}

	// Checks run outside the lock, they may be slow.
	var checks map[string]HealthFunc
	h.checks.ReadAccess(func(m map[string]HealthFunc) { checks = maps.Clone(m) })

	ctx, cancel := context.WithTimeout(r.Context(), CheckTimeout)
	defer cancel()

	resp := HealthResponse{OK: true, Checks: make(map[string]CheckResponse, len(checks))}
	for name, f := range checks {
		status, ok := f(ctx)
		resp.OK = resp.OK && ok
		resp.Checks[name] = CheckResponse{Status: status, OK: ok}
	}

	if !resp.OK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	RespondJSON(w, resp)
}
