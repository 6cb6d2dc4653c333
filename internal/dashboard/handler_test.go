package dashboard

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandler_ServesAssets(t *testing.T) {
	handler := Handler()

	tests := []struct {
		name     string
		path     string
		wantType string
		wantBody string
	}{
		{"root path", "/", "text/html", "<title>BananaPuck</title>"},
		{"script", "/app.js", "javascript", "/api/v1/ws/vitals"},
		{"stylesheet", "/style.css", "text/css", ".card"},
		{"unknown path falls back", "/alerts/hr", "text/html", "<title>BananaPuck</title>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, http.NoBody)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, tt.wantType) {
				t.Errorf("Content-Type = %q, want %s", ct, tt.wantType)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body does not contain %q", tt.wantBody)
			}
		})
	}
}

func TestHandler_ExcludesAPIRoutes(t *testing.T) {
	handler := Handler()

	apiPaths := []string{
		"/api/v1/health",
		"/api/v1/vitals/current",
		"/api/v1/ws/vitals",
		"/healthz",
		"/readyz",
		"/metrics",
	}

	for _, path := range apiPaths {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			// API routes should return 404 from the dashboard handler
			// so that the actual API handlers can process them.
			if rec.Code != http.StatusNotFound {
				t.Errorf("expected 404 for API route %s, got %d", path, rec.Code)
			}
		})
	}
}

func TestRoutes_MountsCatchAll(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	Routes{}.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", http.NoBody))
	if rec.Code != http.StatusTeapot {
		t.Errorf("more specific route lost to dashboard: status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Errorf("GET / status = %d, want 200", rec.Code)
	}
}
