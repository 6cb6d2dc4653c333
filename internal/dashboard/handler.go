// Package dashboard serves the browser view of the live vitals stream.
package dashboard

import (
	"io/fs"
	"net/http"
	"strings"
)

// Handler returns an http.Handler that serves the embedded dashboard.
// Unknown paths fall back to index.html; API and operational paths are
// left to their own handlers.
func Handler() http.Handler {
	if distFS == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "dashboard not available (dev mode)", http.StatusNotFound)
		})
	}

	subFS, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("dashboard: failed to create sub filesystem: " + err.Error())
	}

	fileServer := http.FileServer(http.FS(subFS))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isReserved(r.URL.Path) {
			http.NotFound(w, r)
			return
		}

		path := strings.TrimPrefix(r.URL.Path, "/")
		if path == "" {
			path = "index.html"
		}
		if f, err := subFS.Open(path); err == nil {
			f.Close()
			fileServer.ServeHTTP(w, r)
			return
		}

		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	})
}

func isReserved(path string) bool {
	return strings.HasPrefix(path, "/api/") ||
		path == "/healthz" ||
		path == "/readyz" ||
		path == "/metrics"
}

// Routes mounts the dashboard as the catch-all GET route.
type Routes struct{}

// RegisterRoutes implements server.SimpleRouteRegistrar.
func (Routes) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /", Handler())
}
