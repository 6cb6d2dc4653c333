package server

import "net/http"

// ReadOnlyMiddleware rejects every request that could change state. Only
// GET, HEAD and OPTIONS pass; acknowledgments and clears get 405.
func ReadOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
		default:
			MethodNotAllowed(w, "server is read-only", r.URL.Path)
		}
	})
}
