package web

import (
	"net/http"
	"strings"
)

// HTTPProtocolMiddleware stops browsers from upgrading to HTTP/3, which breaks
// long lived event streams behind some proxies
func HTTPProtocolMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Disable HTTP/3 QUIC protocol advertising globally
		w.Header().Set("Alt-Svc", "clear")

		// Session update streams
		if strings.HasPrefix(r.URL.Path, "/events") {
			w.Header().Set("Connection", "keep-alive")
			w.Header().Set("X-Force-HTTP1", "true")
			w.Header().Set("Upgrade", "")
		}

		next.ServeHTTP(w, r)
	})
}

// WrapMuxWithMiddleware wraps the combined API and web mux
func WrapMuxWithMiddleware(mux *http.ServeMux) http.Handler {
	return HTTPProtocolMiddleware(mux)
}
