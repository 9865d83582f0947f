package middleware

import "net/http"

type routeSetter interface {
	SetRoute(string)
}

// WithRoute labels the response with pattern so metrics group by route
// instead of raw path.
func WithRoute(pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if setter, ok := w.(routeSetter); ok {
			setter.SetRoute(pattern)
		}
		next.ServeHTTP(w, r)
	})
}
