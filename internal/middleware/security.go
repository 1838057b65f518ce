package middleware

import "net/http"

// SecureHeaders adds standard security headers. Autoplay is allowed for the
// stimulus player; capture devices are not.
func SecureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Permissions-Policy", "autoplay=(self), camera=(), microphone=(), geolocation=()")
		next.ServeHTTP(w, r)
	})
}
