package middleware

import (
	"net/http"
	"time"

	"k8s.io/utils/clock"
)

const ServerTimeHeader = "X-Server-Time"

// ServerTime stamps every response with the server's clock so clients can
// correct for their own skew.
func ServerTime(clk clock.PassiveClock) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(ServerTimeHeader, clk.Now().UTC().Format(time.RFC3339Nano))
			next.ServeHTTP(w, r)
		})
	}
}

// NoStore keeps intermediaries from caching responses that are already
// cached server side with their own TTL.
func NoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
