package http

import (
	"net/http"
	"os"

	"leadscout/internal/auth"
)

// requireToken guards a route group with a bearer token from the named env
// var. Tokens are compared by sha256 digest.
func requireToken(envVar string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			want := os.Getenv(envVar)
			got := r.Header.Get("Authorization")
			if want == "" || len(got) < 8 || got[:7] != "Bearer " ||
				auth.HashToken(got[7:]) != auth.HashToken(want) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))

				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAPIToken protects admin endpoints (run control, reads).
func RequireAPIToken(next http.Handler) http.Handler {
	return requireToken("API_TOKEN")(next)
}

// RequireIngestToken protects lead ingestion.
func RequireIngestToken(next http.Handler) http.Handler {
	return requireToken("INGEST_TOKEN")(next)
}
