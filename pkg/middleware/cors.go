package middleware

import (
	"net/http"
	"os"
	"strings"
)

// CORS handles cross-origin requests and OPTIONS preflights against the
// allowed origin list. An empty list falls back to the ENGINE_ORIGINS
// environment variable; when that is unset too, CORS handling is disabled
// entirely and requests pass through untouched.
func CORS(allowedOrigins []string, next http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = originsFromEnv()
	}
	if allowedOrigins == nil {
		return next
	}

	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		originOK := origin != "" && (allowAll || contains(allowed, origin))

		if originOK {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}

		if r.Method == http.MethodOptions {
			// Preflights without a valid origin fall through to the router
			// for its usual 404/405 answers.
			if !originOK {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "*")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func contains(set map[string]struct{}, origin string) bool {
	_, ok := set[origin]
	return ok
}

// originsFromEnv reads the comma-separated ENGINE_ORIGINS variable. nil
// means no origins are allowed.
func originsFromEnv() (origins []string) {
	raw := os.Getenv("ENGINE_ORIGINS")
	if raw == "" {
		return nil
	}
	for _, o := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
