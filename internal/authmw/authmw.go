// Package authmw provides HTTP middleware for bearer token authentication.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/linnemanlabs/go-core/log"
)

// Bearer returns middleware that accepts a request when its Authorization
// header carries a Bearer token equal to any of tokens. Several tokens allow
// rotation without downtime. Empty tokens are ignored; with no usable token
// every request is rejected. Comparison is constant-time per token.
func Bearer(tokens ...string) func(http.Handler) http.Handler {
	expected := make([][]byte, 0, len(tokens))
	for _, t := range tokens {
		if t != "" {
			expected = append(expected, []byte(t))
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				deny(w, r, "missing or malformed authorization header")
				return
			}

			got := []byte(auth[len("Bearer "):])
			match := 0
			for _, want := range expected {
				match |= subtle.ConstantTimeCompare(got, want)
			}
			if match != 1 {
				deny(w, r, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, r *http.Request, reason string) {
	log.FromContext(r.Context()).Warn(r.Context(), "request unauthorized", "reason", reason, "path", r.URL.Path)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="arbiter"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + reason + `"}`))
}
