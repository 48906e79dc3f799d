// Package middleware carries the HTTP middleware in front of the engine
// routes: path aliasing for clients that omit the engine prefix, and CORS
// handling for browser clients.
package middleware

import (
	"net/http"

	"github.com/edgehive/engine-runner/pkg/engine"
)

// AliasHandler prepends the engine prefix to incoming request paths, so
// /v1/chat reaches /engine/v1/chat. Mount it under the aliased subtree.
type AliasHandler struct {
	Handler http.Handler
}

// ServeHTTP implements http.Handler.ServeHTTP.
func (h *AliasHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r2 := r.Clone(r.Context())
	r2.URL.Path = engine.APIPrefix + r.URL.Path

	h.Handler.ServeHTTP(w, r2)
}
