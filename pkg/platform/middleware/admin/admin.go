// Package admin guards operator-only routes with a shared token.
package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"veriface/pkg/platform/httputil"
	"veriface/pkg/requestcontext"
)

// HeaderToken carries the operator token.
const HeaderToken = "X-Ops-Token"

// RequireToken rejects requests whose X-Ops-Token does not match expected.
// An empty expected token rejects everything.
func RequireToken(expected string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(HeaderToken)
			if expected == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "ops token mismatch",
					"request_id", requestcontext.RequestID(ctx),
					"path", r.URL.Path,
				)
				httputil.WriteError(w, http.StatusUnauthorized, "unauthorized", "ops token required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
