package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/piotroramus/10x-cards-sub000/pkg/logging/logging"
)

// Recoverer turns handler panics into logged 500 responses.
func Recoverer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logging.L(r.Context()).Error("panic recovered",
						zap.Any("error", rec),
						zap.ByteString("stack", debug.Stack()),
					)
					writeJSONError(w, http.StatusInternalServerError,
						"internal", "internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
