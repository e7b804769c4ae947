package middleware

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/piotroramus/10x-cards-sub000/pkg/logging/logging"
)

// LoggingContext attaches a request-scoped logger to the context so
// handlers and deeper layers log with the request's identity attached.
func LoggingContext(baseLogger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			reqLogger := baseLogger.With(
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			if reqID := chimw.GetReqID(ctx); reqID != "" {
				reqLogger = reqLogger.With(zap.String("request_id", reqID))
			}
			// RemoteAddr is rewritten by chi's RealIP when it runs first.
			if r.RemoteAddr != "" {
				reqLogger = reqLogger.With(zap.String("remote_ip", r.RemoteAddr))
			}

			next.ServeHTTP(w, r.WithContext(logging.WithLogger(ctx, reqLogger)))
		})
	}
}
