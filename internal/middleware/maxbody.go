package middleware

import "net/http"

// MaxBodySize caps request bodies at limit bytes. Oversized requests
// announcing their length are rejected up front; chunked uploads are
// capped with http.MaxBytesReader, which surfaces as a decode error in
// the handler once the limit is crossed.
func MaxBodySize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				writeJSONError(w, http.StatusRequestEntityTooLarge,
					"body-too-large", "request body exceeds the allowed size")
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
