package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/piotroramus/10x-cards-sub000/pkg/logging/logging"
)

// Timeout cancels the request context after d and answers 504 when the
// handler has not finished by then. A handler that keeps running after
// the deadline writes into a guard that discards its output, so the
// client never sees two responses interleaved.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			guard := &timeoutWriter{w: w}
			done := make(chan struct{})
			go func() {
				defer close(done)
				next.ServeHTTP(guard, r.WithContext(ctx))
			}()

			select {
			case <-done:
			case <-ctx.Done():
				if !guard.markTimedOut() {
					// Handler finished writing in the same instant.
					return
				}
				logging.L(ctx).Warn("request timed out", zap.Duration("timeout", d))
				writeJSONError(w, http.StatusGatewayTimeout,
					"timeout", "request timed out")
			}
		})
	}
}

// timeoutWriter forwards writes until the deadline response has been
// sent, then swallows anything the abandoned handler still produces.
type timeoutWriter struct {
	w http.ResponseWriter

	mu       sync.Mutex
	timedOut bool
	wrote    bool
}

func (t *timeoutWriter) Header() http.Header {
	return t.w.Header()
}

func (t *timeoutWriter) WriteHeader(status int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timedOut {
		return
	}
	t.wrote = true
	t.w.WriteHeader(status)
}

func (t *timeoutWriter) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timedOut {
		return len(p), nil
	}
	t.wrote = true
	return t.w.Write(p)
}

// markTimedOut flips the guard; it reports false when the handler
// already wrote a response, in which case the 504 must not be sent.
func (t *timeoutWriter) markTimedOut() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.wrote {
		return false
	}
	t.timedOut = true
	return true
}
