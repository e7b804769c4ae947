package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/piotroramus/10x-cards-sub000/internal/metrics"
)

// retryableStatuses is the exact set of upstream statuses worth another
// attempt. Everything else fails fast.
var retryableStatuses = map[int]bool{
	http.StatusTooManyRequests:     true, // 429
	http.StatusInternalServerError: true, // 500
	http.StatusBadGateway:          true, // 502
	http.StatusServiceUnavailable:  true, // 503
	http.StatusGatewayTimeout:      true, // 504
}

// doWithRetry performs the HTTP exchange up to RetryAttempts+1 times.
//   - Retries on transient network errors (timeouts included) and on the
//     retryable status set; per-attempt timeouts come from the HTTP
//     client, so a timed-out attempt still leaves budget for the next.
//   - A 429 carrying a parseable Retry-After sleeps exactly the
//     advertised duration instead of the backoff ladder.
//   - Otherwise sleeps RetryDelay * 2^attempt between attempts.
//   - Caller cancellation is never retried and surfaces as the context
//     error itself.
//
// On success or a non-retryable status the response is returned for the
// caller to classify; when the budget runs out on a retryable status the
// final response is returned the same way. Network-level exhaustion
// yields a network-error.
func (c *client) doWithRetry(ctx context.Context, do func(ctx context.Context) (*http.Response, error)) (*http.Response, error) {
	maxAttempts := c.cfg.RetryAttempts + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		resp, err := do(ctx)
		duration := time.Since(start)

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		metrics.ObserveUpstreamAttempt(status, duration)

		c.logger.Debug("upstream attempt",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxAttempts),
			zap.Int("status", status),
			zap.Duration("duration", duration),
			zap.Error(err),
		)

		var retryAfter time.Duration

		if err != nil {
			// Caller gone: stop immediately, whatever the attempt saw.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !isTransientNetError(err) {
				return nil, &Error{
					Code:    CodeNetworkError,
					Message: "upstream request failed",
					Cause:   err,
				}
			}
			lastErr = err
		} else if !retryableStatuses[status] {
			return resp, nil
		} else {
			lastErr = errors.New("upstream status " + strconv.Itoa(status))

			if attempt == maxAttempts-1 {
				// Budget exhausted: hand the final response to the
				// caller for classification.
				return resp, nil
			}

			if status == http.StatusTooManyRequests {
				retryAfter = parseRetryAfter(resp)
			}
			resp.Body.Close()
		}

		if attempt == maxAttempts-1 {
			break
		}

		wait := c.backoff(attempt)
		if retryAfter > 0 {
			// Advertised wait replaces the ladder for this gap.
			wait = retryAfter
			c.logger.Info("honoring Retry-After header",
				zap.Duration("wait", wait),
			)
		} else {
			c.logger.Debug("backing off before retry",
				zap.Duration("backoff", wait),
				zap.Int("next_attempt", attempt+2),
			)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	c.logger.Warn("upstream unreachable, retries exhausted",
		zap.Int("attempts", maxAttempts),
		zap.Error(lastErr),
	)

	return nil, &Error{
		Code:    CodeNetworkError,
		Message: "upstream unreachable after " + strconv.Itoa(maxAttempts) + " attempts",
		Cause:   lastErr,
	}
}

// backoff returns the deterministic delay before the next attempt:
// RetryDelay * 2^attempt, capped at one minute.
func (c *client) backoff(attempt int) time.Duration {
	base := c.cfg.RetryDelay
	if base <= 0 {
		base = time.Second
	}

	const maxExponent = 10
	if attempt > maxExponent {
		attempt = maxExponent
	}

	d := base << uint(attempt)

	const maxBackoff = 60 * time.Second
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	return d
}

// isTransientNetError determines whether a network error is worth retrying.
func isTransientNetError(err error) bool {
	if err == nil {
		return false
	}

	// Timeout errors are always retryable; this covers the HTTP
	// client's per-attempt timeout as well.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary || dnsErr.IsNotFound
	}

	// Connection errors (service might be restarting).
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" || opErr.Op == "read" || opErr.Op == "write" {
			return true
		}
	}

	// Last resort for errors wrapped beyond recognition.
	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"temporary failure",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// parseRetryAfter extracts the retry delay from a Retry-After header.
// Returns 0 if the header is missing or invalid.
//
// Retry-After can be:
// - Number of seconds: "120"
// - HTTP date: "Wed, 21 Oct 2015 07:28:00 GMT"
func parseRetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}

	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	const maxRetryAfter = 5 * time.Minute

	if seconds, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil {
		if seconds <= 0 {
			return 0
		}
		d := time.Duration(seconds) * time.Second
		if d > maxRetryAfter {
			d = maxRetryAfter
		}
		return d
	}

	if t, err := http.ParseTime(retryAfter); err == nil {
		d := time.Until(t)
		if d <= 0 {
			return 0
		}
		if d > maxRetryAfter {
			d = maxRetryAfter
		}
		return d
	}

	return 0
}
