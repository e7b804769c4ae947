package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// Stream is a lazy, single-pass iterator over completion chunks. It is
// not restartable and not safe for concurrent use. Callers must close
// it on every exit path:
//
//	stream, err := client.CompleteStream(ctx, req)
//	if err != nil { ... }
//	defer stream.Close()
//	for {
//		chunk, err := stream.Recv()
//		if err == io.EOF {
//			break
//		}
//		if err != nil { ... }
//		...
//	}
type Stream struct {
	body   io.ReadCloser
	sse    *sseReader
	cancel context.CancelFunc
	logger *zap.Logger

	model      string
	sawContent bool
	chunks     int
	done       bool
	closed     bool
}

// CompleteStream issues a streaming completion. Request construction and
// connection retries are identical to Complete; once the stream is open
// there are no mid-stream retries.
func (c *client) CompleteStream(parentCtx context.Context, req CompletionRequest) (*Stream, error) {
	eff, lerr := req.effective(c.cfg)
	if lerr != nil {
		return nil, lerr
	}

	body, err := json.Marshal(buildPayload(eff, true))
	if err != nil {
		return nil, &Error{Code: CodeBadRequest, Message: "encode request", Cause: err}
	}
	if len(body) > maxRequestSize {
		return nil, badRequest("request too large (%d bytes, max %d)", len(body), maxRequestSize)
	}

	c.logger.Debug("stream starting",
		zap.String("model", eff.model),
		zap.Int("message_count", len(eff.messages)),
	)

	ctx, cancel := context.WithCancel(parentCtx)

	resp, err := c.doWithRetry(ctx, func(ctx context.Context) (*http.Response, error) {
		httpReq, err := c.newRequest(ctx, body)
		if err != nil {
			return nil, err
		}
		return c.httpClient.Do(httpReq)
	})
	if err != nil {
		cancel()
		c.logger.Error("stream connect failed",
			zap.String("model", eff.model),
			zap.Error(err),
		)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		lerr := c.errorFromResponse(resp)
		resp.Body.Close()
		cancel()
		c.logger.Error("upstream rejected stream",
			zap.String("model", eff.model),
			zap.Int("status", resp.StatusCode),
			zap.String("code", string(lerr.Code)),
			zap.String("message", lerr.Message),
		)
		return nil, lerr
	}

	return &Stream{
		body:   resp.Body,
		sse:    newSSEReader(resp.Body),
		cancel: cancel,
		logger: c.logger,
	}, nil
}

// Recv returns the next chunk. The end of the stream is io.EOF; any
// other error is terminal and the stream releases itself. A malformed
// individual event is logged and skipped, never fatal.
func (s *Stream) Recv() (*StreamChunk, error) {
	if s.done || s.closed {
		return nil, io.EOF
	}

	for {
		payload, err := s.sse.next()
		switch {
		case err == errStreamDone:
			s.finish()
			if s.sawContent {
				// The explicit end marker closes the sequence with the
				// last known model and a stop reason.
				return &StreamChunk{Model: s.model, FinishReason: FinishStop}, nil
			}
			return nil, io.EOF
		case err == io.EOF:
			s.logger.Debug("stream ended without done marker",
				zap.Int("chunks", s.chunks),
			)
			s.finish()
			return nil, io.EOF
		case err != nil:
			s.finish()
			return nil, &Error{Code: CodeNetworkError, Message: "read stream", Cause: err}
		}

		var ev upstreamChunk
		if err := json.Unmarshal(payload, &ev); err != nil {
			// One corrupt event must not kill a healthy stream.
			s.logger.Warn("skipping malformed stream event",
				zap.String("event", truncate(string(payload), 120)),
				zap.Error(err),
			)
			continue
		}

		if chunk, ok := s.chunkFromEvent(&ev); ok {
			return chunk, nil
		}
	}
}

// chunkFromEvent maps one decoded event to a StreamChunk. Empty events
// (no delta, no finish reason, no usage) are dropped.
func (s *Stream) chunkFromEvent(ev *upstreamChunk) (*StreamChunk, bool) {
	if s.model == "" && ev.Model != "" {
		s.model = ev.Model
	}

	var delta string
	var finish FinishReason
	if len(ev.Choices) > 0 {
		delta = ev.Choices[0].Delta.Content
		finish = normalizeFinishReason(ev.Choices[0].FinishReason, s.logger)
	}

	if delta == "" && finish == FinishNull && ev.Usage == nil {
		return nil, false
	}

	if delta != "" {
		s.sawContent = true
	}
	s.chunks++

	return &StreamChunk{
		Delta:        delta,
		Model:        s.model,
		FinishReason: finish,
		Usage:        ev.Usage,
	}, true
}

// finish marks the iterator exhausted and releases the connection.
func (s *Stream) finish() {
	s.done = true
	s.release()
}

// Close releases the underlying connection. It is safe to call multiple
// times, after io.EOF, and while the stream is only partly consumed.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.release()
	return nil
}

func (s *Stream) release() {
	if s.body != nil {
		s.body.Close()
		s.body = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
