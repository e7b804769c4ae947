package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const maxRequestSize = 2 * 1024 * 1024 // 2MB total JSON payload

// Complete issues one non-streaming completion and normalizes the result.
// Transport retries happen inside; the returned error is always the
// final classification.
func (c *client) Complete(ctx context.Context, req CompletionRequest) (*Response, error) {
	start := time.Now()

	eff, lerr := req.effective(c.cfg)
	if lerr != nil {
		return nil, lerr
	}

	body, err := json.Marshal(buildPayload(eff, false))
	if err != nil {
		return nil, &Error{Code: CodeBadRequest, Message: "encode request", Cause: err}
	}
	if len(body) > maxRequestSize {
		return nil, badRequest("request too large (%d bytes, max %d)", len(body), maxRequestSize)
	}

	c.logger.Debug("completion starting",
		zap.String("model", eff.model),
		zap.Int("message_count", len(eff.messages)),
	)

	resp, err := c.doWithRetry(ctx, func(ctx context.Context) (*http.Response, error) {
		httpReq, err := c.newRequest(ctx, body)
		if err != nil {
			return nil, err
		}
		return c.httpClient.Do(httpReq)
	})
	if err != nil {
		c.logger.Error("completion failed",
			zap.String("model", eff.model),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		lerr := c.errorFromResponse(resp)
		c.logger.Error("upstream rejected completion",
			zap.String("model", eff.model),
			zap.Int("status", resp.StatusCode),
			zap.String("code", string(lerr.Code)),
			zap.String("message", lerr.Message),
		)
		return nil, lerr
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Code: CodeNetworkError, Message: "read upstream response", Cause: err}
	}

	out, lerr := c.normalizeResponse(raw)
	if lerr != nil {
		c.logger.Error("malformed upstream response",
			zap.String("model", eff.model),
			zap.String("message", lerr.Message),
		)
		return nil, lerr
	}

	if f := eff.format; f != nil && f.Type == FormatJSONSchema {
		if lerr := validateContent(out.Content, f.JSONSchema, c.logger); lerr != nil {
			return nil, lerr
		}
	}

	c.logger.Info("completion finished",
		zap.String("model", out.Model),
		zap.String("finish_reason", string(out.FinishReason)),
		zap.Int("prompt_tokens", out.Usage.PromptTokens),
		zap.Int("completion_tokens", out.Usage.CompletionTokens),
		zap.Duration("duration", time.Since(start)),
	)

	return out, nil
}

// normalizeResponse maps the upstream body into a Response but trusts
// nothing: a body that does not decode, an empty choices array or a
// blank model id all count as malformed upstream content.
func (c *client) normalizeResponse(raw []byte) (*Response, *Error) {
	var ur upstreamResponse
	if err := json.Unmarshal(raw, &ur); err != nil {
		return nil, &Error{
			Code:    CodeInvalidJSON,
			Message: "malformed upstream response",
			Details: truncate(string(raw), 200),
			Cause:   err,
		}
	}

	if len(ur.Choices) == 0 {
		return nil, &Error{
			Code:    CodeInvalidJSON,
			Message: "upstream response has no choices",
			Details: truncate(string(raw), 200),
		}
	}
	if ur.Model == "" {
		return nil, &Error{
			Code:    CodeInvalidJSON,
			Message: "upstream response has no model",
			Details: truncate(string(raw), 200),
		}
	}

	out := &Response{
		Content:      ur.Choices[0].Message.Content,
		Model:        ur.Model,
		FinishReason: normalizeFinishReason(ur.Choices[0].FinishReason, c.logger),
	}
	// Usage defaults to zero counts when upstream omits it.
	if ur.Usage != nil {
		out.Usage = *ur.Usage
	}
	return out, nil
}

// errorFromResponse classifies a non-2xx response into the taxonomy,
// preferring the structured upstream error message when one is present.
// The caller owns closing the body.
func (c *client) errorFromResponse(resp *http.Response) *Error {
	raw, _ := io.ReadAll(resp.Body)

	message := truncate(string(raw), 200)
	var ueb upstreamErrorBody
	if err := json.Unmarshal(raw, &ueb); err == nil && ueb.Error.Message != "" {
		message = ueb.Error.Message
	}

	out := &Error{
		Code:       classifyStatus(resp.StatusCode),
		Message:    message,
		HTTPStatus: resp.StatusCode,
		Details:    truncate(string(raw), 200),
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		out.RetryAfter = parseRetryAfter(resp)
	}
	return out
}

// truncate limits string length for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
