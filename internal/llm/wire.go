package llm

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
)

const completionsPath = "/chat/completions"

// Request shape for the upstream chat completions endpoint (OpenAI
// style, as served by OpenRouter).
type upstreamRequest struct {
	Model          string                 `json:"model"`
	Messages       []Message              `json:"messages"`
	Temperature    float64                `json:"temperature"`
	MaxTokens      int                    `json:"max_tokens,omitempty"`
	Stop           []string               `json:"stop,omitempty"`
	ResponseFormat *upstreamFormat        `json:"response_format,omitempty"`
	Stream         bool                   `json:"stream,omitempty"`
	StreamOptions  *upstreamStreamOptions `json:"stream_options,omitempty"`
}

type upstreamFormat struct {
	Type       string              `json:"type"`
	JSONSchema *upstreamJSONSchema `json:"json_schema,omitempty"`
}

type upstreamJSONSchema struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type upstreamStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type upstreamChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type upstreamResponse struct {
	ID      string           `json:"id"`
	Model   string           `json:"model"`
	Choices []upstreamChoice `json:"choices"`
	Usage   *Usage           `json:"usage,omitempty"`
}

// Chunk shape for streaming responses (each SSE "data:" event).
type upstreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role    string `json:"role,omitempty"`
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *Usage `json:"usage,omitempty"`
}

type upstreamErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func buildPayload(eff effectiveRequest, stream bool) upstreamRequest {
	out := upstreamRequest{
		Model:       eff.model,
		Messages:    eff.messages,
		Temperature: eff.temperature,
		MaxTokens:   eff.maxTokens,
		Stop:        eff.stop,
		Stream:      stream,
	}
	if eff.format != nil {
		out.ResponseFormat = &upstreamFormat{Type: eff.format.Type}
		if s := eff.format.JSONSchema; s != nil {
			out.ResponseFormat.JSONSchema = &upstreamJSONSchema{
				Name:   s.Name,
				Strict: s.Strict,
				Schema: s.Schema,
			}
		}
	}
	if stream {
		out.StreamOptions = &upstreamStreamOptions{IncludeUsage: true}
	}
	return out
}

// newRequest builds a fresh *http.Request for one attempt. OpenRouter
// recognizes the HTTP-Referer and X-Title attribution headers.
func (c *client) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	url := c.cfg.BaseURL + completionsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llmclient: build HTTP request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.AppURL != "" {
		req.Header.Set("HTTP-Referer", c.cfg.AppURL)
	}
	if c.cfg.AppName != "" {
		req.Header.Set("X-Title", c.cfg.AppName)
	}
	return req, nil
}
