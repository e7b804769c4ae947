package llm

import (
	"context"

	"go.uber.org/zap"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FinishReason is the normalized reason the model stopped generating.
// Unrecognized upstream values map to FinishNull.
type FinishReason string

const (
	FinishNull          FinishReason = ""
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
)

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

const (
	FormatJSONObject = "json_object"
	FormatJSONSchema = "json_schema"
)

// ResponseFormat asks the upstream for structured output.
type ResponseFormat struct {
	Type       string
	JSONSchema *JSONSchema // required when Type == FormatJSONSchema
}

// JSONSchema names a schema document for structured output. Schema is a
// plain JSON Schema map; only the top-level type, required and
// additionalProperties keywords are enforced on the response content,
// and only when Strict is set. Non-strict mismatches are logged and let
// through.
type JSONSchema struct {
	Name   string
	Strict bool
	Schema map[string]any
}

// CompletionRequest describes one upstream call. Exactly one of Prompt
// and Messages must be set; Prompt is shorthand for a single user
// message. Nil pointer fields fall back to the client config defaults.
type CompletionRequest struct {
	Prompt   string
	Messages []Message

	Model          string
	Temperature    *float64
	MaxTokens      *int
	Stop           []string
	ResponseFormat *ResponseFormat
}

type Response struct {
	Content      string
	Model        string
	Usage        Usage
	FinishReason FinishReason
}

// StreamChunk is one increment of a streamed completion. Usage rides
// only on the terminal chunk.
type StreamChunk struct {
	Delta        string
	Model        string
	FinishReason FinishReason
	Usage        *Usage
}

type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*Response, error)
	CompleteStream(ctx context.Context, req CompletionRequest) (*Stream, error)
	Config() Config
	Close() error
}

// effectiveRequest is a CompletionRequest after defaults and validation.
type effectiveRequest struct {
	messages    []Message
	model       string
	temperature float64
	maxTokens   int // 0 = omit
	stop        []string
	format      *ResponseFormat
}

// effective validates the request shape and resolves config fallbacks.
// All failures here are bad-request and happen before any network call.
func (r CompletionRequest) effective(cfg Config) (effectiveRequest, *Error) {
	var eff effectiveRequest

	switch {
	case r.Prompt != "" && len(r.Messages) > 0:
		return eff, badRequest("prompt and messages are mutually exclusive")
	case r.Prompt == "" && len(r.Messages) == 0:
		return eff, badRequest("either prompt or messages is required")
	}

	if r.Prompt != "" {
		eff.messages = []Message{{Role: RoleUser, Content: r.Prompt}}
	} else {
		for i, m := range r.Messages {
			switch m.Role {
			case RoleSystem, RoleUser, RoleAssistant:
			default:
				return eff, badRequest("invalid role %q in messages[%d]", m.Role, i)
			}
		}
		eff.messages = orderMessages(r.Messages)
	}

	eff.model = r.Model
	if eff.model == "" {
		eff.model = cfg.DefaultModel
	}
	if eff.model == "" {
		return eff, badRequest("model is required")
	}

	eff.temperature = 1.0
	switch {
	case r.Temperature != nil:
		eff.temperature = *r.Temperature
	case cfg.DefaultTemperature != nil:
		eff.temperature = *cfg.DefaultTemperature
	}
	if eff.temperature < 0 || eff.temperature > 2 {
		return eff, badRequest("temperature %g out of range [0, 2]", eff.temperature)
	}

	switch {
	case r.MaxTokens != nil:
		if *r.MaxTokens <= 0 {
			return eff, badRequest("max_tokens must be positive, got %d", *r.MaxTokens)
		}
		eff.maxTokens = *r.MaxTokens
	case cfg.DefaultMaxTokens > 0:
		eff.maxTokens = cfg.DefaultMaxTokens
	}

	eff.stop = r.Stop

	if f := r.ResponseFormat; f != nil {
		switch f.Type {
		case FormatJSONObject:
		case FormatJSONSchema:
			if f.JSONSchema == nil {
				return eff, badRequest("response format %q requires a schema", f.Type)
			}
		default:
			return eff, badRequest("unsupported response format %q", f.Type)
		}
		eff.format = f
	}

	return eff, nil
}

// orderMessages moves system messages ahead of the rest, preserving
// relative order within each group.
func orderMessages(msgs []Message) []Message {
	system := 0
	for _, m := range msgs {
		if m.Role == RoleSystem {
			system++
		}
	}
	if system == 0 || system == len(msgs) {
		return msgs
	}

	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem {
			out = append(out, m)
		}
	}
	for _, m := range msgs {
		if m.Role != RoleSystem {
			out = append(out, m)
		}
	}
	return out
}

func normalizeFinishReason(raw string, logger *zap.Logger) FinishReason {
	switch raw {
	case "", "null":
		return FinishNull
	case string(FinishStop):
		return FinishStop
	case string(FinishLength):
		return FinishLength
	case string(FinishContentFilter):
		return FinishContentFilter
	default:
		if logger != nil {
			logger.Warn("unrecognized finish reason", zap.String("finish_reason", raw))
		}
		return FinishNull
	}
}
