// Package generation turns source text into flashcard proposals by
// orchestrating completion calls against the LLM gateway client.
//
// The gateway client already retries transport faults, so this layer
// never does: a transport failure terminates the run immediately and is
// re-raised under one of the domain categories. What the orchestrator
// does retry is semantic failure, where the upstream answered but the
// content does not satisfy the flashcard contract.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/piotroramus/10x-cards-sub000/internal/analytics"
	"github.com/piotroramus/10x-cards-sub000/internal/llm"
	"github.com/piotroramus/10x-cards-sub000/internal/metrics"
)

// originAIFull tags proposals and analytics events produced entirely by
// the model, as opposed to user-edited or manual cards.
const originAIFull = "ai-full"

// Category classifies a terminal generation failure.
type Category string

const (
	// CategoryQuotaExceeded covers payment and rate-limit rejections.
	CategoryQuotaExceeded Category = "quota-exceeded"
	// CategoryUpstreamUnavailable covers every other transport failure.
	CategoryUpstreamUnavailable Category = "upstream-unavailable"
	// CategoryInvalidOutput means the upstream kept answering with
	// content that never satisfied the flashcard contract.
	CategoryInvalidOutput Category = "invalid-output"
)

// Error is the terminal failure of a generation run. Attempts counts
// upstream calls made before giving up; Err carries the last gateway
// error for callers that need the underlying classification.
type Error struct {
	Category Category
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("generation %s after %d attempts: %v", e.Category, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// AsError unwraps err looking for a generation *Error.
func AsError(err error) (*Error, bool) {
	var genErr *Error
	if errors.As(err, &genErr) {
		return genErr, true
	}
	return nil, false
}

// Proposal is an ephemeral flashcard candidate, not yet persisted.
type Proposal struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

// Result is a successful generation run.
type Result struct {
	Proposals []Proposal `json:"proposals"`
	Count     int        `json:"count"`
	Model     string     `json:"model"`
}

// Options tunes the orchestrator. Zero fields take the documented
// defaults.
type Options struct {
	// Model overrides the gateway client's default model when set.
	Model string

	// MaxRetries is the number of additional attempts after a semantic
	// failure. Defaults to 2, so up to 3 upstream calls per run.
	MaxRetries int

	// MaxProposals caps the returned list. Defaults to 5.
	MaxProposals int

	// MaxFrontLen and MaxBackLen bound accepted card sides, in runes.
	// Default to 200 and 500.
	MaxFrontLen int
	MaxBackLen  int
}

func (o Options) withDefaults() Options {
	if o.MaxRetries == 0 {
		o.MaxRetries = 2
	}
	if o.MaxProposals == 0 {
		o.MaxProposals = 5
	}
	if o.MaxFrontLen == 0 {
		o.MaxFrontLen = 200
	}
	if o.MaxBackLen == 0 {
		o.MaxBackLen = 500
	}
	return o
}

// Service generates flashcard proposals from source text.
type Service struct {
	client    llm.Client
	analytics analytics.Sink
	logger    *zap.Logger
	opts      Options
}

func NewService(client llm.Client, sink analytics.Sink, logger *zap.Logger, opts Options) (*Service, error) {
	if client == nil {
		return nil, errors.New("generation: llm client is required")
	}
	if sink == nil {
		sink = analytics.NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		client:    client,
		analytics: sink,
		logger:    logger.Named("generation"),
		opts:      opts.withDefaults(),
	}, nil
}

// GenerateProposals runs the attempt loop for one piece of source text.
// Callers guarantee sourceText is within the accepted length bounds.
// Context cancellation surfaces as the raw context error.
func (s *Service) GenerateProposals(ctx context.Context, sourceText, userID string) (*Result, error) {
	maxAttempts := s.opts.MaxRetries + 1
	req := s.buildRequest(sourceText)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attempts := attempt + 1

		resp, err := s.client.Complete(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			category, retryable := classifyGatewayError(err)
			if !retryable {
				return nil, s.fail(category, attempts, err)
			}
			lastErr = err
			s.logger.Warn("model output unusable, retrying",
				zap.Int("attempt", attempts),
				zap.Error(err))
			continue
		}

		proposals, err := s.parseProposals(resp.Content)
		if err != nil {
			lastErr = err
			s.logger.Warn("model output unusable, retrying",
				zap.Int("attempt", attempts),
				zap.Error(err))
			continue
		}

		result := &Result{Proposals: proposals, Count: len(proposals), Model: resp.Model}
		metrics.ObserveGeneration("success")
		s.logger.Info("generated flashcard proposals",
			zap.Int("count", result.Count),
			zap.String("model", resp.Model),
			zap.Int("attempts", attempts),
			zap.String("user_id", userID))
		s.analytics.Track(ctx, analytics.Event{
			UserID: userID,
			Type:   analytics.TypeFlashcardsGenerated,
			Source: originAIFull,
			Properties: map[string]any{
				"count":              result.Count,
				"model":              resp.Model,
				"source_text_length": utf8.RuneCountInString(sourceText),
			},
		})
		return result, nil
	}

	return nil, s.fail(CategoryInvalidOutput, maxAttempts, lastErr)
}

func (s *Service) fail(category Category, attempts int, err error) *Error {
	metrics.ObserveGeneration(string(category))
	s.logger.Error("generation failed",
		zap.String("category", string(category)),
		zap.Int("attempts", attempts),
		zap.Error(err))
	return &Error{Category: category, Attempts: attempts, Err: err}
}

// classifyGatewayError decides whether a gateway error ends the run and
// under which category, or whether it is a semantic failure worth
// another attempt.
func classifyGatewayError(err error) (Category, bool) {
	gwErr, ok := llm.AsError(err)
	if !ok {
		return CategoryUpstreamUnavailable, false
	}
	switch gwErr.Code {
	case llm.CodePaymentRequired, llm.CodeRateLimited:
		return CategoryQuotaExceeded, false
	case llm.CodeInvalidJSON, llm.CodeSchemaValidation:
		return "", true
	default:
		return CategoryUpstreamUnavailable, false
	}
}

// parseProposals extracts usable flashcards from model output. The
// envelope must be a JSON object with a flashcards array; entries that
// are not objects with string front/back within the length bounds are
// dropped rather than failing the batch, and the survivors are capped
// at MaxProposals in their original order.
func (s *Service) parseProposals(content string) ([]Proposal, error) {
	var envelope struct {
		Flashcards *json.RawMessage `json:"flashcards"`
	}
	if err := json.Unmarshal([]byte(content), &envelope); err != nil {
		return nil, fmt.Errorf("decode model output: %w", err)
	}
	if envelope.Flashcards == nil {
		return nil, errors.New("model output has no flashcards field")
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(*envelope.Flashcards, &entries); err != nil {
		return nil, fmt.Errorf("flashcards is not an array: %w", err)
	}

	proposals := make([]Proposal, 0, len(entries))
	for _, raw := range entries {
		var p Proposal
		if err := json.Unmarshal(raw, &p); err != nil {
			continue
		}
		if n := utf8.RuneCountInString(p.Front); n == 0 || n > s.opts.MaxFrontLen {
			continue
		}
		if n := utf8.RuneCountInString(p.Back); n == 0 || n > s.opts.MaxBackLen {
			continue
		}
		proposals = append(proposals, p)
	}
	if len(proposals) == 0 {
		return nil, errors.New("no usable flashcards in model output")
	}
	if len(proposals) > s.opts.MaxProposals {
		proposals = proposals[:s.opts.MaxProposals]
	}
	return proposals, nil
}
