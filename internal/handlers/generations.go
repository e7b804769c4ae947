package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/piotroramus/10x-cards-sub000/internal/auth"
	"github.com/piotroramus/10x-cards-sub000/internal/cards"
	"github.com/piotroramus/10x-cards-sub000/internal/generation"
	"github.com/piotroramus/10x-cards-sub000/internal/llm"
	"github.com/piotroramus/10x-cards-sub000/pkg/logging/logging"
)

// Generator produces flashcard proposals from source text.
type Generator interface {
	GenerateProposals(ctx context.Context, sourceText, userID string) (*generation.Result, error)
}

// GenerationsHandler serves POST /api/generations.
type GenerationsHandler struct {
	generator Generator
	validate  *validator.Validate
}

func NewGenerationsHandler(generator Generator) *GenerationsHandler {
	return &GenerationsHandler{
		generator: generator,
		validate:  newValidator(),
	}
}

type generateRequest struct {
	SourceText string `json:"source_text" validate:"required,min=1,max=10000"`
}

type proposalPayload struct {
	Front  string `json:"front"`
	Back   string `json:"back"`
	Source string `json:"source"`
}

type generateResponse struct {
	GenerationID string            `json:"generation_id"`
	Model        string            `json:"model"`
	Count        int               `json:"count"`
	Proposals    []proposalPayload `json:"proposals"`
}

// Create validates the source text, runs the orchestrator and returns
// the proposals. Proposals are ephemeral; saving them is a separate
// POST /api/cards call.
func (h *GenerationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req generateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeValidationError(w, validationDetails(err))
		return
	}

	result, err := h.generator.GenerateProposals(ctx, req.SourceText, auth.UserID(ctx))
	if err != nil {
		h.writeGenerationError(w, r, err)
		return
	}

	resp := generateResponse{
		GenerationID: uuid.NewString(),
		Model:        result.Model,
		Count:        result.Count,
		Proposals:    make([]proposalPayload, 0, len(result.Proposals)),
	}
	for _, p := range result.Proposals {
		resp.Proposals = append(resp.Proposals, proposalPayload{
			Front:  p.Front,
			Back:   p.Back,
			Source: cards.SourceAIFull,
		})
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *GenerationsHandler) writeGenerationError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	if ctx.Err() != nil {
		// The timeout middleware answered or the client went away;
		// either way this request is over.
		return
	}

	genErr, ok := generation.AsError(err)
	if !ok {
		logging.L(ctx).Error("generation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	switch genErr.Category {
	case generation.CategoryQuotaExceeded:
		if gwErr, ok := llm.AsError(genErr.Err); ok && gwErr.Code == llm.CodeRateLimited {
			if gwErr.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(gwErr.RetryAfter.Seconds())))
			}
			writeError(w, http.StatusTooManyRequests,
				"rate-limited", "the model provider is rate limiting requests, try again later")
			return
		}
		writeError(w, http.StatusPaymentRequired,
			"quota-exceeded", "the model provider rejected the request for billing reasons")
	case generation.CategoryInvalidOutput:
		writeError(w, http.StatusBadGateway,
			"invalid-output", "the model did not produce usable flashcards")
	default:
		writeError(w, http.StatusBadGateway,
			"upstream-unavailable", "the model provider is unavailable, try again later")
	}
}
