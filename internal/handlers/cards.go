package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/piotroramus/10x-cards-sub000/internal/analytics"
	"github.com/piotroramus/10x-cards-sub000/internal/auth"
	"github.com/piotroramus/10x-cards-sub000/internal/cards"
	"github.com/piotroramus/10x-cards-sub000/pkg/logging/logging"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CardsHandler serves the /api/cards CRUD routes.
type CardsHandler struct {
	store     cards.Store
	analytics analytics.Sink
	validate  *validator.Validate
}

func NewCardsHandler(store cards.Store, sink analytics.Sink) *CardsHandler {
	if sink == nil {
		sink = analytics.NopSink{}
	}
	return &CardsHandler{
		store:     store,
		analytics: sink,
		validate:  newValidator(),
	}
}

type cardPayload struct {
	Front        string `json:"front" validate:"required,max=200"`
	Back         string `json:"back" validate:"required,max=500"`
	Source       string `json:"source" validate:"required,oneof=ai-full ai-edited manual"`
	GenerationID string `json:"generation_id" validate:"omitempty,uuid4"`
}

type createCardsRequest struct {
	Cards []cardPayload `json:"cards" validate:"required,min=1,max=100,dive"`
}

type updateCardRequest struct {
	Front string `json:"front" validate:"required,max=200"`
	Back  string `json:"back" validate:"required,max=500"`
}

type listCardsResponse struct {
	Cards    []cards.Card `json:"cards"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
	Total    int          `json:"total"`
}

// Create handles POST /api/cards: accepts a batch of cards the user
// decided to keep, whether generated, edited or written by hand.
func (h *CardsHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createCardsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeValidationError(w, validationDetails(err))
		return
	}

	userID := auth.UserID(ctx)
	now := time.Now().UTC()
	batch := make([]cards.Card, 0, len(req.Cards))
	for _, c := range req.Cards {
		batch = append(batch, cards.Card{
			ID:           uuid.NewString(),
			UserID:       userID,
			Front:        c.Front,
			Back:         c.Back,
			Source:       c.Source,
			GenerationID: c.GenerationID,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	if err := h.store.Insert(ctx, batch); err != nil {
		logging.L(ctx).Error("failed to save cards", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "could not save cards")
		return
	}

	h.analytics.Track(ctx, analytics.Event{
		UserID: userID,
		Type:   analytics.TypeFlashcardsSaved,
		Properties: map[string]any{
			"count": len(batch),
		},
	})

	writeJSON(w, http.StatusCreated, map[string]any{"cards": batch})
}

// List handles GET /api/cards?page=&page_size=. Out-of-range paging
// parameters are clamped, not rejected.
func (h *CardsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	pageSize := queryInt(r, "page_size", defaultPageSize)
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	items, total, err := h.store.List(ctx, auth.UserID(ctx), page, pageSize)
	if err != nil {
		logging.L(ctx).Error("failed to list cards", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "could not list cards")
		return
	}
	if items == nil {
		items = []cards.Card{}
	}

	writeJSON(w, http.StatusOK, listCardsResponse{
		Cards:    items,
		Page:     page,
		PageSize: pageSize,
		Total:    total,
	})
}

// Update handles PUT /api/cards/{cardID}.
func (h *CardsHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cardID := chi.URLParam(r, "cardID")

	var req updateCardRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeValidationError(w, validationDetails(err))
		return
	}

	card, err := h.store.Update(ctx, auth.UserID(ctx), cardID, req.Front, req.Back)
	if errors.Is(err, cards.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not-found", "card not found")
		return
	}
	if err != nil {
		logging.L(ctx).Error("failed to update card", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "could not update card")
		return
	}

	writeJSON(w, http.StatusOK, card)
}

// Delete handles DELETE /api/cards/{cardID}.
func (h *CardsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cardID := chi.URLParam(r, "cardID")

	err := h.store.Delete(ctx, auth.UserID(ctx), cardID)
	if errors.Is(err, cards.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not-found", "card not found")
		return
	}
	if err != nil {
		logging.L(ctx).Error("failed to delete card", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "could not delete card")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
