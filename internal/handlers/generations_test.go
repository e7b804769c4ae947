package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/piotroramus/10x-cards-sub000/internal/auth"
	"github.com/piotroramus/10x-cards-sub000/internal/generation"
	"github.com/piotroramus/10x-cards-sub000/internal/llm"
)

type stubGenerator struct {
	calls    int
	lastText string
	lastUser string
	result   *generation.Result
	err      error
}

func (s *stubGenerator) GenerateProposals(_ context.Context, sourceText, userID string) (*generation.Result, error) {
	s.calls++
	s.lastText = sourceText
	s.lastUser = userID
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func postGeneration(h *GenerationsHandler, body, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/generations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(auth.WithUserID(req.Context(), userID))
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	return rec
}

func decodeErrorCode(t *testing.T, body []byte) string {
	t.Helper()
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("response is not the error envelope: %v (%s)", err, body)
	}
	return envelope.Error.Code
}

func TestGenerationsCreateSuccess(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{result: &generation.Result{
		Proposals: []generation.Proposal{
			{Front: "What is water?", Back: "H2O"},
			{Front: "Boiling point?", Back: "100 C at sea level"},
		},
		Count: 2,
		Model: "openai/gpt-4o-mini",
	}}
	h := NewGenerationsHandler(gen)

	rec := postGeneration(h, `{"source_text":"Water is H2O."}`, "user-1")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp generateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, err := uuid.Parse(resp.GenerationID); err != nil {
		t.Errorf("generation_id %q is not a UUID", resp.GenerationID)
	}
	if resp.Count != 2 || len(resp.Proposals) != 2 {
		t.Fatalf("count = %d, proposals = %d", resp.Count, len(resp.Proposals))
	}
	if p := resp.Proposals[0]; p.Front != "What is water?" || p.Source != "ai-full" {
		t.Errorf("first proposal = %+v", p)
	}
	if gen.lastText != "Water is H2O." || gen.lastUser != "user-1" {
		t.Errorf("orchestrator received (%q, %q)", gen.lastText, gen.lastUser)
	}
}

func TestGenerationsCreateValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{name: "empty body object", body: `{}`, wantCode: "validation"},
		{name: "empty source_text", body: `{"source_text":""}`, wantCode: "validation"},
		{
			name:     "over max length",
			body:     `{"source_text":"` + strings.Repeat("x", 10001) + `"}`,
			wantCode: "validation",
		},
		{name: "not json", body: `{"source_text":`, wantCode: "invalid-body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			gen := &stubGenerator{}
			h := NewGenerationsHandler(gen)

			rec := postGeneration(h, tt.body, "user-1")
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if code := decodeErrorCode(t, rec.Body.Bytes()); code != tt.wantCode {
				t.Errorf("error code = %q, want %q", code, tt.wantCode)
			}
			if gen.calls != 0 {
				t.Errorf("orchestrator was called %d times for an invalid request", gen.calls)
			}
		})
	}
}

func TestGenerationsCreateMaxLengthCountsRunes(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{result: &generation.Result{
		Proposals: []generation.Proposal{{Front: "q", Back: "a"}},
		Count:     1,
		Model:     "m",
	}}
	h := NewGenerationsHandler(gen)

	// 10000 two-byte runes: over the limit in bytes, exactly at it in
	// characters.
	body := `{"source_text":"` + strings.Repeat("ż", 10000) + `"}`
	rec := postGeneration(h, body, "user-1")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}
	if gen.calls != 1 {
		t.Errorf("orchestrator calls = %d, want 1", gen.calls)
	}
}

func TestGenerationsCreateErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantRetry  string
	}{
		{
			name: "quota exhausted",
			err: &generation.Error{
				Category: generation.CategoryQuotaExceeded,
				Attempts: 1,
				Err:      &llm.Error{Code: llm.CodePaymentRequired, HTTPStatus: 402},
			},
			wantStatus: http.StatusPaymentRequired,
			wantCode:   "quota-exceeded",
		},
		{
			name: "rate limited carries retry-after",
			err: &generation.Error{
				Category: generation.CategoryQuotaExceeded,
				Attempts: 1,
				Err:      &llm.Error{Code: llm.CodeRateLimited, HTTPStatus: 429, RetryAfter: 30 * time.Second},
			},
			wantStatus: http.StatusTooManyRequests,
			wantCode:   "rate-limited",
			wantRetry:  "30",
		},
		{
			name: "upstream unavailable",
			err: &generation.Error{
				Category: generation.CategoryUpstreamUnavailable,
				Attempts: 1,
				Err:      &llm.Error{Code: llm.CodeServerError, HTTPStatus: 503},
			},
			wantStatus: http.StatusBadGateway,
			wantCode:   "upstream-unavailable",
		},
		{
			name: "invalid output",
			err: &generation.Error{
				Category: generation.CategoryInvalidOutput,
				Attempts: 3,
				Err:      errors.New("no usable flashcards in model output"),
			},
			wantStatus: http.StatusBadGateway,
			wantCode:   "invalid-output",
		},
		{
			name:       "unexpected error",
			err:        errors.New("wires crossed"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := NewGenerationsHandler(&stubGenerator{err: tt.err})

			rec := postGeneration(h, `{"source_text":"some text"}`, "user-1")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if code := decodeErrorCode(t, rec.Body.Bytes()); code != tt.wantCode {
				t.Errorf("error code = %q, want %q", code, tt.wantCode)
			}
			if got := rec.Header().Get("Retry-After"); got != tt.wantRetry {
				t.Errorf("Retry-After = %q, want %q", got, tt.wantRetry)
			}
		})
	}
}
