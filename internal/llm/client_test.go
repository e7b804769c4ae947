package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, cfg Config) Client {
	t.Helper()
	if cfg.APIKey == "" {
		cfg.APIKey = "test-key"
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	c, err := NewClient(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func okBody(content, model string) string {
	resp := upstreamResponse{
		ID:    "gen-1",
		Model: model,
		Choices: []upstreamChoice{
			{Message: Message{Role: RoleAssistant, Content: content}, FinishReason: "stop"},
		},
		Usage: &Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(Config{}, zaptest.NewLogger(t)); err == nil {
		t.Fatalf("expected error for missing APIKey, got nil")
	}
	if _, err := NewClient(Config{APIKey: "   "}, zaptest.NewLogger(t)); err == nil {
		t.Fatalf("expected error for whitespace APIKey, got nil")
	}

	badTemp := 2.5
	if _, err := NewClient(Config{APIKey: "k-123456789", DefaultTemperature: &badTemp}, zaptest.NewLogger(t)); err == nil {
		t.Fatalf("expected error for DefaultTemperature out of range, got nil")
	}

	if _, err := NewClient(Config{APIKey: "k-123456789"}, nil); err != nil {
		t.Fatalf("nil logger should be allowed: %v", err)
	}
}

func TestCompleteSuccess(t *testing.T) {
	t.Parallel()

	var gotReq upstreamRequest
	var gotAuth, gotReferer, gotTitle string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}

		gotAuth = r.Header.Get("Authorization")
		gotReferer = r.Header.Get("HTTP-Referer")
		gotTitle = r.Header.Get("X-Title")

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Errorf("unmarshal request: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, okBody("pong", "openai/gpt-4o-mini"))
	}))
	defer srv.Close()

	client := newTestClient(t, Config{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		AppURL:  "https://example.com",
		AppName: "10x-cards",
	})

	temp := 0.3
	maxTokens := 50
	resp, err := client.Complete(context.Background(), CompletionRequest{
		Model:       "openai/gpt-4o-mini",
		Messages:    []Message{{Role: RoleUser, Content: "ping"}},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected Authorization header: %s", gotAuth)
	}
	if gotReferer != "https://example.com" || gotTitle != "10x-cards" {
		t.Fatalf("attribution headers not sent: %q %q", gotReferer, gotTitle)
	}
	if gotReq.Stream {
		t.Fatalf("non-stream request should not set stream=true")
	}
	if gotReq.Model != "openai/gpt-4o-mini" {
		t.Fatalf("unexpected model: %s", gotReq.Model)
	}
	if gotReq.Temperature != 0.3 || gotReq.MaxTokens != 50 {
		t.Fatalf("options not forwarded: temp=%g max_tokens=%d", gotReq.Temperature, gotReq.MaxTokens)
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Content != "ping" {
		t.Fatalf("unexpected request messages: %#v", gotReq.Messages)
	}

	if resp.Content != "pong" {
		t.Fatalf("unexpected content: %q", resp.Content)
	}
	if resp.Model != "openai/gpt-4o-mini" {
		t.Fatalf("unexpected model: %q", resp.Model)
	}
	if resp.FinishReason != FinishStop {
		t.Fatalf("unexpected finish reason: %q", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 5 {
		t.Fatalf("usage not mapped: %#v", resp.Usage)
	}
}

func TestCompletePromptShorthand(t *testing.T) {
	t.Parallel()

	var gotReq upstreamRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Errorf("unmarshal request: %v", err)
		}
		io.WriteString(w, okBody("ok", "m"))
	}))
	defer srv.Close()

	client := newTestClient(t, Config{BaseURL: srv.URL, DefaultModel: "m"})

	if _, err := client.Complete(context.Background(), CompletionRequest{Prompt: "just a prompt"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Role != RoleUser || gotReq.Messages[0].Content != "just a prompt" {
		t.Fatalf("prompt not converted to user message: %#v", gotReq.Messages)
	}
	if gotReq.Temperature != 1.0 {
		t.Fatalf("default temperature not applied: %g", gotReq.Temperature)
	}
}

func TestCompleteRequestShapeRejected(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		io.WriteString(w, okBody("ok", "m"))
	}))
	defer srv.Close()

	client := newTestClient(t, Config{BaseURL: srv.URL, DefaultModel: "m"})

	badTemp := 2.1
	negTokens := -1
	cases := []struct {
		name string
		req  CompletionRequest
	}{
		{"neither prompt nor messages", CompletionRequest{}},
		{"both prompt and messages", CompletionRequest{
			Prompt:   "p",
			Messages: []Message{{Role: RoleUser, Content: "m"}},
		}},
		{"temperature out of range", CompletionRequest{
			Prompt:      "p",
			Temperature: &badTemp,
		}},
		{"non-positive max tokens", CompletionRequest{
			Prompt:    "p",
			MaxTokens: &negTokens,
		}},
		{"invalid role", CompletionRequest{
			Messages: []Message{{Role: "tool", Content: "x"}},
		}},
		{"schema format without schema", CompletionRequest{
			Prompt:         "p",
			ResponseFormat: &ResponseFormat{Type: FormatJSONSchema},
		}},
	}

	for _, tc := range cases {
		_, err := client.Complete(context.Background(), tc.req)
		if !IsCode(err, CodeBadRequest) {
			t.Fatalf("%s: expected bad-request, got %v", tc.name, err)
		}
	}

	_, err := client.Complete(context.Background(), CompletionRequest{Prompt: "p", Model: ""})
	if err != nil {
		t.Fatalf("config default model should apply: %v", err)
	}

	noModel := newTestClient(t, Config{BaseURL: srv.URL})
	if _, err := noModel.Complete(context.Background(), CompletionRequest{Prompt: "p"}); !IsCode(err, CodeBadRequest) {
		t.Fatalf("expected bad-request for missing model, got %v", err)
	}

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 upstream call (the valid one), got %d", got)
	}
}

func TestSystemMessagesMovedToFront(t *testing.T) {
	t.Parallel()

	var gotReq upstreamRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Errorf("unmarshal request: %v", err)
		}
		io.WriteString(w, okBody("ok", "m"))
	}))
	defer srv.Close()

	client := newTestClient(t, Config{BaseURL: srv.URL, DefaultModel: "m"})

	_, err := client.Complete(context.Background(), CompletionRequest{
		Messages: []Message{
			{Role: RoleUser, Content: "u1"},
			{Role: RoleSystem, Content: "s1"},
			{Role: RoleAssistant, Content: "a1"},
			{Role: RoleSystem, Content: "s2"},
			{Role: RoleUser, Content: "u2"},
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	want := []string{"s1", "s2", "u1", "a1", "u2"}
	if len(gotReq.Messages) != len(want) {
		t.Fatalf("unexpected message count: %d", len(gotReq.Messages))
	}
	for i, content := range want {
		if gotReq.Messages[i].Content != content {
			t.Fatalf("messages[%d] = %q, want %q (full: %#v)", i, gotReq.Messages[i].Content, content, gotReq.Messages)
		}
	}
}

func TestCompleteUnauthorizedNoRetry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"bad key","type":"auth_error"}}`)
	}))
	defer srv.Close()

	client := newTestClient(t, Config{BaseURL: srv.URL, DefaultModel: "m", RetryAttempts: 2})

	_, err := client.Complete(context.Background(), CompletionRequest{Prompt: "p"})
	lerr, ok := AsError(err)
	if !ok || lerr.Code != CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if lerr.HTTPStatus != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", lerr.HTTPStatus)
	}
	if lerr.Message != "bad key" {
		t.Fatalf("upstream message not extracted: %q", lerr.Message)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 call for 401, got %d", got)
	}
}

func TestCompleteRetriesServerError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "boom")
	}))
	defer srv.Close()

	client := newTestClient(t, Config{BaseURL: srv.URL, DefaultModel: "m", RetryAttempts: 2})

	_, err := client.Complete(context.Background(), CompletionRequest{Prompt: "p"})
	lerr, ok := AsError(err)
	if !ok || lerr.Code != CodeServerError {
		t.Fatalf("expected server-error, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected retryAttempts+1 = 3 calls, got %d", got)
	}
}

func TestCompleteRetryAfterHonored(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var hits []time.Time

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, time.Now())
		n := len(hits)
		mu.Unlock()

		if n == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		io.WriteString(w, okBody("ok", "m"))
	}))
	defer srv.Close()

	// A large RetryDelay proves the advertised wait replaced the ladder.
	client := newTestClient(t, Config{
		BaseURL:       srv.URL,
		DefaultModel:  "m",
		RetryAttempts: 1,
		RetryDelay:    time.Minute,
	})

	if _, err := client.Complete(context.Background(), CompletionRequest{Prompt: "p"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(hits) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(hits))
	}
	gap := hits[1].Sub(hits[0])
	if gap < 900*time.Millisecond || gap > 5*time.Second {
		t.Fatalf("expected ~1s gap from Retry-After, got %v", gap)
	}
}

func TestCompleteRateLimitExhausted(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"message":"slow down"}}`)
	}))
	defer srv.Close()

	client := newTestClient(t, Config{BaseURL: srv.URL, DefaultModel: "m", RetryAttempts: 1})

	_, err := client.Complete(context.Background(), CompletionRequest{Prompt: "p"})
	lerr, ok := AsError(err)
	if !ok || lerr.Code != CodeRateLimited {
		t.Fatalf("expected rate-limited, got %v", err)
	}
	if lerr.HTTPStatus != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", lerr.HTTPStatus)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 calls, got %d", got)
	}
}

func TestCompleteTimeoutIsRetriedThenNetworkError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	client := newTestClient(t, Config{
		BaseURL:       srv.URL,
		DefaultModel:  "m",
		Timeout:       50 * time.Millisecond,
		RetryAttempts: 1,
	})

	_, err := client.Complete(context.Background(), CompletionRequest{Prompt: "p"})
	if !IsCode(err, CodeNetworkError) {
		t.Fatalf("expected network-error after timeouts, got %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestCompleteConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close() // nothing listens here anymore

	client := newTestClient(t, Config{BaseURL: base, DefaultModel: "m", RetryAttempts: 1})

	_, err := client.Complete(context.Background(), CompletionRequest{Prompt: "p"})
	if !IsCode(err, CodeNetworkError) {
		t.Fatalf("expected network-error, got %v", err)
	}
}

func TestCompleteCancelledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	client := newTestClient(t, Config{BaseURL: srv.URL, DefaultModel: "m"})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := client.Complete(ctx, CompletionRequest{Prompt: "p"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, ok := AsError(err); ok {
		t.Fatalf("caller cancellation must not be classified, got %v", err)
	}
}

func TestCompleteMalformedUpstream(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{"not json", "<html>gateway error</html>"},
		{"no choices", `{"model":"m","choices":[]}`},
		{"no model", `{"choices":[{"message":{"role":"assistant","content":"x"}}]}`},
	}

	for _, tc := range cases {
		body := tc.body
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, body)
		}))

		client := newTestClient(t, Config{BaseURL: srv.URL, DefaultModel: "m"})
		_, err := client.Complete(context.Background(), CompletionRequest{Prompt: "p"})
		if !IsCode(err, CodeInvalidJSON) {
			t.Fatalf("%s: expected invalid-json, got %v", tc.name, err)
		}
		srv.Close()
	}
}

func TestCompleteUsageAndFinishDefaults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"model":"m","choices":[{"message":{"role":"assistant","content":"x"},"finish_reason":"tool_calls"}]}`)
	}))
	defer srv.Close()

	client := newTestClient(t, Config{BaseURL: srv.URL, DefaultModel: "m"})

	resp, err := client.Complete(context.Background(), CompletionRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Usage != (Usage{}) {
		t.Fatalf("usage should default to zero counts, got %#v", resp.Usage)
	}
	if resp.FinishReason != FinishNull {
		t.Fatalf("unrecognized finish reason should map to null, got %q", resp.FinishReason)
	}
}

func TestCompletePaymentRequired(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusPaymentRequired)
		io.WriteString(w, `{"error":{"message":"insufficient credits"}}`)
	}))
	defer srv.Close()

	client := newTestClient(t, Config{BaseURL: srv.URL, DefaultModel: "m", RetryAttempts: 2})

	_, err := client.Complete(context.Background(), CompletionRequest{Prompt: "p"})
	if !IsCode(err, CodePaymentRequired) {
		t.Fatalf("expected payment-required, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("402 must not be retried, got %d calls", got)
	}
}
