package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// mockProvider implements Provider for testing
type mockProvider struct {
	name    string
	errs    []error
	content string
	calls   int
}

func (m *mockProvider) Name() string     { return m.name }
func (m *mockProvider) GetModel() string { return "mock" }
func (m *mockProvider) IsReady() bool    { return true }

func (m *mockProvider) Chat(ctx context.Context, msgs []Message) (string, error) {
	m.calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", err
	}
	return m.content, nil
}

func chatServer(t *testing.T, status int, body string, check func(*http.Request, openAIChatRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openAIChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if check != nil {
			check(r, req)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const okBody = `{"id":"x","choices":[{"message":{"content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1}}`

func TestOpenAIChat(t *testing.T) {
	srv := chatServer(t, http.StatusOK, okBody, func(r *http.Request, req openAIChatRequest) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("OpenAI-Organization"); got != "org-1" {
			t.Errorf("OpenAI-Organization = %q", got)
		}
		if req.Model != "gpt-4o" || len(req.Messages) != 2 || req.MaxTokens != 256 {
			t.Errorf("unexpected request %+v", req)
		}
	})

	p, err := New(&ProviderConfig{
		Model:        "gpt-4o",
		Endpoint:     srv.URL + "/v1/",
		APIKey:       "sk-test",
		Organization: "org-1",
		MaxTokens:    256,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	got, err := p.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hi"},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if got != "hello" {
		t.Errorf("Chat() = %q, want hello", got)
	}
}

func TestAzureChat(t *testing.T) {
	srv := chatServer(t, http.StatusOK, okBody, func(r *http.Request, req openAIChatRequest) {
		if r.URL.Path != "/openai/deployments/gpt-35-turbo/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("api-version"); got != "2024-06-01" {
			t.Errorf("api-version = %q", got)
		}
		if got := r.Header.Get("api-key"); got != "az-key" {
			t.Errorf("api-key = %q", got)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("Authorization header must not be sent to Azure")
		}
		if req.Model != "" {
			t.Errorf("model = %q, want empty", req.Model)
		}
	})

	p, err := New(&ProviderConfig{Provider: "azure", Model: "gpt-3.5-turbo", Endpoint: srv.URL, APIKey: "az-key"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.Name() != "azure" {
		t.Errorf("Name() = %q, want azure", p.Name())
	}
	if _, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
}

func TestAzureRequiresEndpoint(t *testing.T) {
	if _, err := New(&ProviderConfig{Provider: "azure", APIKey: "k"}); err == nil {
		t.Error("expected error without endpoint")
	}
}

func TestAzureDeployment(t *testing.T) {
	tests := map[string]string{
		"gpt-4o":        "gpt-4o",
		"gpt-3.5-turbo": "gpt-35-turbo",
		"llama3:8b":     "llama38b",
	}
	for in, want := range tests {
		if got := AzureDeployment(in); got != want {
			t.Errorf("AzureDeployment(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewUnsupportedProvider(t *testing.T) {
	if _, err := New(&ProviderConfig{Provider: "bedrock"}); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestChatNotReady(t *testing.T) {
	p, _ := New(&ProviderConfig{})
	if _, err := p.Chat(context.Background(), nil); !errors.Is(err, ErrNotReady) {
		t.Errorf("Chat() error = %v, want ErrNotReady", err)
	}
}

func TestChatAPIError(t *testing.T) {
	srv := chatServer(t, http.StatusUnauthorized, `{"error":"bad key"}`, nil)
	p, _ := New(&ProviderConfig{Endpoint: srv.URL, APIKey: "k"})

	_, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Chat() error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d", apiErr.StatusCode)
	}
	if isRetryableError(err) {
		t.Error("401 should not be retryable")
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "rate limit", err: &APIError{StatusCode: 429}, expected: true},
		{name: "server error", err: &APIError{StatusCode: 503}, expected: true},
		{name: "bad request", err: &APIError{StatusCode: 400}, expected: false},
		{name: "timeout text", err: errors.New("request timeout"), expected: true},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), expected: true},
		{name: "canceled", err: context.Canceled, expected: false},
		{name: "plain error", err: errors.New("no choices in response"), expected: false},
		{name: "nil", err: nil, expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.expected {
				t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	if cfg.MaxAttempts != 5 || cfg.MaxBackoff != 10.0 || cfg.JitterRatio != 0.1 {
		t.Errorf("DefaultRetryConfig() = %+v", cfg)
	}
}

func TestRetryProviderBackoff(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   bool
	}{
		{name: "succeeds after transient errors", errs: []error{&APIError{StatusCode: 429}, &APIError{StatusCode: 500}}, wantCalls: 3},
		{name: "permanent error stops", errs: []error{&APIError{StatusCode: 400}}, wantCalls: 1, wantErr: true},
		{name: "gives up after max attempts", errs: []error{
			&APIError{StatusCode: 502}, &APIError{StatusCode: 502}, &APIError{StatusCode: 502}, &APIError{StatusCode: 502},
		}, wantCalls: 3, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockProvider{name: "mock", errs: tt.errs, content: "ok"}
			p := CreateWithRetry(mock, &RetryConfig{MaxAttempts: 3, MaxBackoff: 0.001})

			got, err := p.Chat(context.Background(), nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Chat() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != "ok" {
				t.Errorf("Chat() = %q, want ok", got)
			}
			if mock.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", mock.calls, tt.wantCalls)
			}
		})
	}
}

func TestRetryAgainstServer(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	base, _ := New(&ProviderConfig{Endpoint: srv.URL, APIKey: "k"})
	p := CreateWithRetry(base, &RetryConfig{MaxAttempts: 2, MaxBackoff: 0.001})
	got, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if got != "hello" || hits.Load() != 2 {
		t.Errorf("Chat() = %q after %d hits", got, hits.Load())
	}
}

func TestContextCancellation(t *testing.T) {
	mock := &mockProvider{name: "mock", errs: []error{
		&APIError{StatusCode: 503}, &APIError{StatusCode: 503}, &APIError{StatusCode: 503},
	}}
	p := CreateWithRetry(mock, &RetryConfig{MaxAttempts: 10, MaxBackoff: 10.0})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Chat(ctx, nil); err == nil {
		t.Error("expected error after cancellation")
	}
}
