// Package providers talks to OpenAI-compatible chat completion APIs.
package providers

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrNotReady is returned when a provider has no credentials.
var ErrNotReady = errors.New("AI provider not ready - check API key and endpoint configuration")

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Roles used in chat requests.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Provider completes chat conversations.
type Provider interface {
	Name() string
	GetModel() string
	IsReady() bool
	// Chat sends msgs and returns the assistant reply.
	Chat(ctx context.Context, msgs []Message) (string, error)
}

// ProviderConfig configures a provider.
type ProviderConfig struct {
	Provider        string
	Model           string
	Endpoint        string
	APIKey          string
	Organization    string
	AzureDeployment string
	APIVersion      string
	MaxTokens       int
	Temperature     float64
	SkipTLSVerify   bool
}

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// New creates the provider named by cfg.Provider.
func New(cfg *ProviderConfig) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		return NewOpenAIProvider(cfg)
	case "azure", "azopenai":
		return NewAzureOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}

func newHTTPClient(skipTLSVerify bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if skipTLSVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &http.Client{Transport: transport, Timeout: 5 * time.Minute}
}
