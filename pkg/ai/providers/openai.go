package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cloudbro-kube-ai/kube-copilot/pkg/log"
)

const (
	defaultOpenAIEndpoint = "https://api.openai.com/v1"
	defaultAzureVersion   = "2024-06-01"
)

// OpenAIProvider implements Provider for OpenAI and compatible APIs,
// including Azure OpenAI deployments.
type OpenAIProvider struct {
	config     *ProviderConfig
	httpClient *http.Client
	endpoint   string
	azure      bool
}

type openAIChatRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type openAIChatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(cfg *ProviderConfig) (Provider, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}
	return &OpenAIProvider{
		config:     cfg,
		httpClient: newHTTPClient(cfg.SkipTLSVerify),
		endpoint:   strings.TrimSuffix(endpoint, "/"),
	}, nil
}

// NewAzureOpenAIProvider creates a provider for an Azure OpenAI resource.
// The deployment defaults to the model name without "." and ":".
func NewAzureOpenAIProvider(cfg *ProviderConfig) (Provider, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("azure provider requires an endpoint")
	}
	return &OpenAIProvider{
		config:     cfg,
		httpClient: newHTTPClient(cfg.SkipTLSVerify),
		endpoint:   strings.TrimSuffix(cfg.Endpoint, "/"),
		azure:      true,
	}, nil
}

// AzureDeployment derives the deployment name Azure expects for model.
func AzureDeployment(model string) string {
	return strings.NewReplacer(".", "", ":", "").Replace(model)
}

func (p *OpenAIProvider) Name() string {
	if p.azure {
		return "azure"
	}
	return "openai"
}

func (p *OpenAIProvider) GetModel() string {
	return p.config.Model
}

func (p *OpenAIProvider) IsReady() bool {
	return p.config != nil && p.config.APIKey != ""
}

func (p *OpenAIProvider) chatURL() string {
	if !p.azure {
		return p.endpoint + "/chat/completions"
	}
	deployment := p.config.AzureDeployment
	if deployment == "" {
		deployment = AzureDeployment(p.config.Model)
	}
	version := p.config.APIVersion
	if version == "" {
		version = defaultAzureVersion
	}
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		p.endpoint, url.PathEscape(deployment), url.QueryEscape(version))
}

func (p *OpenAIProvider) Chat(ctx context.Context, msgs []Message) (string, error) {
	if !p.IsReady() {
		return "", ErrNotReady
	}

	reqBody := openAIChatRequest{
		Messages:    msgs,
		MaxTokens:   p.config.MaxTokens,
		Temperature: p.config.Temperature,
	}
	if !p.azure {
		reqBody.Model = p.config.Model
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.chatURL(), bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.azure {
		req.Header.Set("api-key", p.config.APIKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
		if p.config.Organization != "" {
			req.Header.Set("OpenAI-Organization", p.config.Organization)
		}
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("error reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var chatResp openAIChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}

	log.Debugf("openai: %d prompt tokens, %d completion tokens", chatResp.Usage.PromptTokens, chatResp.Usage.CompletionTokens)
	return chatResp.Choices[0].Message.Content, nil
}
