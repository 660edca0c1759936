package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudbro-kube-ai/kube-copilot/pkg/tokens"
	customsearch "google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

// SearchTool queries Google Programmable Search.
type SearchTool struct {
	cx     string
	budget tokens.Budget
	opts   []option.ClientOption
}

// NewSearchTool creates a search tool for the engine cx. Extra client options
// are appended after the API key.
func NewSearchTool(apiKey, cx string, budget tokens.Budget, opts ...option.ClientOption) *SearchTool {
	return &SearchTool{
		cx:     cx,
		budget: budget,
		opts:   append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...),
	}
}

func (s *SearchTool) Name() string { return "search" }

func (s *SearchTool) Description() string {
	return "Search the web for current information, error messages or documentation."
}

func (s *SearchTool) InputSchema() string {
	return "a search query."
}

func (s *SearchTool) Call(ctx context.Context, input string) (string, error) {
	query := strings.TrimSpace(input)
	if query == "" {
		return "", errors.New("empty search query")
	}

	svc, err := customsearch.NewService(ctx, s.opts...)
	if err != nil {
		return "", fmt.Errorf("failed to create search client: %w", err)
	}
	resp, err := svc.Cse.List().Cx(s.cx).Q(query).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}
	if len(resp.Items) == 0 {
		return "No results found.", nil
	}

	var sb strings.Builder
	for _, item := range resp.Items {
		fmt.Fprintf(&sb, "%s: %s\n", item.Title, item.Snippet)
	}
	out, _ := s.budget.Apply(sb.String())
	return out, nil
}
