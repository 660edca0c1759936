package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/cloudbro-kube-ai/kube-copilot/pkg/ai/agent"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/ai/prompts"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/ai/providers"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/ai/safety"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/ai/tools"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/config"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/db"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/gateway"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/log"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/manifest"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/tokens"
)

// Client wires the LLM provider, the command gateways and the tools into
// copilot runs.
type Client struct {
	cfg      *config.Config
	provider providers.Provider
	encoder  tokens.Encoder
	kubectl  *gateway.Gateway
	trivy    *gateway.Gateway

	approve  tools.Approver
	humanIn  io.Reader
	humanOut io.Writer
}

// Option configures a Client.
type Option func(*Client)

// WithProvider replaces the provider built from the LLM config.
func WithProvider(p providers.Provider) Option {
	return func(c *Client) { c.provider = p }
}

// WithEncoder replaces the tokenizer of the configured model.
func WithEncoder(enc tokens.Encoder) Option {
	return func(c *Client) { c.encoder = enc }
}

// WithApprover asks before the python tool runs code.
func WithApprover(a tools.Approver) Option {
	return func(c *Client) { c.approve = a }
}

// WithHuman registers the human tool on the given terminal streams.
func WithHuman(in io.Reader, out io.Writer) Option {
	return func(c *Client) {
		c.humanIn = in
		c.humanOut = out
	}
}

// NewClient creates a client from cfg.
func NewClient(cfg *config.Config, opts ...Option) (*Client, error) {
	c := &Client{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}

	if c.provider == nil {
		p, err := newProvider(&cfg.LLM)
		if err != nil {
			return nil, err
		}
		c.provider = p
	}
	if c.encoder == nil {
		enc, err := tokens.EncoderForModel(cfg.LLM.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to load tokenizer: %w", err)
		}
		c.encoder = enc
	}

	timeout, err := cfg.CommandTimeoutDuration()
	if err != nil {
		return nil, err
	}
	common := []gateway.Option{
		gateway.WithAllowList(cfg.Tools.AllowedCommands...),
		gateway.WithEncoder(c.encoder),
		gateway.WithStripNewlines(cfg.Tools.StripNewlines),
		gateway.WithReturnErrOutput(cfg.Tools.ReturnErrOutput),
		gateway.WithStrict(cfg.Tools.StrictCommands),
		gateway.WithTimeout(timeout),
	}
	if cfg.EnableAudit {
		common = append(common, gateway.WithObserver(recordExecution))
	}

	c.kubectl, err = gateway.New("kubectl", append(common, gateway.WithMaxTokens(cfg.Tools.MaxOutputTokens))...)
	if err != nil {
		return nil, err
	}
	// trivy emits JSON that is parsed before budgeting; the trivy tool
	// applies the ceiling to its summary.
	c.trivy, err = gateway.New("trivy", append(common, gateway.WithMaxTokens(0))...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func newProvider(cfg *config.LLMConfig) (providers.Provider, error) {
	provider, err := providers.New(&providers.ProviderConfig{
		Provider:        cfg.Provider,
		Model:           cfg.Model,
		Endpoint:        cfg.Endpoint,
		APIKey:          cfg.APIKey,
		Organization:    cfg.Organization,
		AzureDeployment: cfg.AzureDeployment,
		APIVersion:      cfg.APIVersion,
		MaxTokens:       cfg.MaxTokens,
		Temperature:     cfg.Temperature,
		SkipTLSVerify:   cfg.SkipTLSVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	// Wrap with retry logic if configured
	if cfg.RetryEnabled {
		retryCfg := providers.DefaultRetryConfig()
		if cfg.MaxRetries > 0 {
			retryCfg.MaxAttempts = cfg.MaxRetries
		}
		if cfg.MaxBackoff > 0 {
			retryCfg.MaxBackoff = cfg.MaxBackoff
		}
		provider = providers.CreateWithRetry(provider, retryCfg)
	}
	return provider, nil
}

// recordExecution stores a gateway result as an audit row.
func recordExecution(ctx context.Context, res *gateway.Result) {
	report := safety.Analyze(res.Command)
	e := db.Execution{
		RunID:      agent.RunIDFromContext(ctx),
		Command:    res.Command,
		Category:   string(report.Type),
		Dangerous:  report.IsDangerous,
		Success:    res.Success,
		ExitCode:   res.ExitCode,
		Truncated:  res.Truncated,
		DurationMs: res.Duration.Milliseconds(),
	}
	if report.Parsed != nil {
		e.Tool = report.Parsed.Program
	}
	if res.Err != nil {
		e.ErrorMsg = res.Err.Error()
	}
	if err := db.RecordExecution(e); err != nil {
		log.Warnf("audit: %v", err)
	}
}

// Registry builds the tool set of a run.
func (c *Client) Registry() *tools.Registry {
	r := tools.NewRegistry()
	r.Register(tools.NewShellTool(c.kubectl))
	r.Register(tools.NewTrivyTool(c.trivy, c.budget(c.cfg.Tools.MaxOutputTokens)))

	if c.cfg.Tools.EnablePython {
		timeout, _ := c.cfg.CommandTimeoutDuration()
		r.Register(&tools.PythonTool{
			Binary:  c.cfg.Tools.PythonBinary,
			Budget:  c.budget(c.cfg.Tools.PythonMaxTokens),
			Timeout: timeout,
			Approve: c.approve,
		})
	}
	if c.cfg.SearchEnabled() {
		r.Register(tools.NewSearchTool(c.cfg.Tools.GoogleAPIKey, c.cfg.Tools.GoogleCSEID, c.budget(c.cfg.Tools.MaxOutputTokens)))
	}
	if c.humanIn != nil && c.humanOut != nil {
		r.Register(tools.NewHumanTool(c.humanIn, c.humanOut))
	}
	return r
}

func (c *Client) budget(max int) tokens.Budget {
	return tokens.Budget{Encoder: c.encoder, Max: max}
}

// Run executes task through the reason-act loop, reporting steps to l.
func (c *Client) Run(ctx context.Context, task prompts.Task, l agent.Listener) (string, error) {
	if task.Kind == prompts.KindGenerate {
		return "", errors.New("generate tasks are not agent runs; use Generate")
	}
	prompt, err := task.Prompt()
	if err != nil {
		return "", err
	}

	registry := c.Registry()
	executor := agent.NewExecutor(agent.Config{
		Provider:      c.provider,
		Registry:      registry,
		SystemPrompt:  prompts.System(registry.Prompt(), registry.Names()),
		MaxIterations: c.cfg.Agent.MaxIterations,
		Encoder:       c.encoder,
		TokenLimit:    tokens.LimitForModel(c.cfg.LLM.Model),
		CountTokens:   c.cfg.Agent.CountTokens,
		Listener:      l,
	})
	return executor.Run(ctx, prompt)
}

// Generated is a manifest produced by Generate.
type Generated struct {
	Reply    string // raw model reply
	Manifest string // extracted YAML
	Objects  []*unstructured.Unstructured
}

// Generate asks the model for manifests matching instructions and validates
// them. The reply is returned even when validation fails.
func (c *Client) Generate(ctx context.Context, instructions string) (*Generated, error) {
	if instructions == "" {
		return nil, fmt.Errorf("instructions: %w", prompts.ErrMissingArgument)
	}
	reply, err := c.provider.Chat(ctx, []providers.Message{
		{Role: providers.RoleSystem, Content: prompts.GenerateSystem},
		{Role: providers.RoleUser, Content: "Task: Generate a Kubernetes manifest for " + instructions},
	})
	if err != nil {
		return nil, fmt.Errorf("LLM request failed: %w", err)
	}

	g := &Generated{Reply: reply, Manifest: manifest.ExtractYAML(reply)}
	g.Objects, err = manifest.Parse(g.Manifest)
	if err != nil {
		return g, fmt.Errorf("invalid manifest: %w", err)
	}
	return g, nil
}

// Apply runs kubectl apply on generated objects.
func (c *Client) Apply(ctx context.Context, objs []*unstructured.Unstructured) (*gateway.Result, error) {
	return manifest.Apply(ctx, c.kubectl, objs)
}

// ConnectionStatus represents the detailed status of an LLM connection test
type ConnectionStatus struct {
	Connected    bool   `json:"connected"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	Endpoint     string `json:"endpoint"`
	ResponseTime int64  `json:"response_time_ms"`
	Error        string `json:"error,omitempty"`
	Message      string `json:"message,omitempty"`
}

// TestConnection performs a detailed connection test and returns status information
func (c *Client) TestConnection(ctx context.Context) *ConnectionStatus {
	status := &ConnectionStatus{
		Provider: c.GetProvider(),
		Model:    c.GetModel(),
		Endpoint: c.cfg.LLM.Endpoint,
	}

	if !c.IsReady() {
		status.Error = providers.ErrNotReady.Error()
		return status
	}

	start := time.Now()
	_, err := c.provider.Chat(ctx, []providers.Message{
		{Role: providers.RoleUser, Content: "Say 'OK' if you can hear me."},
	})
	status.ResponseTime = time.Since(start).Milliseconds()
	if err != nil {
		status.Error = err.Error()
		return status
	}

	status.Connected = true
	status.Message = fmt.Sprintf("Successfully connected to %s (%s)", status.Provider, status.Model)
	return status
}

// IsReady returns true if the client is configured and ready to use
func (c *Client) IsReady() bool {
	if c == nil || c.provider == nil {
		return false
	}
	return c.provider.IsReady()
}

// GetModel returns the current model name
func (c *Client) GetModel() string {
	if c == nil || c.provider == nil {
		return ""
	}
	return c.provider.GetModel()
}

// GetProvider returns the current provider name
func (c *Client) GetProvider() string {
	if c == nil || c.provider == nil {
		return ""
	}
	return c.provider.Name()
}
