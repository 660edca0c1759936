package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const appName = "kube-copilot"

type Config struct {
	LLM         LLMConfig     `yaml:"llm" json:"llm"`
	Agent       AgentConfig   `yaml:"agent" json:"agent"`
	Tools       ToolsConfig   `yaml:"tools" json:"tools"`
	Storage     StorageConfig `yaml:"storage" json:"storage"` // Audit persistence
	Web         WebConfig     `yaml:"web" json:"web"`
	EnableAudit bool          `yaml:"enable_audit" json:"enable_audit"`
	LogLevel    string        `yaml:"log_level" json:"log_level"`
}

type LLMConfig struct {
	Provider        string  `yaml:"provider" json:"provider"` // openai or azure
	Model           string  `yaml:"model" json:"model"`
	Endpoint        string  `yaml:"endpoint" json:"endpoint"`
	APIKey          string  `yaml:"api_key" json:"-"`
	Organization    string  `yaml:"organization" json:"organization"`
	AzureDeployment string  `yaml:"azure_deployment" json:"azure_deployment"` // Defaults to the model name with "." and ":" removed
	APIVersion      string  `yaml:"api_version" json:"api_version"`           // Azure only
	MaxTokens       int     `yaml:"max_tokens" json:"max_tokens"`
	Temperature     float64 `yaml:"temperature" json:"temperature"`
	SkipTLSVerify   bool    `yaml:"skip_tls_verify" json:"skip_tls_verify"`
	RetryEnabled    bool    `yaml:"retry_enabled" json:"retry_enabled"`
	MaxRetries      int     `yaml:"max_retries" json:"max_retries"`
	MaxBackoff      float64 `yaml:"max_backoff" json:"max_backoff"` // seconds
}

// AgentConfig bounds a single copilot run.
type AgentConfig struct {
	MaxIterations int  `yaml:"max_iterations" json:"max_iterations"`
	CountTokens   bool `yaml:"count_tokens" json:"count_tokens"` // Log prompt token counts per step
}

// ToolsConfig controls the tools exposed to the model.
type ToolsConfig struct {
	// AllowedCommands is the program allow-list of the command gateway
	AllowedCommands []string `yaml:"allowed_commands" json:"allowed_commands"`
	// MaxOutputTokens caps every command observation
	MaxOutputTokens int `yaml:"max_output_tokens" json:"max_output_tokens"`
	// PythonMaxTokens caps python tool observations
	PythonMaxTokens int  `yaml:"python_max_tokens" json:"python_max_tokens"`
	StripNewlines   bool `yaml:"strip_newlines" json:"strip_newlines"`
	// ReturnErrOutput returns raw command output instead of the exit error on failure
	ReturnErrOutput bool `yaml:"return_err_output" json:"return_err_output"`
	// CommandTimeout is a Go duration string; empty or "0" disables it
	CommandTimeout string `yaml:"command_timeout" json:"command_timeout"`
	// StrictCommands requires every program of a shell script to be allowed
	StrictCommands bool   `yaml:"strict_commands" json:"strict_commands"`
	EnablePython   bool   `yaml:"enable_python" json:"enable_python"`
	PythonBinary   string `yaml:"python_binary" json:"python_binary"`
	GoogleAPIKey   string `yaml:"google_api_key" json:"-"`
	GoogleCSEID    string `yaml:"google_cse_id" json:"google_cse_id"`
}

// StorageConfig holds audit persistence configuration
type StorageConfig struct {
	DBType     string `yaml:"db_type" json:"db_type"`         // sqlite, postgres, mariadb, mysql
	DBPath     string `yaml:"db_path" json:"db_path"`         // Path for SQLite file
	DBHost     string `yaml:"db_host" json:"db_host"`         // Database host (for postgres/mysql)
	DBPort     int    `yaml:"db_port" json:"db_port"`         // Database port
	DBName     string `yaml:"db_name" json:"db_name"`         // Database name
	DBUser     string `yaml:"db_user" json:"db_user"`         // Database username
	DBPassword string `yaml:"db_password" json:"-"`           // Database password
	DBSSLMode  string `yaml:"db_ssl_mode" json:"db_ssl_mode"` // SSL mode (for postgres)

	EnableAuditFile bool   `yaml:"enable_audit_file" json:"enable_audit_file"`
	AuditFilePath   string `yaml:"audit_file_path" json:"audit_file_path"`

	AuditRetentionDays int `yaml:"audit_retention_days" json:"audit_retention_days"` // 0 = forever
}

type WebConfig struct {
	Listen string `yaml:"listen" json:"listen"`
}

const (
	DefaultModel         = "gpt-4o"
	DefaultOpenAIBase    = "https://api.openai.com/v1"
	DefaultAzureVersion  = "2024-06-01"
	DefaultMaxIterations = 30
)

// DefaultAllowedCommands are the programs the command gateway may run.
var DefaultAllowedCommands = []string{"kubectl", "helm", "trivy", "docker"}

func GetConfigPath() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.yaml")
}

// DefaultDBPath returns the default SQLite database path
func DefaultDBPath() string {
	return filepath.Join(xdg.ConfigHome, appName, "audit.db")
}

// DefaultAuditFilePath returns the default audit log file path
func DefaultAuditFilePath() string {
	return filepath.Join(xdg.ConfigHome, appName, "audit.log")
}

// DefaultLogDir returns the directory for application log files
func DefaultLogDir() string {
	return filepath.Join(xdg.StateHome, appName)
}

func NewDefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:     "openai",
			Model:        DefaultModel,
			Endpoint:     DefaultOpenAIBase,
			APIVersion:   DefaultAzureVersion,
			MaxTokens:    2048,
			RetryEnabled: true,
			MaxRetries:   5,
			MaxBackoff:   10.0,
		},
		Agent: AgentConfig{
			MaxIterations: DefaultMaxIterations,
		},
		Tools: ToolsConfig{
			AllowedCommands: append([]string(nil), DefaultAllowedCommands...),
			MaxOutputTokens: 3000,
			PythonMaxTokens: 2000,
			CommandTimeout:  "5m",
			PythonBinary:    "python3",
		},
		Storage: StorageConfig{
			DBType:             "sqlite",
			DBPath:             "", // Empty means use default
			EnableAuditFile:    false,
			AuditFilePath:      "",
			AuditRetentionDays: 0,
		},
		Web: WebConfig{
			Listen: ":8080",
		},
		EnableAudit: true,
		LogLevel:    "info",
	}
}

// GetEffectiveDBPath returns the effective database path
func (c *Config) GetEffectiveDBPath() string {
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath
	}
	return DefaultDBPath()
}

// GetEffectiveAuditFilePath returns the effective audit file path
func (c *Config) GetEffectiveAuditFilePath() string {
	if c.Storage.AuditFilePath != "" {
		return c.Storage.AuditFilePath
	}
	return DefaultAuditFilePath()
}

// CommandTimeoutDuration parses Tools.CommandTimeout. Zero means no timeout.
func (c *Config) CommandTimeoutDuration() (time.Duration, error) {
	v := strings.TrimSpace(c.Tools.CommandTimeout)
	if v == "" || v == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid command_timeout %q: %w", v, err)
	}
	return d, nil
}

// SearchEnabled reports whether web search credentials are present.
func (c *Config) SearchEnabled() bool {
	return c.Tools.GoogleAPIKey != "" && c.Tools.GoogleCSEID != ""
}

// IsAzure reports whether the LLM endpoint speaks the Azure OpenAI dialect.
func (c *LLMConfig) IsAzure() bool {
	return strings.EqualFold(c.Provider, "azure")
}

// Validate checks the fields a run cannot work without.
func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "azure":
	default:
		errs = append(errs, fmt.Errorf("unsupported llm provider %q", c.LLM.Provider))
	}
	if c.LLM.Model == "" {
		errs = append(errs, errors.New("llm model is required"))
	}
	if c.Agent.MaxIterations <= 0 {
		errs = append(errs, errors.New("agent max_iterations must be positive"))
	}
	if len(c.Tools.AllowedCommands) == 0 {
		errs = append(errs, errors.New("tools allowed_commands must not be empty"))
	}
	if c.Tools.MaxOutputTokens <= 0 || c.Tools.PythonMaxTokens <= 0 {
		errs = append(errs, errors.New("tools token ceilings must be positive"))
	}
	if _, err := c.CommandTimeoutDuration(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func LoadConfig() (*Config, error) {
	return LoadConfigFrom(GetConfigPath())
}

// LoadConfigFrom reads the config at path, falling back to defaults when the
// file is missing or unreadable.
func LoadConfigFrom(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := NewDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		cfg := NewDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil // Fail gracefully to defaults
	}

	cfg := NewDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides applies the OpenAI, Azure and Google environment
// variables, then KUBE_COPILOT_* overrides. Environment variables take
// precedence over config file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_BASE"); v != "" {
		cfg.LLM.Endpoint = v
		if strings.Contains(v, "azure") {
			cfg.LLM.Provider = "azure"
		}
	}
	if v := os.Getenv("OPENAI_ORGANIZATION"); v != "" {
		cfg.LLM.Organization = v
	}
	if strings.EqualFold(os.Getenv("OPENAI_API_TYPE"), "azure") {
		cfg.LLM.Provider = "azure"
	}
	if v := os.Getenv("AZURE_OPENAI_ENDPOINT"); v != "" {
		cfg.LLM.Provider = "azure"
		cfg.LLM.Endpoint = v
	}
	if v := os.Getenv("AZURE_OPENAI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("AZURE_OPENAI_API_VERSION"); v != "" {
		cfg.LLM.APIVersion = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		cfg.Tools.GoogleAPIKey = v
	}
	if v := os.Getenv("GOOGLE_CSE_ID"); v != "" {
		cfg.Tools.GoogleCSEID = v
	}

	if v := os.Getenv("KUBE_COPILOT_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("KUBE_COPILOT_ENABLE_PYTHON"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tools.EnablePython = b
		}
	}
	if v := os.Getenv("KUBE_COPILOT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("KUBE_COPILOT_DB_TYPE"); v != "" {
		cfg.Storage.DBType = v
	}
	if v := os.Getenv("KUBE_COPILOT_WEB_LISTEN"); v != "" {
		cfg.Web.Listen = v
	}
}

func (c *Config) Save() error {
	return c.SaveTo(GetConfigPath())
}

func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
