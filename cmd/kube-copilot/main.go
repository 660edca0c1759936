package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cloudbro-kube-ai/kube-copilot/pkg/ai"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/config"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/db"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/kubeconfig"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/log"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/render"
)

// Version info (set by ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const appName = "kube-copilot"

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath    string
	model         string
	maxTokens     int
	countTokens   bool
	verbose       bool
	maxIterations int
	noAudit       bool
}

func newRootCmd(flags *globalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Version:       Version,
		Short:         "Kubernetes Copilot powered by AI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "Config file (default: "+config.GetConfigPath()+")")
	pf.StringVarP(&flags.model, "model", "m", config.DefaultModel, "AI model to use")
	pf.IntVarP(&flags.maxTokens, "max-tokens", "t", 2048, "Max tokens for the AI model")
	pf.BoolVarP(&flags.countTokens, "count-tokens", "c", false, "Print tokens count")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose output")
	pf.IntVarP(&flags.maxIterations, "max-iterations", "x", config.DefaultMaxIterations, "Max iterations for the agent running")
	pf.BoolVar(&flags.noAudit, "no-audit", false, "Do not record executed commands")

	root.AddCommand(
		newExecuteCmd(flags),
		newDiagnoseCmd(flags),
		newAuditCmd(flags),
		newAnalyzeCmd(flags),
		newGenerateCmd(flags),
		newWebCmd(flags),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads the config file and applies flags that were set
// explicitly on the command line.
func loadConfig(cmd *cobra.Command, flags *globalFlags) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if flags.configPath != "" {
		cfg, err = config.LoadConfigFrom(flags.configPath)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("model") {
		cfg.LLM.Model = flags.model
	}
	if changed("max-tokens") {
		cfg.LLM.MaxTokens = flags.maxTokens
	}
	if changed("max-iterations") {
		cfg.Agent.MaxIterations = flags.maxIterations
	}
	if changed("count-tokens") {
		cfg.Agent.CountTokens = flags.countTokens
	}
	if flags.noAudit {
		cfg.EnableAudit = false
	}
	if flags.verbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// session is the process state shared by the commands.
type session struct {
	cfg     *config.Config
	client  *ai.Client
	printer *render.Printer
	in      *bufio.Reader
	out     io.Writer
	cleanup []func()
}

func (s *session) Close() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
}

// confirm asks a yes/no question on the terminal.
func (s *session) confirm(question string) bool {
	return confirm(s.in, s.out, question)
}

func confirm(in *bufio.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s (y/n) ", question)
	answer, err := in.ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

// newSession loads config, prepares logging, kubeconfig and the audit
// store, then builds the AI client. Interactive sessions get the human tool
// and python approval on the terminal; others have neither and run without
// the python tool.
func newSession(cmd *cobra.Command, flags *globalFlags, interactive bool) (*session, error) {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:     cfg,
		printer: render.NewPrinter(cmd.OutOrStdout()),
		in:      bufio.NewReader(cmd.InOrStdin()),
		out:     cmd.OutOrStdout(),
	}

	if err := log.Init(appName); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: file logging disabled: %v\n", err)
	}
	log.SetLevel(cfg.LogLevel)
	log.SetVerbose(flags.verbose)
	s.cleanup = append(s.cleanup, log.Close)

	if _, err := kubeconfig.Setup(kubeconfig.EnvFromOS()); err != nil {
		log.Warnf("kubeconfig: %v", err)
	}

	if cfg.EnableAudit {
		s.cleanup = append(s.cleanup, initAudit(cfg)...)
	}

	s.client, err = ai.NewClient(cfg, s.clientOptions(interactive)...)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) clientOptions(interactive bool) []ai.Option {
	if !interactive {
		if s.cfg.Tools.EnablePython {
			log.Warnf("python tool disabled: no terminal to approve code on")
			s.cfg.Tools.EnablePython = false
		}
		return nil
	}
	return []ai.Option{
		ai.WithApprover(func(ctx context.Context, tool, input string) bool {
			fmt.Fprintf(s.out, "\nThe %s tool wants to run:\n\n%s\n\n", tool, input)
			return s.confirm("Do you approve?")
		}),
		ai.WithHuman(s.in, s.out),
	}
}

// initAudit opens the audit database, the audit file and the retention job.
// Failures disable the failing part only.
func initAudit(cfg *config.Config) []func() {
	var cleanup []func()

	dbCfg := db.DBConfig{
		Type:     db.DBType(cfg.Storage.DBType),
		Host:     cfg.Storage.DBHost,
		Port:     cfg.Storage.DBPort,
		Database: cfg.Storage.DBName,
		Username: cfg.Storage.DBUser,
		Password: cfg.Storage.DBPassword,
		SSLMode:  cfg.Storage.DBSSLMode,
		Path:     cfg.GetEffectiveDBPath(),
	}
	if err := db.InitWithConfig(dbCfg); err != nil {
		log.Errorf("Failed to initialize audit database: %v", err)
	} else {
		cleanup = append(cleanup, func() { db.Close() })
		if days := cfg.Storage.AuditRetentionDays; days > 0 {
			stop, err := db.StartRetention(days, "@daily")
			if err != nil {
				log.Errorf("Failed to start audit retention: %v", err)
			} else {
				cleanup = append(cleanup, stop)
			}
		}
	}

	if cfg.Storage.EnableAuditFile {
		if err := db.InitAuditFile(cfg.GetEffectiveAuditFilePath()); err != nil {
			log.Errorf("Failed to initialize audit file: %v", err)
		} else {
			cleanup = append(cleanup, db.CloseAuditFile)
		}
	}
	return cleanup
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func main() {
	if err := newRootCmd(&globalFlags{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
