package main

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/cloudbro-kube-ai/kube-copilot/pkg/ai"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigFlags(t *testing.T) {
	for _, k := range []string{"OPENAI_API_KEY", "KUBE_COPILOT_MODEL", "KUBE_COPILOT_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	path := writeConfig(t, "llm:\n  model: gpt-4\nagent:\n  max_iterations: 12\nenable_audit: true\n")

	tests := []struct {
		name      string
		args      []string
		model     string
		iter      int
		audit     bool
		logLevel  string
		wantError bool
	}{
		{name: "file values", model: "gpt-4", iter: 12, audit: true, logLevel: "info"},
		{name: "model flag", args: []string{"-m", "gpt-3.5-turbo"}, model: "gpt-3.5-turbo", iter: 12, audit: true, logLevel: "info"},
		{name: "iterations flag", args: []string{"--max-iterations", "5"}, model: "gpt-4", iter: 5, audit: true, logLevel: "info"},
		{name: "no audit", args: []string{"--no-audit"}, model: "gpt-4", iter: 12, logLevel: "info"},
		{name: "verbose", args: []string{"-v"}, model: "gpt-4", iter: 12, audit: true, logLevel: "debug"},
		{name: "invalid iterations", args: []string{"-x", "0"}, wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := &globalFlags{}
			root := newRootCmd(flags)
			if err := root.ParseFlags(append([]string{"--config", path}, tt.args...)); err != nil {
				t.Fatalf("ParseFlags() error = %v", err)
			}

			cfg, err := loadConfig(root, flags)
			if tt.wantError {
				if err == nil {
					t.Fatal("loadConfig() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("loadConfig() error = %v", err)
			}
			if cfg.LLM.Model != tt.model {
				t.Errorf("Model = %q, want %q", cfg.LLM.Model, tt.model)
			}
			if cfg.Agent.MaxIterations != tt.iter {
				t.Errorf("MaxIterations = %d, want %d", cfg.Agent.MaxIterations, tt.iter)
			}
			if cfg.EnableAudit != tt.audit {
				t.Errorf("EnableAudit = %v, want %v", cfg.EnableAudit, tt.audit)
			}
			if cfg.LogLevel != tt.logLevel {
				t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, tt.logLevel)
			}
		})
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{" yes \n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"y", true},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got := confirm(bufio.NewReader(strings.NewReader(tt.input)), &out, "Continue?")
		if got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if out.String() != "Continue? (y/n) " {
			t.Errorf("prompt = %q", out.String())
		}
	}
}

func TestCommands(t *testing.T) {
	root := newRootCmd(&globalFlags{})
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	sort.Strings(names)
	want := "analyze,audit,diagnose,execute,generate,version,web"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("commands = %s, want %s", got, want)
	}
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd(&globalFlags{})
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "kube-copilot version dev\n") {
		t.Errorf("output = %q", out.String())
	}
}

func TestArgumentErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "diagnose without pod", args: []string{"diagnose"}, want: "accepts between 1 and 2 arg(s)"},
		{name: "audit too many", args: []string{"audit", "a", "b", "c"}, want: "accepts between 1 and 2 arg(s)"},
		{name: "analyze without name", args: []string{"analyze", "deployment"}, want: "accepts between 2 and 3 arg(s)"},
		{name: "execute without instructions", args: []string{"execute"}, want: "please provide the instructions"},
		{name: "generate without prompt", args: []string{"generate"}, want: "please specify a prompt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRootCmd(&globalFlags{})
			root.SetOut(&bytes.Buffer{})
			root.SetErr(&bytes.Buffer{})
			root.SetArgs(tt.args)
			err := root.Execute()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Execute() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestNamespaceArg(t *testing.T) {
	if got := namespaceArg([]string{"pod"}, 1, "default"); got != "default" {
		t.Errorf("namespaceArg() = %q, want default", got)
	}
	if got := namespaceArg([]string{"pod", "kube-system"}, 1, "default"); got != "kube-system" {
		t.Errorf("namespaceArg() = %q, want kube-system", got)
	}
}

func TestClientOptions(t *testing.T) {
	tests := []struct {
		name        string
		interactive bool
		wantTools   string
		wantPython  bool
	}{
		{name: "terminal", interactive: true, wantTools: "human,kubectl,python,trivy", wantPython: true},
		{name: "web", wantTools: "kubectl,trivy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewDefaultConfig()
			cfg.EnableAudit = false
			cfg.Tools.EnablePython = true
			s := &session{
				cfg: cfg,
				in:  bufio.NewReader(strings.NewReader("")),
				out: &bytes.Buffer{},
			}

			client, err := ai.NewClient(cfg, s.clientOptions(tt.interactive)...)
			if err != nil {
				t.Fatalf("NewClient() error = %v", err)
			}
			names := client.Registry().Names()
			sort.Strings(names)
			if got := strings.Join(names, ","); got != tt.wantTools {
				t.Errorf("tools = %s, want %s", got, tt.wantTools)
			}
			if cfg.Tools.EnablePython != tt.wantPython {
				t.Errorf("EnablePython = %v, want %v", cfg.Tools.EnablePython, tt.wantPython)
			}
		})
	}
}
