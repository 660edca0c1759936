package tools

import (
	"context"
	"fmt"

	"github.com/cloudbro-kube-ai/kube-copilot/pkg/ai/safety"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/gateway"
)

// NotPermitted is the observation for commands the gateway refuses.
func NotPermitted(line string) string {
	return fmt.Sprintf("Command %q is not permitted.", line)
}

// ShellTool runs command lines through a gateway bound to kubectl.
type ShellTool struct {
	gw *gateway.Gateway
}

// NewShellTool wraps gw.
func NewShellTool(gw *gateway.Gateway) *ShellTool {
	return &ShellTool{gw: gw}
}

func (s *ShellTool) Name() string { return s.gw.Command() }

func (s *ShellTool) Description() string {
	return "Execute kubectl commands against the Kubernetes cluster and return their output."
}

func (s *ShellTool) InputSchema() string {
	return "a kubectl command line, e.g. `get pods -n default`. Interactive commands (edit, exec -it, logs -f, get -w) are not supported."
}

// Call runs input. Failed commands are returned as observations; only
// interactive commands are rejected with an error.
func (s *ShellTool) Call(ctx context.Context, input string) (string, error) {
	line := s.gw.Normalize(input)
	if report := safety.Analyze(line); report.IsInteractive {
		return "", fmt.Errorf("interactive command %q is not supported", line)
	}

	res := s.gw.Run(ctx, input)
	if res == nil {
		return NotPermitted(line), nil
	}
	return res.Output, nil
}
