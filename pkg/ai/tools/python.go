package tools

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/cloudbro-kube-ai/kube-copilot/pkg/log"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/tokens"
)

// Approver asks the operator before a tool runs code. It returns false to
// refuse.
type Approver func(ctx context.Context, tool, input string) bool

// PythonTool runs Python snippets with the local interpreter.
type PythonTool struct {
	Binary  string
	Budget  tokens.Budget
	Timeout time.Duration
	Approve Approver
}

func (p *PythonTool) Name() string { return "python" }

func (p *PythonTool) Description() string {
	return "Run a Python 3 script and return what it prints. Use print() to see values."
}

func (p *PythonTool) InputSchema() string {
	return "Python source code."
}

func (p *PythonTool) Call(ctx context.Context, input string) (string, error) {
	if p.Approve != nil && !p.Approve(ctx, p.Name(), input) {
		return "The user did not approve running this Python code.", nil
	}

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	binary := p.Binary
	if binary == "" {
		binary = "python3"
	}
	cmd := exec.CommandContext(ctx, binary, "-c", input)
	cmd.WaitDelay = time.Second
	out, err := cmd.CombinedOutput()

	result := strings.TrimSpace(string(out))
	if err != nil {
		log.Debugf("python tool: %v", err)
		if result == "" {
			result = err.Error()
		} else {
			result += "\n" + err.Error()
		}
	}
	result, _ = p.Budget.Apply(result)
	return result, nil
}
