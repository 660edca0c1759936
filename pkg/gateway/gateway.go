// Package gateway runs allow-listed command lines through a shell and returns
// their combined output within a token budget.
package gateway

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
	"unicode"

	"github.com/cloudbro-kube-ai/kube-copilot/pkg/ai/safety"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/log"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/tokens"
)

// DefaultAllowList is used when no WithAllowList option is given.
var DefaultAllowList = []string{"kubectl", "helm", "trivy", "docker"}

const (
	DefaultMaxTokens = 3000
	separator        = ";"
)

// commandContext is replaced in tests to observe process spawns.
var commandContext = exec.CommandContext

// Result is the outcome of one gateway invocation.
type Result struct {
	Command   string        `json:"command"`
	Output    string        `json:"output"`
	Success   bool          `json:"success"`
	ExitCode  int           `json:"exit_code"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"duration"`
	Err       error         `json:"-"` // *ExitError on failure
}

// Gateway executes command lines bound to a base command.
type Gateway struct {
	command         string
	allowed         map[string]struct{}
	budget          tokens.Budget
	stripNewlines   bool
	returnErrOutput bool
	strict          bool
	timeout         time.Duration
	shell           string
	observer        func(context.Context, *Result)
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithAllowList replaces the permitted program names.
func WithAllowList(programs ...string) Option {
	return func(g *Gateway) {
		g.allowed = make(map[string]struct{}, len(programs))
		for _, p := range programs {
			if p = strings.TrimSpace(p); p != "" {
				g.allowed[p] = struct{}{}
			}
		}
	}
}

// WithMaxTokens sets the token ceiling of returned output. Zero or less
// disables the ceiling; the caller must then budget Result.Output itself
// before it reaches the model.
func WithMaxTokens(n int) Option {
	return func(g *Gateway) { g.budget.Max = n }
}

// WithEncoder sets the tokenizer used for the ceiling.
func WithEncoder(enc tokens.Encoder) Option {
	return func(g *Gateway) { g.budget.Encoder = enc }
}

// WithStripNewlines trims surrounding whitespace from successful output.
func WithStripNewlines(v bool) Option {
	return func(g *Gateway) { g.stripNewlines = v }
}

// WithReturnErrOutput returns the captured output instead of the exit error
// text when a command fails.
func WithReturnErrOutput(v bool) Option {
	return func(g *Gateway) { g.returnErrOutput = v }
}

// WithStrict requires every program in the shell script, not only the
// leading one, to be allow-listed.
func WithStrict(v bool) Option {
	return func(g *Gateway) { g.strict = v }
}

// WithTimeout kills commands running longer than d. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// WithObserver registers a hook called with every executed result and the
// context of the Run call.
func WithObserver(fn func(context.Context, *Result)) Option {
	return func(g *Gateway) { g.observer = fn }
}

// New creates a gateway bound to command. The bound command is always
// permitted in addition to the allow list. The encoder defaults to the
// cl100k tokenizer.
func New(command string, opts ...Option) (*Gateway, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, errors.New("gateway: bound command is empty")
	}
	g := &Gateway{
		command: command,
		shell:   "sh",
		budget:  tokens.Budget{Max: DefaultMaxTokens},
	}
	WithAllowList(DefaultAllowList...)(g)
	for _, opt := range opts {
		opt(g)
	}
	g.allowed[leadingProgram(command)] = struct{}{}
	if g.budget.Encoder == nil {
		enc, err := tokens.EncoderForModel("gpt-4")
		if err != nil {
			return nil, err
		}
		g.budget.Encoder = enc
	}
	return g, nil
}

// Command returns the bound base command.
func (g *Gateway) Command() string {
	return g.command
}

// Normalize joins commands with ";" and prepends the bound command when the
// result does not already start with it.
func (g *Gateway) Normalize(commands ...string) string {
	joined := strings.Join(commands, separator)
	if !strings.HasPrefix(joined, g.command) {
		joined = g.command + " " + joined
	}
	return joined
}

// Permitted reports whether a normalized command line may run.
func (g *Gateway) Permitted(line string) bool {
	if _, ok := g.allowed[leadingProgram(line)]; !ok {
		return false
	}
	if !g.strict {
		return true
	}

	parsed := safety.ParseCommand(line)
	if parsed.ParseError != nil {
		return false
	}
	for _, p := range parsed.Programs() {
		if _, ok := g.allowed[p]; !ok {
			return false
		}
	}
	return true
}

// leadingProgram returns the first word of line, stopping at whitespace or a
// shell metacharacter.
func leadingProgram(line string) string {
	line = strings.TrimLeftFunc(line, unicode.IsSpace)
	end := strings.IndexFunc(line, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(";|&<>()`$'\"\\", r)
	})
	if end < 0 {
		return line
	}
	return line[:end]
}

// Run executes commands and returns the budgeted result. It returns nil,
// without spawning a process, when the command line is not permitted.
// Process failures are reported in the result, never as a panic or error.
func (g *Gateway) Run(ctx context.Context, commands ...string) *Result {
	line := g.Normalize(commands...)
	if !g.Permitted(line) {
		log.Warnf("command gateway: %q is not permitted", line)
		return nil
	}

	res := g.exec(ctx, line)
	res.Output, res.Truncated = g.budget.Apply(res.Output)
	if res.Truncated {
		log.Debugf("command gateway: output of %q truncated to %d tokens", line, g.budget.Max)
	}
	if g.observer != nil {
		g.observer(ctx, res)
	}
	return res
}

func (g *Gateway) exec(ctx context.Context, line string) *Result {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	cmd := commandContext(ctx, g.shell, "-c", line)
	cmd.WaitDelay = time.Second

	log.Debugf("command gateway: running %q", line)
	start := time.Now()
	out, err := cmd.CombinedOutput()
	res := &Result{Command: line, Duration: time.Since(start)}

	if err != nil {
		exitErr := newExitError(ctx, line, out, err)
		res.ExitCode = exitErr.ExitCode
		res.Err = exitErr
		if g.returnErrOutput {
			res.Output = string(out)
		} else {
			res.Output = exitErr.Error()
		}
		return res
	}

	output := string(out)
	if g.stripNewlines {
		output = strings.TrimSpace(output)
	}
	res.Success = true
	res.Output = output
	return res
}
