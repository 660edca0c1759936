package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudbro-kube-ai/kube-copilot/pkg/ai/parser"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/ai/providers"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/ai/tools"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/log"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/tokens"
)

// ErrMaxIterations is returned when the model does not reach a final answer
// within the iteration limit.
var ErrMaxIterations = errors.New("agent stopped due to iteration limit")

const defaultMaxIterations = 30

type runIDKey struct{}

// WithRunID returns a context carrying the id of the current run.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFromContext returns the run id set by Run, or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Config holds executor configuration
type Config struct {
	Provider      providers.Provider
	Registry      *tools.Registry
	SystemPrompt  string
	MaxIterations int
	// Encoder and TokenLimit bound the transcript sent to the model.
	// A nil Encoder disables constriction.
	Encoder     tokens.Encoder
	TokenLimit  int
	CountTokens bool
	Listener    Listener
}

// Executor runs prompts through the reason-act loop.
type Executor struct {
	provider      providers.Provider
	registry      *tools.Registry
	systemPrompt  string
	maxIterations int
	encoder       tokens.Encoder
	tokenLimit    int
	countTokens   bool
	listener      Listener

	stateMu sync.RWMutex
	state   State
}

// NewExecutor creates an executor from cfg.
func NewExecutor(cfg Config) *Executor {
	e := &Executor{
		provider:      cfg.Provider,
		registry:      cfg.Registry,
		systemPrompt:  cfg.SystemPrompt,
		maxIterations: cfg.MaxIterations,
		encoder:       cfg.Encoder,
		tokenLimit:    cfg.TokenLimit,
		countTokens:   cfg.CountTokens,
		listener:      cfg.Listener,
	}
	if e.maxIterations <= 0 {
		e.maxIterations = defaultMaxIterations
	}
	if e.registry == nil {
		e.registry = tools.NewRegistry()
	}
	if e.listener == nil {
		e.listener = NullListener{}
	}
	return e
}

// State returns the current run state
func (e *Executor) State() State {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

func (e *Executor) setState(runID string, s State) {
	e.stateMu.Lock()
	if e.state == s {
		e.stateMu.Unlock()
		return
	}
	if !e.state.CanTransitionTo(s) {
		log.Debugf("agent: unexpected transition %s -> %s", e.state, s)
	}
	e.state = s
	e.stateMu.Unlock()
	e.listener.StateChanged(runID, s)
}

// Run drives the model until it gives a final answer. Model output that
// follows neither the action nor the final answer convention ends the run
// with the cleaned output.
func (e *Executor) Run(ctx context.Context, prompt string) (string, error) {
	runID := uuid.NewString()
	ctx = WithRunID(ctx, runID)
	e.listener.RunStarted(runID, prompt)
	e.setState(runID, StateThinking)

	msgs := []providers.Message{
		{Role: providers.RoleSystem, Content: e.systemPrompt},
		{Role: providers.RoleUser, Content: prompt},
	}

	for i := 0; i < e.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return "", e.fail(runID, err)
		}

		msgs = e.constrict(msgs)
		if e.countTokens && e.encoder != nil {
			log.Infof("agent: step %d prompt is %d tokens", i+1, tokens.CountMessages(msgs, messageFields, e.encoder))
		}

		reply, err := e.provider.Chat(ctx, msgs)
		if err != nil {
			return "", e.fail(runID, fmt.Errorf("LLM request failed: %w", err))
		}

		outcome, err := parser.Interpret(reply)
		if err != nil {
			e.listener.ParseError(runID, err.Error())
			msgs = append(msgs,
				providers.Message{Role: providers.RoleAssistant, Content: reply},
				providers.Message{Role: providers.RoleUser, Content: observation(invalidFormat(err))},
			)
			continue
		}

		switch outcome.Kind {
		case parser.KindFinalAnswer:
			return e.finish(runID, outcome.Answer), nil
		case parser.KindRecovered:
			e.listener.ParseError(runID, outcome.Answer)
			return e.finish(runID, outcome.Answer), nil
		}

		if thought := thoughtOf(reply); thought != "" {
			e.listener.Thought(runID, thought)
		}
		obs := e.callTool(ctx, runID, i, outcome.Action)
		e.setState(runID, StateThinking)
		msgs = append(msgs,
			providers.Message{Role: providers.RoleAssistant, Content: reply},
			providers.Message{Role: providers.RoleUser, Content: observation(obs)},
		)
	}

	return "", e.fail(runID, ErrMaxIterations)
}

func (e *Executor) callTool(ctx context.Context, runID string, index int, action parser.Action) string {
	step := &Step{RunID: runID, Index: index, Tool: action.Tool, Input: action.Input}
	e.setState(runID, StateToolRunning)
	e.listener.ToolStarted(step)

	start := time.Now()
	tool, ok := e.registry.Get(action.Tool)
	if !ok {
		step.Observation = fmt.Sprintf("%s is not a valid tool, try one of [%s].",
			action.Tool, strings.Join(e.registry.Names(), ", "))
	} else {
		out, err := tool.Call(ctx, action.Input)
		if err != nil {
			log.Warnf("agent: tool %s failed: %v", action.Tool, err)
			out = "Error: " + err.Error()
		}
		step.Observation = out
	}
	step.Duration = time.Since(start)

	e.listener.ToolFinished(step)
	return step.Observation
}

func (e *Executor) finish(runID, answer string) string {
	e.setState(runID, StateDone)
	e.listener.Final(runID, answer)
	return answer
}

func (e *Executor) fail(runID string, err error) error {
	e.setState(runID, StateError)
	e.listener.RunFailed(runID, err)
	return err
}

// constrict drops history once the transcript exceeds the token limit.
func (e *Executor) constrict(msgs []providers.Message) []providers.Message {
	if e.encoder == nil || e.tokenLimit <= 0 {
		return msgs
	}
	out := tokens.ConstrictMessages(msgs, messageFields, e.encoder, e.tokenLimit)
	if len(out) < len(msgs) {
		log.Debugf("agent: transcript constricted from %d to %d messages", len(msgs), len(out))
	}
	return out
}

func messageFields(m providers.Message) (string, string) {
	return m.Role, m.Content
}

func observation(text string) string {
	return "Observation: " + text
}

func invalidFormat(err error) string {
	return fmt.Sprintf("Invalid Format: %v\nCheck your output and make sure it conforms!", err)
}

// thoughtOf returns the prose before the first fenced block.
func thoughtOf(reply string) string {
	thought, _, _ := strings.Cut(reply, "```")
	thought = strings.TrimSpace(thought)
	return strings.TrimSpace(strings.TrimPrefix(thought, "Thought:"))
}
