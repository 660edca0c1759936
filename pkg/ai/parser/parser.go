// Package parser interprets one step of model output as either a tool action
// or a final answer.
package parser

import (
	"encoding/json"
	"errors"
	"strings"
)

// FinalAnswerSentinel marks the model's final answer.
const FinalAnswerSentinel = "Final Answer:"

const fence = "```"

// Tool names synthesized from tagged code blocks.
const (
	ToolPython = "python"
	ToolShell  = "kubectl"
)

// Kind discriminates an Outcome.
type Kind int

const (
	KindAction Kind = iota
	KindFinalAnswer
	// KindRecovered is text that followed neither convention and is taken
	// as the answer.
	KindRecovered
)

func (k Kind) String() string {
	switch k {
	case KindAction:
		return "action"
	case KindFinalAnswer:
		return "final_answer"
	case KindRecovered:
		return "recovered"
	default:
		return "unknown"
	}
}

// Action is a tool invocation requested by the model.
type Action struct {
	Tool  string `json:"action"`
	Input string `json:"action_input"`
}

// Outcome is the interpretation of one model step.
type Outcome struct {
	Kind   Kind
	Action Action // set for KindAction
	Answer string // set for KindFinalAnswer and KindRecovered
	Text   string // raw model text
}

// ErrorKind discriminates a ParseError.
type ErrorKind int

const (
	// Unparseable output has no action and no final answer.
	Unparseable ErrorKind = iota
	// Contradiction output has both an action and a final answer.
	Contradiction
)

// ParseError reports model output that cannot be interpreted. Text is the
// offending output, verbatim.
type ParseError struct {
	Kind ErrorKind
	Text string
}

func (e *ParseError) Error() string {
	if e.Kind == Contradiction {
		return "Parsing LLM output produced a final answer and a parse-able action: " + e.Text
	}
	return "Could not parse LLM output: " + e.Text
}

// Parse interprets text strictly. An action together with the final answer
// sentinel is a Contradiction; text with neither is Unparseable.
func Parse(text string) (*Outcome, error) {
	includesAnswer := strings.Contains(text, FinalAnswerSentinel)

	action, ok := extractAction(text)
	switch {
	case ok && includesAnswer:
		return nil, &ParseError{Kind: Contradiction, Text: text}
	case ok:
		return &Outcome{Kind: KindAction, Action: action, Text: text}, nil
	case includesAnswer:
		idx := strings.LastIndex(text, FinalAnswerSentinel)
		answer := strings.TrimSpace(text[idx+len(FinalAnswerSentinel):])
		return &Outcome{Kind: KindFinalAnswer, Answer: answer, Text: text}, nil
	default:
		return nil, &ParseError{Kind: Unparseable, Text: text}
	}
}

// Interpret is Parse with drift recovery: output matching neither convention
// becomes a KindRecovered outcome carrying the cleaned text. Contradictions
// are still returned as *ParseError.
func Interpret(text string) (*Outcome, error) {
	out, err := Parse(text)
	if err == nil {
		return out, nil
	}
	var pe *ParseError
	if errors.As(err, &pe) && pe.Kind == Unparseable {
		return &Outcome{Kind: KindRecovered, Answer: clean(text), Text: text}, nil
	}
	return nil, err
}

// extractAction reads the first fenced block of text as an action.
func extractAction(text string) (Action, bool) {
	parts := strings.SplitN(text, fence, 3)
	if len(parts) < 2 {
		return Action{}, false
	}
	block := parts[1]

	if body, ok := cutTag(block, "python"); ok {
		return Action{Tool: ToolPython, Input: strings.TrimRight(body, " \t\r\n")}, true
	}
	for _, tag := range []string{"sh", "bash"} {
		if body, ok := cutTag(block, tag); ok {
			return Action{Tool: ToolShell, Input: strings.TrimSpace(body)}, true
		}
	}
	if body, ok := cutTag(block, "json"); ok {
		block = body
	}
	return decodeAction(block)
}

// cutTag strips a "<tag>\n" language line from the start of block.
func cutTag(block, tag string) (string, bool) {
	return strings.CutPrefix(block, tag+"\n")
}

func decodeAction(block string) (Action, bool) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(block)), &raw); err != nil {
		return Action{}, false
	}
	nameRaw, okName := raw["action"]
	inputRaw, okInput := raw["action_input"]
	if !okName || !okInput {
		return Action{}, false
	}

	var name string
	if err := json.Unmarshal(nameRaw, &name); err != nil || name == "" {
		return Action{}, false
	}

	var input string
	if err := json.Unmarshal(inputRaw, &input); err != nil {
		// Structured inputs are passed on as compact JSON text.
		var v any
		if err := json.Unmarshal(inputRaw, &v); err != nil {
			return Action{}, false
		}
		b, _ := json.Marshal(v)
		input = string(b)
	}
	return Action{Tool: name, Input: input}, true
}

// clean strips code fences and surrounding whitespace from drifted output.
func clean(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "Thought:")
	text = strings.ReplaceAll(text, fence, "")
	return strings.TrimSpace(text)
}
