package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// HumanTool asks the operator a question on a terminal.
type HumanTool struct {
	in  *bufio.Reader
	out io.Writer

	// turn admits one question at a time.
	turn chan struct{}
	once sync.Once
	req  chan struct{}
	resp chan humanAnswer
	// pending is set while a read requested by a cancelled call is still
	// outstanding; the next call takes its answer. Guarded by turn.
	pending bool
}

type humanAnswer struct {
	line string
	err  error
}

// NewHumanTool reads answers from in and writes questions to out.
func NewHumanTool(in io.Reader, out io.Writer) *HumanTool {
	return &HumanTool{
		in:   bufio.NewReader(in),
		out:  out,
		turn: make(chan struct{}, 1),
		req:  make(chan struct{}),
		resp: make(chan humanAnswer),
	}
}

func (h *HumanTool) Name() string { return "human" }

func (h *HumanTool) Description() string {
	return "Ask the user a question when you need clarification or information only they have."
}

func (h *HumanTool) InputSchema() string {
	return "the question for the user."
}

// reader reads one line per request so the terminal is only consumed while
// a question is open.
func (h *HumanTool) reader() {
	for range h.req {
		line, err := h.in.ReadString('\n')
		h.resp <- humanAnswer{line: line, err: err}
	}
}

// Call prints the question and waits for one line of input or for ctx to
// end, whichever comes first.
func (h *HumanTool) Call(ctx context.Context, input string) (string, error) {
	select {
	case h.turn <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-h.turn }()

	h.once.Do(func() { go h.reader() })

	fmt.Fprintf(h.out, "\n%s\n> ", strings.TrimSpace(input))
	if !h.pending {
		select {
		case h.req <- struct{}{}:
			h.pending = true
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	select {
	case a := <-h.resp:
		h.pending = false
		if a.err != nil && !(errors.Is(a.err, io.EOF) && a.line != "") {
			return "", fmt.Errorf("failed to read answer: %w", a.err)
		}
		return strings.TrimSpace(a.line), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
