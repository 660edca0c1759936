// Package render prints copilot output to the terminal: answers as
// markdown, run steps as styled one-line labels.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/cloudbro-kube-ai/kube-copilot/pkg/ai/agent"
)

const defaultWidth = 80

// Printer writes styled output to a terminal or a plain writer.
type Printer struct {
	out   io.Writer
	width int
	tty   bool

	step    lipgloss.Style
	warn    lipgloss.Style
	failure lipgloss.Style
	muted   lipgloss.Style
}

// NewPrinter styles output for out. Non-terminal writers get plain text.
func NewPrinter(out io.Writer) *Printer {
	p := &Printer{out: out, width: defaultWidth}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.tty = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			p.width = w
		}
	}

	r := lipgloss.NewRenderer(out)
	p.step = r.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	p.warn = r.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	p.failure = r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	p.muted = r.NewStyle().Foreground(lipgloss.Color("8"))
	return p
}

// Markdown renders md with glamour, falling back to the raw text.
func (p *Printer) Markdown(md string) error {
	style := glamour.WithAutoStyle()
	if !p.tty {
		style = glamour.WithStandardStyle("notty")
	}
	styler, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(p.width))
	if err != nil {
		fmt.Fprintln(p.out, md)
		return err
	}

	out, err := styler.Render(md)
	if err != nil {
		fmt.Fprintln(p.out, md)
		return err
	}
	fmt.Fprintln(p.out, out)
	return nil
}

// Step prints a tool invocation.
func (p *Printer) Step(tool, input string) {
	fmt.Fprintf(p.out, "%s %s\n", p.step.Render("✅ "+tool+":"), input)
}

// Warn prints a parsing error or similar recoverable problem.
func (p *Printer) Warn(label, text string) {
	fmt.Fprintf(p.out, "%s %s\n", p.warn.Render("⚠️ "+label+":"), text)
}

// Error prints a failure.
func (p *Printer) Error(err error) {
	fmt.Fprintln(p.out, p.failure.Render("Error: "+err.Error()))
}

// Observation prints tool output, indented and dimmed.
func (p *Printer) Observation(text string) {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return
	}
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	fmt.Fprintln(p.out, p.muted.Render(strings.Join(lines, "\n")))
}

// Listener prints run steps as they happen. Final answers are left to the
// caller.
type Listener struct {
	agent.NullListener
	p       *Printer
	verbose bool
	mu      sync.Mutex
}

var _ agent.Listener = (*Listener)(nil)

// NewListener prints steps with p. Verbose also prints thoughts and tool
// output.
func NewListener(p *Printer, verbose bool) *Listener {
	return &Listener{p: p, verbose: verbose}
}

func (l *Listener) Thought(runID, text string) {
	if !l.verbose {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.p.Observation(text)
}

func (l *Listener) ToolStarted(step *agent.Step) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.p.Step(step.Tool, step.Input)
}

func (l *Listener) ToolFinished(step *agent.Step) {
	if !l.verbose {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.p.Observation(step.Observation)
}

func (l *Listener) ParseError(runID, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.p.Warn("Parsing error", text)
}
