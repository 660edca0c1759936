package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/cloudbro-kube-ai/kube-copilot/pkg/ai/agent"
)

// Event types streamed to the browser.
const (
	EventStarted = "started"
	EventState   = "state"
	EventThought = "thought"
	EventStep    = "step"
	EventResult  = "result"
	EventParse   = "parse_error"
	EventFinal   = "final"
	EventError   = "error"
	EventDone    = "done"
)

// Event is one streamed run event.
type Event struct {
	Type        string `json:"type"`
	RunID       string `json:"run_id,omitempty"`
	Content     string `json:"content,omitempty"`
	Tool        string `json:"tool,omitempty"`
	Observation string `json:"observation,omitempty"`
	DurationMs  int64  `json:"duration_ms,omitempty"`
}

// StepLabel is the markdown line shown for a tool step.
func StepLabel(tool, input string) string {
	return fmt.Sprintf("✅ **%s:** %s", tool, input)
}

// ParseErrorLabel is the markdown line shown when model output did not parse.
func ParseErrorLabel(text string) string {
	return "⚠️ **Parsing error:** " + text
}

// EventListener turns agent callbacks into Events.
type EventListener struct {
	emit func(Event)
}

var _ agent.Listener = (*EventListener)(nil)

// NewEventListener calls emit for every event of a run.
func NewEventListener(emit func(Event)) *EventListener {
	return &EventListener{emit: emit}
}

func (l *EventListener) RunStarted(runID, prompt string) {
	l.emit(Event{Type: EventStarted, RunID: runID})
}

func (l *EventListener) StateChanged(runID string, s agent.State) {
	l.emit(Event{Type: EventState, RunID: runID, Content: s.String()})
}

func (l *EventListener) Thought(runID, text string) {
	l.emit(Event{Type: EventThought, RunID: runID, Content: text})
}

func (l *EventListener) ToolStarted(step *agent.Step) {
	l.emit(Event{Type: EventStep, RunID: step.RunID, Tool: step.Tool, Content: StepLabel(step.Tool, step.Input)})
}

func (l *EventListener) ToolFinished(step *agent.Step) {
	l.emit(Event{
		Type:        EventResult,
		RunID:       step.RunID,
		Tool:        step.Tool,
		Observation: step.Observation,
		DurationMs:  step.Duration.Milliseconds(),
	})
}

func (l *EventListener) ParseError(runID, text string) {
	l.emit(Event{Type: EventParse, RunID: runID, Content: ParseErrorLabel(text)})
}

func (l *EventListener) Final(runID, answer string) {
	l.emit(Event{Type: EventFinal, RunID: runID, Content: answer})
}

func (l *EventListener) RunFailed(runID string, err error) {
	l.emit(Event{Type: EventError, RunID: runID, Content: err.Error()})
}

type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewSSEWriter prepares w for server-sent events. It fails when w cannot
// flush.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent sends ev as "event: <type>" with a JSON data line.
func (s *SSEWriter) WriteEvent(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
