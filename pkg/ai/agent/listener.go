package agent

import (
	"sync"
	"time"
)

// Step is one tool invocation within a run.
type Step struct {
	RunID       string        `json:"run_id"`
	Index       int           `json:"index"`
	Tool        string        `json:"tool"`
	Input       string        `json:"input"`
	Observation string        `json:"observation,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
}

// Listener receives run events. The CLI renders them to the terminal and
// the web server streams them to the browser.
type Listener interface {
	RunStarted(runID, prompt string)
	StateChanged(runID string, state State)
	Thought(runID, text string)
	ToolStarted(step *Step)
	ToolFinished(step *Step)
	ParseError(runID, text string)
	Final(runID, answer string)
	RunFailed(runID string, err error)
}

// NullListener is a no-op implementation of Listener.
type NullListener struct{}

func (NullListener) RunStarted(string, string)  {}
func (NullListener) StateChanged(string, State) {}
func (NullListener) Thought(string, string)     {}
func (NullListener) ToolStarted(*Step)          {}
func (NullListener) ToolFinished(*Step)         {}
func (NullListener) ParseError(string, string)  {}
func (NullListener) Final(string, string)       {}
func (NullListener) RunFailed(string, error)    {}

// MultiListener broadcasts events to multiple listeners.
// Safe for concurrent Add/Remove/broadcast.
type MultiListener struct {
	mu        sync.RWMutex
	listeners []Listener
}

// NewMultiListener creates a MultiListener over ls.
func NewMultiListener(ls ...Listener) *MultiListener {
	return &MultiListener{listeners: append([]Listener(nil), ls...)}
}

// Add adds a listener
func (m *MultiListener) Add(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Remove removes a listener
func (m *MultiListener) Remove(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, listener := range m.listeners {
		if listener == l {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			return
		}
	}
}

// snapshot returns a copy of the listeners for safe iteration
func (m *MultiListener) snapshot() []Listener {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Listener, len(m.listeners))
	copy(out, m.listeners)
	return out
}

func (m *MultiListener) RunStarted(runID, prompt string) {
	for _, l := range m.snapshot() {
		l.RunStarted(runID, prompt)
	}
}

func (m *MultiListener) StateChanged(runID string, state State) {
	for _, l := range m.snapshot() {
		l.StateChanged(runID, state)
	}
}

func (m *MultiListener) Thought(runID, text string) {
	for _, l := range m.snapshot() {
		l.Thought(runID, text)
	}
}

func (m *MultiListener) ToolStarted(step *Step) {
	for _, l := range m.snapshot() {
		l.ToolStarted(step)
	}
}

func (m *MultiListener) ToolFinished(step *Step) {
	for _, l := range m.snapshot() {
		l.ToolFinished(step)
	}
}

func (m *MultiListener) ParseError(runID, text string) {
	for _, l := range m.snapshot() {
		l.ParseError(runID, text)
	}
}

func (m *MultiListener) Final(runID, answer string) {
	for _, l := range m.snapshot() {
		l.Final(runID, answer)
	}
}

func (m *MultiListener) RunFailed(runID string, err error) {
	for _, l := range m.snapshot() {
		l.RunFailed(runID, err)
	}
}
