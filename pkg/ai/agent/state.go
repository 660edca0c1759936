// Package agent drives the model and the tools in a reason-act loop.
package agent

// State represents the current state of a run
type State int

const (
	// StateIdle - no run in progress
	StateIdle State = iota
	// StateThinking - waiting for the model
	StateThinking
	// StateToolRunning - a tool is executing
	StateToolRunning
	// StateDone - the run produced an answer
	StateDone
	// StateError - the run failed
	StateError
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateThinking:
		return "thinking"
	case StateToolRunning:
		return "tool_running"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if the state is a terminal state
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateError
}

// CanTransitionTo returns true if the state can transition to the target state
func (s State) CanTransitionTo(target State) bool {
	validTransitions := map[State][]State{
		StateIdle:        {StateThinking},
		StateThinking:    {StateToolRunning, StateThinking, StateDone, StateError},
		StateToolRunning: {StateThinking, StateError},
		StateDone:        {StateIdle, StateThinking},
		StateError:       {StateIdle, StateThinking},
	}

	for _, t := range validTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}
