package session

import "fmt"

type State string

const (
	StateRunning          State = "running"
	StateBackgrounded     State = "backgrounded"
	StateCompletedSuccess State = "completed_success"
	StateCompletedFailure State = "completed_failure"
	StateTerminated       State = "terminated"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	switch s {
	case StateCompletedSuccess, StateCompletedFailure, StateTerminated:
		return true
	}
	return false
}

// Live reports whether the session's process may still be running.
func (s State) Live() bool {
	return s == StateRunning || s == StateBackgrounded
}

var transitions = map[State][]State{
	StateRunning:      {StateCompletedSuccess, StateCompletedFailure, StateBackgrounded, StateTerminated},
	StateBackgrounded: {StateCompletedSuccess, StateCompletedFailure, StateTerminated},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type eventKind int

const (
	eventExited eventKind = iota
	eventTimedOut
	eventTerminated
)

func (k eventKind) String() string {
	switch k {
	case eventExited:
		return "exited"
	case eventTimedOut:
		return "timed_out"
	case eventTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}
