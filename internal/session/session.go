package session

import (
	"sync"
	"time"

	"github.com/schovi/devcontrol/internal/launcher"
	"github.com/schovi/devcontrol/internal/output"
	"github.com/schovi/devcontrol/internal/vterm"
)

// Session is one launched command. Identity fields are fixed at creation;
// lifecycle fields change only through apply.
type Session struct {
	ID        string
	Command   string
	Shell     string
	Dir       string
	PTY       bool
	PID       int
	StartedAt time.Time

	output *output.Buffer
	screen *vterm.Screen
	handle *launcher.Handle
	// exited is closed once the exit event has been applied.
	exited chan struct{}

	mu       sync.Mutex
	state    State
	exitCode *int
	signal   string
	failure  string
	endedAt  time.Time
}

// Summary is a point-in-time view of a session.
type Summary struct {
	ID        string     `json:"session_id"`
	Command   string     `json:"command"`
	Shell     string     `json:"shell,omitempty"`
	Dir       string     `json:"working_directory,omitempty"`
	PTY       bool       `json:"pty,omitempty"`
	PID       int        `json:"pid"`
	State     State      `json:"state"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	Signal    string     `json:"signal,omitempty"`
	Error     string     `json:"error,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	RuntimeMs int64      `json:"runtime_ms"`
}

type event struct {
	kind eventKind
	exit launcher.Exit
	at   time.Time
}

// apply moves the session along the lifecycle. Events that do not name a
// legal edge from the current state leave it untouched and report
// changed=false, so a late exit cannot overwrite terminated and a late
// timeout cannot overwrite completion.
func (s *Session) apply(ev event) (prev, next State, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev = s.state
	switch ev.kind {
	case eventExited:
		next = StateCompletedFailure
		if ev.exit.Success() {
			next = StateCompletedSuccess
		}
	case eventTimedOut:
		next = StateBackgrounded
	case eventTerminated:
		next = StateTerminated
	}
	if !CanTransition(prev, next) {
		return prev, prev, false
	}

	s.state = next
	if next.Terminal() {
		s.endedAt = ev.at
	}
	if ev.kind == eventExited {
		code := ev.exit.Code
		s.exitCode = &code
		s.signal = ev.exit.Signal
		if ev.exit.Err != nil {
			s.failure = ev.exit.Err.Error()
		}
	}
	return prev, next, true
}

// recordExit stores how a terminated process finally ended without
// changing its state.
func (s *Session) recordExit(exit launcher.Exit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exitCode == nil {
		code := exit.Code
		s.exitCode = &code
		s.signal = exit.Signal
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaryLocked(time.Now())
}

func (s *Session) summaryLocked(now time.Time) Summary {
	sum := Summary{
		ID:        s.ID,
		Command:   s.Command,
		Shell:     s.Shell,
		Dir:       s.Dir,
		PTY:       s.PTY,
		PID:       s.PID,
		State:     s.state,
		Signal:    s.signal,
		Error:     s.failure,
		StartedAt: s.StartedAt,
	}
	if s.exitCode != nil {
		code := *s.exitCode
		sum.ExitCode = &code
	}
	end := now
	if !s.endedAt.IsZero() {
		ended := s.endedAt
		sum.EndedAt = &ended
		end = ended
	}
	sum.RuntimeMs = end.Sub(s.StartedAt).Milliseconds()
	return sum
}

// expired reports whether the session ended more than ttl before now.
func (s *Session) expired(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Terminal() && !s.endedAt.IsZero() && now.Sub(s.endedAt) > ttl
}

func (s *Session) release() {
	if s.screen != nil {
		s.screen.Close()
	}
}
