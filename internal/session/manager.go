// Package session owns the registry of launched commands and their lifecycle.
//
// A Manager starts a command, waits for it up to a timeout, and hands the
// caller whatever happened first: completion or a still-running session that
// continues in the background. Exit is observed by a watcher goroutine per
// session, so background completion is recorded without anyone polling.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/schovi/devcontrol/internal/launcher"
	"github.com/schovi/devcontrol/internal/output"
	"github.com/schovi/devcontrol/internal/vterm"
)

type Launcher interface {
	Launch(spec launcher.Spec) (*launcher.Handle, error)
}

type Policy interface {
	CheckCommand(command string) error
	CheckDirectory(dir string) error
}

type allowAll struct{}

func (allowAll) CheckCommand(string) error   { return nil }
func (allowAll) CheckDirectory(string) error { return nil }

type StartRequest struct {
	Command string
	Shell   string
	Dir     string
	// Timeout bounds how long Start waits for the command. Zero uses the
	// manager default.
	Timeout time.Duration
	PTY     bool
	// Env holds KEY=VALUE pairs added after the manager's base environment.
	Env []string
}

type StartResult struct {
	SessionID string `json:"session_id"`
	PID       int    `json:"pid"`
	State     State  `json:"state"`
	ExitCode  *int   `json:"exit_code,omitempty"`
	Output    string `json:"output"`
	Dropped   int64  `json:"dropped_bytes,omitempty"`
}

type ReadOptions struct {
	// Reader names the cursor to advance. Empty is the default cursor shared
	// with Start.
	Reader    string
	All       bool
	StripANSI bool
	Screen    bool
}

type ReadResult struct {
	SessionID string `json:"session_id"`
	State     State  `json:"state"`
	ExitCode  *int   `json:"exit_code,omitempty"`
	Output    string `json:"output"`
	Cursor    uint64 `json:"cursor"`
	Dropped   int64  `json:"dropped_bytes,omitempty"`
}

type TerminateResult struct {
	SessionID string `json:"session_id"`
	Previous  State  `json:"previous_state"`
	State     State  `json:"state"`
	// Confirmed is false when the process was not seen to exit after
	// SIGKILL.
	Confirmed bool `json:"confirmed"`
}

type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	launcher Launcher
	policy   Policy
	log      zerolog.Logger

	defaultTimeout time.Duration
	grace          time.Duration
	retention      time.Duration
	sweepInterval  time.Duration
	maxOutput      int64
	cols, rows     int
	env            []string

	stopOnce sync.Once
	stop     chan struct{}
	sweeper  sync.WaitGroup
	closed   bool
}

type Option func(*Manager)

func WithPolicy(p Policy) Option {
	return func(m *Manager) {
		if p != nil {
			m.policy = p
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

func WithDefaultTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.defaultTimeout = d
		}
	}
}

func WithGracePeriod(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.grace = d
		}
	}
}

// WithRetention evicts terminal sessions that ended more than ttl ago. A ttl
// of 0 keeps them forever.
func WithRetention(ttl time.Duration) Option {
	return func(m *Manager) {
		m.retention = ttl
	}
}

func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.sweepInterval = d
		}
	}
}

// WithMaxOutputSize caps the retained output per session. 0 means unbounded.
func WithMaxOutputSize(size int64) Option {
	return func(m *Manager) {
		m.maxOutput = size
	}
}

// WithScreenSize sets the emulated terminal size for PTY sessions. It should
// match the size the launcher gives the pty.
func WithScreenSize(cols, rows int) Option {
	return func(m *Manager) {
		if cols > 0 {
			m.cols = cols
		}
		if rows > 0 {
			m.rows = rows
		}
	}
}

// WithEnv adds KEY=VALUE pairs to the environment of every command.
func WithEnv(env []string) Option {
	return func(m *Manager) {
		m.env = append([]string(nil), env...)
	}
}

func NewManager(l Launcher, opts ...Option) *Manager {
	m := &Manager{
		sessions:       make(map[string]*Session),
		launcher:       l,
		policy:         allowAll{},
		log:            zerolog.Nop(),
		defaultTimeout: DefaultTimeout,
		grace:          KillGracePeriod,
		retention:      DefaultRetention,
		sweepInterval:  DefaultSweepInterval,
		maxOutput:      DefaultMaxOutputSize,
		cols:           DefaultScreenCols,
		rows:           DefaultScreenRows,
		stop:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.retention > 0 {
		m.sweeper.Add(1)
		go m.runSweep()
	}
	return m
}

// Start launches a command and waits until it exits, the timeout fires or
// ctx is cancelled, whichever comes first. A command still running at that
// point is backgrounded, never killed.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	if err := m.policy.CheckCommand(req.Command); err != nil {
		m.log.Warn().Err(err).Str("command", req.Command).Msg("command rejected")
		return nil, err
	}
	if req.Dir != "" {
		if err := m.policy.CheckDirectory(req.Dir); err != nil {
			m.log.Warn().Err(err).Str("dir", req.Dir).Msg("working directory rejected")
			return nil, err
		}
	}

	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrShutdown
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}

	buf := output.New(m.maxOutput)
	spec := launcher.Spec{
		Command: req.Command,
		Shell:   req.Shell,
		Dir:     req.Dir,
		PTY:     req.PTY,
		Env:     append(append([]string(nil), m.env...), req.Env...),
	}
	var screen *vterm.Screen
	if req.PTY {
		screen = vterm.NewScreen(m.cols, m.rows)
		spec.Stdout = io.MultiWriter(buf.Writer(output.PTY), screen)
	} else {
		spec.Stdout = buf.Writer(output.Stdout)
		spec.Stderr = buf.Writer(output.Stderr)
	}

	h, err := m.launcher.Launch(spec)
	if err != nil {
		if screen != nil {
			screen.Close()
		}
		m.log.Error().Err(err).Str("command", req.Command).Msg("launch failed")
		return nil, err
	}
	if screen != nil {
		if in := h.Input(); in != nil {
			screen.Attach(in)
		}
	}

	sess := &Session{
		ID:        uuid.NewString(),
		Command:   req.Command,
		Shell:     req.Shell,
		Dir:       req.Dir,
		PTY:       req.PTY,
		PID:       h.PID(),
		StartedAt: h.StartedAt(),
		output:    buf,
		screen:    screen,
		handle:    h,
		exited:    make(chan struct{}),
		state:     StateRunning,
	}

	// Shutdown may have run while the command was launching; it would never
	// see this session, so the process must not outlive the check.
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.abandon(sess)
		return nil, ErrShutdown
	}
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	go m.watch(sess)

	m.log.Info().
		Str("session_id", sess.ID).
		Int("pid", sess.PID).
		Str("command", sess.Command).
		Dur("timeout", timeout).
		Msg("session started")

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-sess.exited:
	case <-timer.C:
		m.background(sess, "timeout")
	case <-ctx.Done():
		m.background(sess, "context done")
	}

	sum := sess.Summary()
	read := buf.ReadNext(output.DefaultReader)
	return &StartResult{
		SessionID: sess.ID,
		PID:       sess.PID,
		State:     sum.State,
		ExitCode:  sum.ExitCode,
		Output:    read.String(),
		Dropped:   read.Dropped,
	}, nil
}

// abandon kills a process launched after shutdown began and waits for it.
func (m *Manager) abandon(s *Session) {
	if err := s.handle.Signal(syscall.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
		m.log.Warn().Err(err).Int("pid", s.PID).Msg("signal failed")
	}
	select {
	case <-s.handle.Done():
	case <-time.After(m.grace):
		m.log.Error().Err(ErrTerminationTimeout).Int("pid", s.PID).Msg("process launched during shutdown")
	}
	s.release()
}

func (m *Manager) background(s *Session, reason string) {
	ev := event{kind: eventTimedOut, at: time.Now()}
	if _, _, changed := s.apply(ev); changed {
		m.log.Info().
			Str("session_id", s.ID).
			Stringer("event", ev.kind).
			Str("reason", reason).
			Msg("session backgrounded")
	}
}

// watch applies the exit event when the process ends, however long that
// takes.
func (m *Manager) watch(s *Session) {
	exit := s.handle.Wait()
	ev := event{kind: eventExited, exit: exit, at: time.Now()}
	prev, next, changed := s.apply(ev)
	if !changed {
		s.recordExit(exit)
	}
	close(s.exited)

	if exit.Err != nil {
		m.log.Warn().Err(exit.Err).Str("session_id", s.ID).Msg("wait failed")
	}
	if !changed {
		m.log.Debug().
			Str("session_id", s.ID).
			Stringer("event", ev.kind).
			Str("state", string(prev)).
			Msg("event ignored in terminal state")
		return
	}
	line := m.log.Info().
		Str("session_id", s.ID).
		Stringer("event", ev.kind).
		Str("state", string(next)).
		Int("exit_code", exit.Code)
	if exit.Signal != "" {
		line = line.Str("signal", exit.Signal)
	}
	if prev == StateBackgrounded {
		line.Msg("background session completed")
		return
	}
	line.Msg("session completed")
}

// ReadOutput returns output the reader has not seen yet. It never waits for
// more output.
func (m *Manager) ReadOutput(id string, opts ReadOptions) (*ReadResult, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	if opts.Screen && s.screen == nil {
		return nil, fmt.Errorf("session %s: %w", id, ErrNoScreen)
	}

	// State first: a terminal state read here guarantees the output below
	// is complete.
	sum := s.Summary()
	res := &ReadResult{
		SessionID: id,
		State:     sum.State,
		ExitCode:  sum.ExitCode,
	}

	switch {
	case opts.Screen:
		res.Output = s.screen.Text()
		res.Cursor = s.output.Cursor(opts.Reader)
	case opts.All:
		res.Output = output.Join(s.output.ReadAll())
		res.Cursor = s.output.Cursor(opts.Reader)
		res.Dropped = s.output.Dropped()
	default:
		read := s.output.ReadNext(opts.Reader)
		res.Output = read.String()
		res.Cursor = read.Cursor
		res.Dropped = read.Dropped
	}

	if opts.StripANSI && !opts.Screen {
		res.Output = vterm.Strip(res.Output, m.cols)
	}
	return res, nil
}

// Terminate marks a live session terminated, then signals its process group
// with SIGTERM and, if it lingers, SIGKILL. Terminating a session that has
// already ended reports its existing state.
func (m *Manager) Terminate(ctx context.Context, id string) (*TerminateResult, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	prev, next, changed := s.apply(event{kind: eventTerminated, at: time.Now()})
	res := &TerminateResult{SessionID: id, Previous: prev, State: next, Confirmed: true}
	if !changed {
		return res, nil
	}

	m.log.Info().Str("session_id", id).Int("pid", s.PID).Str("previous", string(prev)).Msg("terminating session")
	res.Confirmed = m.kill(ctx, s)
	return res, nil
}

func (m *Manager) kill(ctx context.Context, s *Session) bool {
	for _, sig := range []syscall.Signal{syscall.SIGTERM, syscall.SIGKILL} {
		if err := s.handle.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
			m.log.Warn().Err(err).Str("session_id", s.ID).Str("signal", sig.String()).Msg("signal failed")
		}
		if waitFor(ctx, s.exited, m.grace) {
			return true
		}
	}
	m.log.Error().Err(ErrTerminationTimeout).Str("session_id", s.ID).Int("pid", s.PID).Msg("termination unconfirmed")
	return false
}

func waitFor(ctx context.Context, done <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
	case <-ctx.Done():
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// List returns every registered session ordered by start time, then id.
func (m *Manager) List() []Summary {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Manager) Get(id string) (Summary, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Summary{}, err
	}
	return s.Summary(), nil
}

func (m *Manager) lookup(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrSessionNotFound)
	}
	return s, nil
}

func (m *Manager) runSweep() {
	defer m.sweeper.Done()
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.sweep(now)
		}
	}
}

// sweep evicts terminal sessions past retention and returns how many it
// removed.
func (m *Manager) sweep(now time.Time) int {
	if m.retention <= 0 {
		return 0
	}
	var evicted []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.expired(now, m.retention) {
			evicted = append(evicted, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range evicted {
		s.release()
		m.log.Debug().Str("session_id", s.ID).Msg("session evicted")
	}
	return len(evicted)
}

// Shutdown stops the retention sweep and terminates every live session
// concurrently. Sessions stay registered so their final state can still be
// read.
func (m *Manager) Shutdown(ctx context.Context) {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	m.sweeper.Wait()

	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var wg conc.WaitGroup
	for _, s := range sessions {
		if !s.State().Live() {
			s.release()
			continue
		}
		wg.Go(func() {
			if _, err := m.Terminate(ctx, s.ID); err != nil {
				m.log.Warn().Err(err).Str("session_id", s.ID).Msg("terminate on shutdown")
			}
			s.release()
		})
	}
	wg.Wait()
	m.log.Info().Int("sessions", len(sessions)).Msg("session manager stopped")
}
