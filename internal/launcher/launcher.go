// Package launcher spawns shell commands as OS processes.
//
// Each command runs as `<shell> -c <command>` in its own process group so a
// signal sent through the handle reaches every process the command forked.
// Output is delivered to caller-supplied writers, either from separate
// stdout/stderr pipes or, in PTY mode, from a single pseudo-terminal.
package launcher

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

const (
	FallbackShell    = "/bin/sh"
	DefaultWaitDelay = 2 * time.Second
	DefaultPTYCols   = 200
	DefaultPTYRows   = 50
	ReadBufferSize   = 4096
)

var ErrEmptyCommand = errors.New("command is empty")

// LaunchError reports a command that could not be spawned. No process is
// left running when it is returned.
type LaunchError struct {
	Command string
	Shell   string
	Dir     string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %q: %v", e.Command, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Spec describes one command to launch.
type Spec struct {
	Command string
	// Shell overrides the launcher's default shell.
	Shell string
	Dir   string
	// Env is appended to the server's environment.
	Env []string
	PTY bool

	// Stdout receives standard output, or everything in PTY mode.
	Stdout io.Writer
	// Stderr receives standard error. Unused in PTY mode.
	Stderr io.Writer
}

type Launcher struct {
	mu           sync.RWMutex
	defaultShell string
	waitDelay    time.Duration
	cols, rows   uint16
}

type Option func(*Launcher)

func WithDefaultShell(shell string) Option {
	return func(l *Launcher) {
		l.defaultShell = shell
	}
}

// WithWaitDelay bounds how long output is drained after the command exits
// while a descendant still holds its output open.
func WithWaitDelay(d time.Duration) Option {
	return func(l *Launcher) {
		l.waitDelay = d
	}
}

func WithPTYSize(cols, rows int) Option {
	return func(l *Launcher) {
		if cols > 0 {
			l.cols = uint16(cols)
		}
		if rows > 0 {
			l.rows = uint16(rows)
		}
	}
}

func New(opts ...Option) *Launcher {
	l := &Launcher{
		waitDelay: DefaultWaitDelay,
		cols:      DefaultPTYCols,
		rows:      DefaultPTYRows,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetDefaultShell replaces the shell used when a Spec names none.
func (l *Launcher) SetDefaultShell(shell string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.defaultShell = shell
}

// ResolveShell picks the explicit shell, then the configured default, then
// $SHELL, then /bin/sh.
func (l *Launcher) ResolveShell(shell string) string {
	if shell != "" {
		return shell
	}
	l.mu.RLock()
	def := l.defaultShell
	l.mu.RUnlock()
	if def != "" {
		return def
	}
	if env := os.Getenv("SHELL"); env != "" {
		return env
	}
	return FallbackShell
}

func (l *Launcher) Launch(spec Spec) (*Handle, error) {
	shell := l.ResolveShell(spec.Shell)
	fail := func(err error) (*Handle, error) {
		return nil, &LaunchError{Command: spec.Command, Shell: shell, Dir: spec.Dir, Err: err}
	}

	if strings.TrimSpace(spec.Command) == "" {
		return fail(ErrEmptyCommand)
	}
	if spec.Dir != "" {
		info, err := os.Stat(spec.Dir)
		if err != nil {
			return fail(fmt.Errorf("working directory: %w", err))
		}
		if !info.IsDir() {
			return fail(fmt.Errorf("working directory %s: not a directory", spec.Dir))
		}
	}
	shellPath, err := exec.LookPath(shell)
	if err != nil {
		return fail(fmt.Errorf("shell: %w", err))
	}

	cmd := exec.Command(shellPath, "-c", spec.Command)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)

	h := &Handle{
		cmd:       cmd,
		waitDelay: l.waitDelay,
		done:      make(chan struct{}),
	}

	if spec.PTY {
		cmd.Env = append(cmd.Env, "TERM=xterm-256color")
		ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: l.cols, Rows: l.rows})
		if err != nil {
			return fail(fmt.Errorf("start pty: %w", err))
		}
		h.pty = ptmx
		h.drained = make(chan struct{})
		go h.drainPTY(writerOrDiscard(spec.Stdout))
	} else {
		cmd.Stdout = writerOrDiscard(spec.Stdout)
		cmd.Stderr = writerOrDiscard(spec.Stderr)
		cmd.WaitDelay = l.waitDelay
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		if err := cmd.Start(); err != nil {
			return fail(err)
		}
	}

	h.pid = cmd.Process.Pid
	h.startedAt = time.Now()
	go h.wait()

	return h, nil
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

// Exit describes how a process ended.
type Exit struct {
	Code int
	// Signal names the signal that killed the process, if any.
	Signal string
	// Err carries a wait failure unrelated to the exit status.
	Err error
}

func (e Exit) Success() bool {
	return e.Code == 0 && e.Signal == "" && e.Err == nil
}

// Handle is a running command. It is safe for concurrent use.
type Handle struct {
	cmd       *exec.Cmd
	pty       *os.File
	pid       int
	startedAt time.Time
	waitDelay time.Duration

	drained chan struct{}
	done    chan struct{}
	exit    Exit
}

func (h *Handle) PID() int {
	return h.pid
}

func (h *Handle) StartedAt() time.Time {
	return h.startedAt
}

// Done is closed once the process has exited and its output is drained.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the process exits.
func (h *Handle) Wait() Exit {
	<-h.done
	return h.exit
}

// Input returns the terminal of a PTY command, or nil in pipe mode.
func (h *Handle) Input() io.Writer {
	if h.pty == nil {
		return nil
	}
	return h.pty
}

// Signal delivers sig to the command's whole process group.
func (h *Handle) Signal(sig syscall.Signal) error {
	select {
	case <-h.done:
		return os.ErrProcessDone
	default:
	}
	if err := unix.Kill(-h.pid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return os.ErrProcessDone
		}
		return fmt.Errorf("signal %s to group %d: %w", sig, h.pid, err)
	}
	return nil
}

func (h *Handle) drainPTY(w io.Writer) {
	defer close(h.drained)

	buf := make([]byte, ReadBufferSize)
	for {
		n, err := h.pty.Read(buf)
		if n > 0 {
			w.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (h *Handle) wait() {
	err := h.cmd.Wait()

	if h.pty != nil {
		select {
		case <-h.drained:
		case <-time.After(h.waitDelay):
		}
		h.pty.Close()
		select {
		case <-h.drained:
		case <-time.After(h.waitDelay):
		}
	}

	h.exit = exitFrom(h.cmd.ProcessState, err)
	close(h.done)
}

func exitFrom(state *os.ProcessState, err error) Exit {
	if state == nil {
		return Exit{Code: -1, Err: err}
	}
	exit := Exit{Code: state.ExitCode()}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		exit.Code = -1
		exit.Signal = ws.Signal().String()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) && !errors.Is(err, exec.ErrWaitDelay) {
		exit.Err = err
	}
	return exit
}
