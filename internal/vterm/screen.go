// Package vterm renders pseudo-terminal output the way a terminal would show it.
package vterm

import (
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/x/vt"
)

// Screen is the live terminal grid of one PTY session.
//
// Programs on a terminal sometimes query it (cursor position, device
// attributes) and stall until they get an answer. The emulator produces the
// answers; once a PTY is attached the screen writes them back to it.
type Screen struct {
	emu *vt.SafeEmulator

	mu      sync.Mutex
	answers io.Writer

	closed    atomic.Bool
	closeOnce sync.Once
	pumpDone  chan struct{}
}

func NewScreen(cols, rows int) *Screen {
	s := &Screen{
		emu:      vt.NewSafeEmulator(cols, rows),
		pumpDone: make(chan struct{}),
	}
	go s.pump()
	return s
}

// Attach routes answers to terminal queries to w, normally the PTY master
// the program reads from. Answers produced before Attach, or after a write
// to w fails, are dropped.
func (s *Screen) Attach(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = w
}

// Write feeds program output to the grid. Output arriving after Close is
// accepted and dropped so the PTY drain never stalls on a released screen.
func (s *Screen) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return len(p), nil
	}
	return s.emu.Write(p)
}

// Text returns the visible grid as plain text, without trailing blanks.
func (s *Screen) Text() string {
	lines := strings.Split(normalizeLineEnds(s.emu.String()), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " ")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

func (s *Screen) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		// ends the emu.Read blocked in pump; emu.Close must not race it
		if pw, ok := s.emu.InputPipe().(io.Closer); ok {
			pw.Close()
		}
		<-s.pumpDone
		s.emu.Close()
	})
	return nil
}

// pump drains the emulator's answers for as long as it lives. The emulator
// blocks on unread answers, so they are read even when nothing is attached.
func (s *Screen) pump() {
	defer close(s.pumpDone)
	buf := make([]byte, 256)
	for {
		n, err := s.emu.Read(buf)
		if n > 0 {
			s.answer(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (s *Screen) answer(p []byte) {
	s.mu.Lock()
	w := s.answers
	s.mu.Unlock()
	if w == nil {
		return
	}
	if _, err := w.Write(p); err != nil {
		// the pty is gone; later answers have nowhere to go
		s.mu.Lock()
		if s.answers == w {
			s.answers = nil
		}
		s.mu.Unlock()
	}
}

func normalizeLineEnds(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "")
}

func trimTrailingEmptyLines(s string) string {
	lines := strings.Split(s, "\n")
	last := len(lines) - 1
	for last >= 0 && strings.TrimRight(lines[last], " ") == "" {
		last--
	}
	if last < 0 {
		return ""
	}
	return strings.Join(lines[:last+1], "\n")
}
