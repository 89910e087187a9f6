package vterm

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScreen_WriteAndText(t *testing.T) {
	s := NewScreen(80, 24)
	defer s.Close()

	s.Write([]byte("hello world"))

	assert.Contains(t, s.Text(), "hello world")
}

func TestScreen_TextTrimsTrailingBlanks(t *testing.T) {
	s := NewScreen(20, 5)
	defer s.Close()

	s.Write([]byte("one   \r\ntwo\r\n\r\n"))

	assert.Equal(t, "one\ntwo", s.Text())
}

func TestScreen_EmptyText(t *testing.T) {
	s := NewScreen(80, 24)
	defer s.Close()

	assert.Equal(t, "", s.Text())
}

func TestScreen_CursorDrawing(t *testing.T) {
	s := NewScreen(80, 24)
	defer s.Close()

	s.Write([]byte("\x1b[1;1HHeader Line\x1b[2;1HContent Row\x1b[3;1HFooter"))

	got := s.Text()
	assert.Contains(t, got, "Header Line")
	assert.Contains(t, got, "Content Row")
	assert.Contains(t, got, "Footer")
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestScreen_AnswersDeviceAttributes(t *testing.T) {
	s := NewScreen(80, 24)
	defer s.Close()

	var answers lockedBuffer
	s.Attach(&answers)
	s.Write([]byte("\x1b[c"))

	assert.Eventually(t, func() bool {
		return strings.Contains(answers.String(), "\x1b[?")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScreen_UnattachedQueriesDoNotBlock(t *testing.T) {
	s := NewScreen(80, 24)
	defer s.Close()

	done := make(chan struct{})
	go func() {
		for range 50 {
			s.Write([]byte("\x1b[c\x1b[6n"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writes blocked on unanswered queries")
	}
	assert.Equal(t, "", s.Text())
}

type failingWriter struct{ calls atomic.Int32 }

func (w *failingWriter) Write([]byte) (int, error) {
	w.calls.Add(1)
	return 0, errors.New("pty closed")
}

func TestScreen_DetachesFailedWriter(t *testing.T) {
	s := NewScreen(80, 24)
	defer s.Close()

	w := &failingWriter{}
	s.Attach(w)
	s.Write([]byte("\x1b[c"))
	require.Eventually(t, func() bool { return w.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.Write([]byte("\x1b[c"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), w.calls.Load())
}

func TestScreen_WriteAfterClose(t *testing.T) {
	s := NewScreen(80, 24)
	require.NoError(t, s.Close())

	n, err := s.Write([]byte("late"))
	assert.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestScreen_CloseIdempotent(t *testing.T) {
	s := NewScreen(10, 5)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
