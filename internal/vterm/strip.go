package vterm

import (
	"io"
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/charmbracelet/x/vt"
)

const (
	DefaultCols = 200
	maxRows     = 5000
)

// cursorMovement matches sequences that reposition the cursor. Output using
// them only makes sense once replayed on a grid.
var cursorMovement = regexp.MustCompile(`\x1b\[\d*;?\d*[HFfGdABCD]`)

// Strip removes escape sequences and carriage returns from s. Output that
// moves the cursor is replayed on an emulator cols wide first so overwritten
// text does not survive.
func Strip(s string, cols int) string {
	if s == "" {
		return ""
	}
	if !cursorMovement.MatchString(s) {
		return normalizeLineEnds(ansi.Strip(s))
	}
	if cols <= 0 {
		cols = DefaultCols
	}
	rows := min(strings.Count(s, "\n")+100, maxRows)

	emu := vt.NewEmulator(cols, rows)
	// the emulator blocks on unread answers to terminal queries
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		io.Copy(io.Discard, emu)
	}()

	emu.WriteString(onlcr(s))
	out := emu.String()
	if pw, ok := emu.InputPipe().(io.Closer); ok {
		pw.Close()
	}
	<-drained
	emu.Close()

	return trimTrailingEmptyLines(normalizeLineEnds(out))
}

// onlcr turns bare \n into \r\n the way a tty line discipline does.
func onlcr(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 32)
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' && (i == 0 || s[i-1] != '\r') {
			b.WriteByte('\r')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
