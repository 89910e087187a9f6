package vterm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStrip(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text", "hello world", "hello world"},
		{"color codes", "\x1b[31mred\x1b[0m", "red"},
		{"bold color", "\x1b[1;32mgreen bold\x1b[0m", "green bold"},
		{"OSC title", "\x1b]0;window title\x07text", "text"},
		{"DEC private mode", "\x1b[?25hvisible cursor", "visible cursor"},
		{"crlf", "one\r\ntwo\r\n", "one\ntwo\n"},
		{"prompt", "\x1b[1;34muser@host:\x1b[0m$ ls\r\n", "user@host:$ ls\n"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Strip(tt.input, 80))
		})
	}
}

func TestStrip_CursorPositionedOutput(t *testing.T) {
	input := "\x1b[1;1Hfirst row\x1b[2;1Hsecond row\x1b[1;1Hrewritten"

	got := Strip(input, 40)

	assert.Contains(t, got, "rewritten")
	assert.Contains(t, got, "second row")
	assert.NotContains(t, got, "\x1b")
}

func TestOnlcr(t *testing.T) {
	assert.Equal(t, "a\r\nb\r\n", onlcr("a\nb\r\n"))
	assert.Equal(t, "\r\n", onlcr("\n"))
}
