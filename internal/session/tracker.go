package session

import (
	"strings"
	"unicode/utf8"
)

// Tracker derives logical command boundaries from a session's raw input
// byte stream. It maintains the current input line and reports submitted
// commands; it does not interpret shell semantics, only keystrokes.
type Tracker struct {
	buf []rune
	// pending holds an escape-sequence prefix cut off at a chunk
	// boundary, to be rejoined with the next chunk.
	pending string
}

// Feed processes one input chunk and returns the commands submitted
// within it, in order. A chunk may be a single keystroke or a
// multi-character paste; every character is handled either way.
//
// Rules, in priority order: CR/LF submits the trimmed buffer when
// non-empty and clears it; DEL (0x7f) drops the last character; ETX
// (Ctrl-C) clears without submitting; arrow-key escape sequences clear,
// since the user is navigating history and the buffer no longer reflects
// what will execute; any other printable character is appended.
//
// An escape sequence may arrive split across chunks; its prefix is held
// back and rejoined with the next chunk so the split is invisible.
func (t *Tracker) Feed(data string) []string {
	data = t.pending + data
	t.pending = ""

	var submitted []string

	for i := 0; i < len(data); {
		c := data[i]
		switch {
		case c == '\r' || c == '\n':
			if cmd := strings.TrimSpace(string(t.buf)); cmd != "" {
				submitted = append(submitted, cmd)
			}
			t.buf = t.buf[:0]
			i++
		case c == 0x7f:
			if len(t.buf) > 0 {
				t.buf = t.buf[:len(t.buf)-1]
			}
			i++
		case c == 0x03:
			t.buf = t.buf[:0]
			i++
		case c == 0x1b:
			if i == len(data)-1 || (i == len(data)-2 && data[i+1] == '[') {
				// Chunk ends mid-sequence; wait for the rest.
				t.pending = data[i:]
				return submitted
			}
			if data[i+1] == '[' && data[i+2] >= 'A' && data[i+2] <= 'D' {
				t.buf = t.buf[:0]
				i += 3
			} else {
				// Unrecognized sequence; skip the escape byte.
				i++
			}
		default:
			r, size := utf8.DecodeRuneInString(data[i:])
			if r >= 0x20 {
				t.buf = append(t.buf, r)
			}
			i += size
		}
	}

	return submitted
}

// Buffer returns the current input line snapshot.
func (t *Tracker) Buffer() string {
	return string(t.buf)
}

// Reset clears the buffer without emitting anything.
func (t *Tracker) Reset() {
	t.buf = t.buf[:0]
	t.pending = ""
}
