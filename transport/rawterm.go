package transport

import (
	"os"

	"golang.org/x/term"
)

// RawTerminal puts an interactive terminal into raw mode for the duration of
// a gsz/grz run (so control characters like CAN reach the engine instead of
// being intercepted by line discipline) and restores it on Restore.
type RawTerminal struct {
	fd    int
	state *term.State
}

// EnterRaw puts f (normally os.Stdin) into raw mode if it is a terminal. If
// f is not a terminal (e.g. piped input in a script), EnterRaw is a no-op and
// Restore does nothing.
func EnterRaw(f *os.File) (*RawTerminal, error) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return &RawTerminal{fd: fd}, nil
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return &RawTerminal{fd: fd, state: state}, nil
}

// Restore returns the terminal to its prior mode. Safe to call on a
// RawTerminal whose EnterRaw found a non-terminal.
func (r *RawTerminal) Restore() error {
	if r.state == nil {
		return nil
	}
	return term.Restore(r.fd, r.state)
}

// zrqinitHex is the byte sequence that opens a Zmodem hex-framed ZRQINIT:
// "**\x18B00" — two ZPAD, ZDLE, ZHEX, then the ZRQINIT frame-type digits.
// A terminal pass-through scans incoming bytes for this to decide when an
// interactive session should hand control to a zmodem.Session instead of
// echoing to the screen.
var zrqinitHex = []byte{'*', '*', 0x18, 'B', '0', '0'}

// DetectTrigger scans buf for a Zmodem session-start sequence (ZRQINIT, the
// only frame type that legitimately begins a new batch unsolicited) and
// returns the offset it starts at, or -1 if none is present. Callers
// typically keep the trailing len(zrqinitHex)-1 bytes of buf across calls so
// a trigger split across two reads is still found.
func DetectTrigger(buf []byte) int {
	for i := 0; i+len(zrqinitHex) <= len(buf); i++ {
		if matchesAt(buf, i) {
			return i
		}
	}
	return -1
}

func matchesAt(buf []byte, i int) bool {
	for j, b := range zrqinitHex {
		if buf[i+j] != b {
			return false
		}
	}
	return true
}
