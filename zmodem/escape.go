package zmodem

import "bytes"

// escapeTable is a 256-entry map of which bytes must be CAN-escaped on the
// wire, built from a session's ESCAPE_CTRL / ESCAPE_8BIT flags.
//
// Bytes that must be escaped regardless of flags: CAN, XON, XOFF, and the
// high-bit forms of XON/XOFF. Under ESCAPE_CTRL, all of 0x00-0x1F and 0x7F
// are additionally escaped. The 0x80-0x9F band (the 8-bit mirror of the C0
// control range) is always escaped. Under ESCAPE_8BIT, every byte with the
// top bit set is escaped. 0x7F and 0xFF use the dedicated CAN 'l' / CAN 'm'
// forms instead of the generic CAN,(b XOR 0x40) form.
type escapeTable [256]bool

// newEscapeTable builds the escape table for a given flag combination.
func newEscapeTable(escapeCtrl, escape8bit bool) *escapeTable {
	var t escapeTable
	for i := 0; i < 256; i++ {
		b := byte(i)
		switch b {
		case CAN, XON, XOFF, XON | 0x80, XOFF | 0x80:
			t[i] = true
			continue
		}
		if escapeCtrl && (b <= 0x1F || b == 0x7F) {
			t[i] = true
		}
		if b >= 0x80 && b <= 0x9F {
			t[i] = true
		}
		if escape8bit && b&0x80 != 0 {
			t[i] = true
		}
	}
	return &t
}

// EncodeByte appends the wire encoding of byte c to out: either the raw
// byte, or a two-byte CAN escape sequence.
func (t *escapeTable) EncodeByte(c byte, out *bytes.Buffer) {
	if !t[c] {
		out.WriteByte(c)
		return
	}
	out.WriteByte(CAN)
	switch c {
	case 0x7F:
		out.WriteByte(ZRUB0)
	case 0xFF:
		out.WriteByte(ZRUB1)
	default:
		out.WriteByte(c ^ 0x40)
	}
}

// Encode appends the wire encoding of every byte in data to out.
func (t *escapeTable) Encode(out *bytes.Buffer, data []byte) {
	for _, c := range data {
		t.EncodeByte(c, out)
	}
}

// decodeByte reads one logical byte from r, unescaping a CAN sequence if
// present. It returns:
//   - a plain byte value (0-255) for ordinary or unescaped-generic bytes
//   - one of GOTCRCE/GOTCRCG/GOTCRCQ/GOTCRCW (GOTOR bit set) when a data
//     subpacket terminator is seen
//   - io.EOF (or io.ErrUnexpectedEOF) when r runs dry mid-sequence — the
//     caller must retry once more input has buffered, without this call
//     having consumed anything visible to the caller
//   - a *Error(ErrInvalidFrame) for a malformed escape sequence
//
// Four consecutive raw CAN bytes (session cancellation) are detected by the
// caller before frame parsing begins (see scanForCancel), not here: by the
// time a CAN reaches decodeByte it either introduces a legitimate escape
// sequence or the input has already been judged not to contain a cancel run.
func decodeByte(r *bytes.Reader) (int, error) {
	c, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if c != CAN {
		return int(c), nil
	}
	return decodeEscapeSequence(r)
}

func decodeEscapeSequence(r *bytes.Reader) (int, error) {
	c, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch c {
	case ZCRCE:
		return GOTCRCE, nil
	case ZCRCG:
		return GOTCRCG, nil
	case ZCRCQ:
		return GOTCRCQ, nil
	case ZCRCW:
		return GOTCRCW, nil
	case ZRUB0:
		return 0x7F, nil
	case ZRUB1:
		return 0xFF, nil
	case XON, XOFF:
		// Flow control interleaved into an escape sequence: discard and
		// keep reading for the real escaped byte. The high-bit forms are
		// not skipped: 0x91/0x93 are the escapes of 0xD1/0xD3 under
		// ESCAPE_8BIT.
		return decodeEscapeSequence(r)
	case CAN:
		// Two CANs with nothing between them, outside of a recognized
		// 4xCAN cancel run (caught upstream by scanForCancel), is a
		// malformed sequence.
		return 0, NewError(ErrInvalidFrame, "unexpected CAN in escape sequence")
	default:
		// Plain XOR is the exact inverse of the encoder's (c XOR 0x40)
		// regardless of which bits were set in c, so this recovers every
		// byte the encoder could have produced — including ESCAPE_8BIT
		// bytes at 0xC0-0xFE, which a "clear bit 6 if set" rule cannot
		// invert.
		return int(c ^ 0x40), nil
	}
}

// scanForCancel reports whether buf contains four consecutive CAN (0x18)
// bytes anywhere, and the offset just past the run if so.
func scanForCancel(buf []byte) (found bool, end int) {
	run := 0
	for i, b := range buf {
		if b == CAN {
			run++
			if run == 4 {
				return true, i + 1
			}
		} else {
			run = 0
		}
	}
	return false, 0
}
