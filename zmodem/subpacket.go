package zmodem

import "bytes"

// EncodeSubpacket appends a data subpacket — escaped payload bytes, the CRC
// escape-letter terminator, and the CRC itself — to out. frameend is one of
// ZCRCE/ZCRCG/ZCRCQ/ZCRCW.
func EncodeSubpacket(out *bytes.Buffer, data []byte, frameend byte, use32bitCRC bool, esc *escapeTable) {
	if use32bitCRC {
		encodeSubpacket32(out, data, frameend, esc)
		return
	}
	crc := uint16(0)
	for _, b := range data {
		esc.EncodeByte(b, out)
		crc = updcrc16(b, crc)
	}
	out.WriteByte(CAN)
	out.WriteByte(frameend)
	crc = updcrc16(frameend, crc)
	crc = CRC16Finalize(crc)
	esc.EncodeByte(byte(crc>>8), out)
	esc.EncodeByte(byte(crc), out)
	if frameend == ZCRCW {
		out.WriteByte(XON)
	}
}

func encodeSubpacket32(out *bytes.Buffer, data []byte, frameend byte, esc *escapeTable) {
	// The subpacket CRC32 uses the documented quirk (negate-before-each-byte),
	// computed in one pass over payload+terminator via subpacketCRC32.
	withEnd := make([]byte, 0, len(data)+1)
	withEnd = append(withEnd, data...)
	withEnd = append(withEnd, frameend)
	crc := subpacketCRC32(withEnd)

	for _, b := range data {
		esc.EncodeByte(b, out)
	}
	out.WriteByte(CAN)
	out.WriteByte(frameend)
	for i := 0; i < 4; i++ {
		esc.EncodeByte(byte(crc), out)
		crc >>= 8
	}
	if frameend == ZCRCW {
		out.WriteByte(XON)
	}
}

// DecodeSubpacket reads an escaped data subpacket from r into buf, stopping
// at the first of: a recognized CRC-escape terminator (returning the
// consumed byte count and the GOTCRCx code, or ZCAN for GOTCAN), a second
// CRC-escape terminator among the CRC bytes (a malformed subpacket,
// reported as ErrInvalidFrame), buf filling up (an
// oversize subpacket, reported as ErrInvalidFrame), or running out of
// buffered input (io.EOF/io.ErrUnexpectedEOF, meaning retry once more bytes
// arrive). A CAN*4 cancellation run is assumed to have already been ruled
// out by the caller via scanForCancel.
func DecodeSubpacket(r *bytes.Reader, buf []byte, use32bitCRC bool) (n int, terminator int, err error) {
	if use32bitCRC {
		return decodeSubpacket32(r, buf)
	}
	crc := uint16(0)
	pos := 0
	for {
		c, err := decodeByte(r)
		if err != nil {
			return pos, 0, err
		}
		if c == GOTCAN {
			return pos, ZCAN, nil
		}
		if c&GOTOR != 0 {
			crc = updcrc16(byte(c&0xFF), crc)
			crcHi, err := decodeByte(r)
			if err != nil {
				return pos, 0, err
			}
			crc = updcrc16(byte(crcHi), crc)
			crcLo, err := decodeByte(r)
			if err != nil {
				return pos, 0, err
			}
			if (crcHi|crcLo)&GOTOR != 0 {
				return pos, 0, NewError(ErrInvalidFrame, "CRC-escape inside subpacket CRC")
			}
			crc = updcrc16(byte(crcLo), crc)
			if crc != 0 {
				return pos, 0, NewError(ErrCRC, "bad subpacket CRC")
			}
			return pos, c, nil
		}
		if pos >= len(buf) {
			return pos, 0, NewError(ErrInvalidFrame, "data subpacket too long")
		}
		buf[pos] = byte(c)
		pos++
		crc = updcrc16(byte(c), crc)
	}
}

func decodeSubpacket32(r *bytes.Reader, buf []byte) (n int, terminator int, err error) {
	pos := 0
	var payload bytes.Buffer
	for {
		c, err := decodeByte(r)
		if err != nil {
			return pos, 0, err
		}
		if c == GOTCAN {
			return pos, ZCAN, nil
		}
		if c&GOTOR != 0 {
			payload.WriteByte(byte(c & 0xFF))
			var crcBytes [4]byte
			for i := 0; i < 4; i++ {
				b, err := decodeByte(r)
				if err != nil {
					return pos, 0, err
				}
				if b&GOTOR != 0 {
					return pos, 0, NewError(ErrInvalidFrame, "CRC-escape inside subpacket CRC")
				}
				crcBytes[i] = byte(b)
			}
			want := subpacketCRC32(payload.Bytes())
			got := uint32(crcBytes[0]) | uint32(crcBytes[1])<<8 | uint32(crcBytes[2])<<16 | uint32(crcBytes[3])<<24
			if want != got {
				return pos, 0, NewError(ErrCRC, "bad subpacket CRC")
			}
			return pos, c, nil
		}
		if pos >= len(buf) {
			return pos, 0, NewError(ErrInvalidFrame, "data subpacket too long")
		}
		buf[pos] = byte(c)
		payload.WriteByte(byte(c))
		pos++
	}
}
