package zmodem

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeSubpacketRoundTrip(t *testing.T) {
	terminators := []byte{ZCRCE, ZCRCG, ZCRCQ, ZCRCW}
	for _, use32 := range []bool{false, true} {
		for _, term := range terminators {
			esc := newEscapeTable(true, false)
			payload := []byte("the quick brown fox jumps over the lazy dog")
			var out bytes.Buffer
			EncodeSubpacket(&out, payload, term, use32, esc)

			buf := make([]byte, len(payload)+16)
			n, gotTerm, err := DecodeSubpacket(bytes.NewReader(out.Bytes()), buf, use32)
			if err != nil {
				t.Fatalf("use32=%v term=%q: decode error: %v", use32, term, err)
			}
			if !bytes.Equal(buf[:n], payload) {
				t.Fatalf("use32=%v term=%q: payload = %q, want %q", use32, term, buf[:n], payload)
			}
			wantTerm := int(term) | GOTOR
			if gotTerm != wantTerm {
				t.Errorf("use32=%v term=%q: terminator code = %#x, want %#x", use32, term, gotTerm, wantTerm)
			}
		}
	}
}

func TestDecodeSubpacketBadCRC(t *testing.T) {
	for _, use32 := range []bool{false, true} {
		esc := newEscapeTable(true, false)
		var out bytes.Buffer
		EncodeSubpacket(&out, []byte("hello"), ZCRCE, use32, esc)
		corrupt := out.Bytes()
		corrupt[0] ^= 0xFF // flip the first payload byte, invalidating the CRC

		buf := make([]byte, 32)
		_, _, err := DecodeSubpacket(bytes.NewReader(corrupt), buf, use32)
		if err == nil {
			t.Fatalf("use32=%v: expected a CRC error on corrupted payload", use32)
		}
	}
}

func TestDecodeSubpacketOversizeRejected(t *testing.T) {
	esc := newEscapeTable(true, false)
	var out bytes.Buffer
	EncodeSubpacket(&out, []byte("0123456789"), ZCRCE, true, esc)

	buf := make([]byte, 4) // too small for the 10-byte payload
	_, _, err := DecodeSubpacket(bytes.NewReader(out.Bytes()), buf, true)
	if err == nil {
		t.Fatalf("expected an error when payload exceeds the buffer")
	}
}

func TestDecodeSubpacketNeedsMoreData(t *testing.T) {
	esc := newEscapeTable(true, false)
	var out bytes.Buffer
	EncodeSubpacket(&out, []byte("partial"), ZCRCW, true, esc)

	buf := make([]byte, 32)
	truncated := out.Bytes()[:len(out.Bytes())-2]
	_, _, err := DecodeSubpacket(bytes.NewReader(truncated), buf, true)
	if !isNeedMoreData(err) {
		t.Fatalf("truncated subpacket should report need-more-data, got %v", err)
	}
}
