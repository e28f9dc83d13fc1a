package zmodem

// CRC16/CCITT (poly 0x1021, seed 0, non-reflected, MSB-first, no final XOR)
// and CRC32/IEEE-802 (poly 0xEDB88320, reflected, preset 0xFFFFFFFF, final
// XOR 0xFFFFFFFF) table-driven codecs, matching the updcrc16/updcrc32/
// CRC32Finalize call sites assumed by frame.go. Built once at init time,
// same as the 256-entry tables the reference lrzsz constructs at startup.

var crc16Tab [256]uint16
var crc32Tab [256]uint32

func init() {
	for i := 0; i < 256; i++ {
		crc16Tab[i] = crc16TableEntry(uint16(i))
		crc32Tab[i] = crc32TableEntry(uint32(i))
	}
}

func crc16TableEntry(b uint16) uint16 {
	crc := b << 8
	for j := 0; j < 8; j++ {
		if crc&0x8000 != 0 {
			crc = (crc << 1) ^ 0x1021
		} else {
			crc <<= 1
		}
	}
	return crc
}

func crc32TableEntry(b uint32) uint32 {
	crc := b
	for j := 0; j < 8; j++ {
		if crc&1 != 0 {
			crc = (crc >> 1) ^ 0xEDB88320
		} else {
			crc >>= 1
		}
	}
	return crc
}

// updcrc16 folds one byte into a running CRC16/CCITT accumulator.
func updcrc16(b byte, crc uint16) uint16 {
	return crc16Tab[byte(crc>>8)] ^ (crc << 8) ^ uint16(b)
}

// crc16Finalize folds the two trailing zero bytes Zmodem's CRC16 check uses
// (the header/subpacket CRC is verified by continuing to fold the CRC bytes
// themselves back in and checking for zero, but the transmit side needs the
// plain finalized value to put on the wire).
func crc16Finalize(crc uint16) uint16 {
	crc = updcrc16(0, crc)
	crc = updcrc16(0, crc)
	return crc
}

// CRC16Finalize is the exported form used by frame.go's header encoders.
func CRC16Finalize(crc uint16) uint16 { return crc16Finalize(crc) }

// updcrc32 folds one byte into a running CRC32/IEEE-802 accumulator using
// the conventional (non-quirky) update rule. Used for header CRC32 and for
// whole-file CRC32 comparison (ZCRC).
func updcrc32(b byte, crc uint32) uint32 {
	return crc32Tab[byte(crc)^b] ^ (crc >> 8)
}

// CRC32Finalize applies the final one's-complement step of the standard
// CRC32/IEEE-802 algorithm.
func CRC32Finalize(crc uint32) uint32 { return ^crc }

// CRC32CheckValue is the residue produced by running a correctly CRC32'd
// binary-32 header (payload bytes followed by its own little-endian CRC32)
// back through updcrc32: the standard CRC32 magic check constant.
const CRC32CheckValue = 0xDEBB20E3

// subpacketCRC32 computes the CRC32 of a data subpacket (payload bytes plus
// the single trailing CRC-escape byte) using the documented wire quirk: the
// accumulator is bitwise-negated immediately before folding in each byte,
// and negated once more after the last byte. This deviates from the
// canonical CRC32 update rule and must be reproduced exactly bit-for-bit to
// interoperate with deployed Zmodem peers (see spec: CRC32 data-subpacket
// quirk). It is used only for subpacket CRCs, never for header CRC32 or the
// whole-file ZCRC comparison, both of which use the conventional updcrc32.
func subpacketCRC32(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc = ^crc
		crc = crc32Tab[byte(crc)^b] ^ (crc >> 8)
	}
	return ^crc
}
