package zmodem

// blockSizer implements the adaptive block-size and window policy: starts
// at 1024, halves after a burst of outstanding ZRPOS-triggered errors,
// doubles after 8 KiB of clean confirmed progress, and collapses the
// sliding window to 4 the first time the link proves unreliable.
//
// Confirmed-byte bookkeeping uses int64/uint64 throughout: the reference
// does not document the arithmetic's behavior on multi-gigabyte files, so
// this avoids any risk of 32-bit wraparound on a long clean run.
type blockSizer struct {
	size           int
	reliableLink   bool
	confirmed      int64 // total bytes ZACK'd for the current file
	lastDowngrade  int64 // confirmed value at the last halving (or file start)
	outstandingErr int   // consecutive ZRPOS errors observed in the current streaming run
}

const (
	minBlockSize         = 32
	maxBlockSize         = 1024
	blockSizeUpThreshold = 8 * 1024
)

func newBlockSizer() *blockSizer {
	return &blockSizer{
		size:         maxBlockSize,
		reliableLink: true,
	}
}

// ResetForFile reinitializes per-file confirmed-byte bookkeeping without
// touching block size or link reliability, which persist for the session.
func (b *blockSizer) ResetForFile() {
	b.confirmed = 0
	b.lastDowngrade = 0
	b.outstandingErr = 0
}

// Window returns the number of unacknowledged subpackets currently allowed
// before a ZCRCQ/ZCRCW ACK must be requested.
func (b *blockSizer) Window() int {
	if b.reliableLink {
		return 32
	}
	return 4
}

// Size returns the current data-subpacket length.
func (b *blockSizer) Size() int { return b.size }

// OnError records a ZRPOS-triggered retransmit during streaming: marks the
// link unreliable for the rest of the session, halves the block size
// (bounded below by 32) from the third consecutive error on, and returns an
// error if the session must now abort
// with "LINE NOISE" (10 or more outstanding errors while already at the
// minimum block size).
func (b *blockSizer) OnError() error {
	b.reliableLink = false
	b.outstandingErr++
	if b.outstandingErr >= 3 {
		if b.size > minBlockSize {
			b.size /= 2
			if b.size < minBlockSize {
				b.size = minBlockSize
			}
		}
		b.lastDowngrade = b.confirmed
	}
	if b.outstandingErr >= 10 && b.size == minBlockSize {
		return NewError(ErrCapacity, "LINE NOISE")
	}
	return nil
}

// OnAck records confirmed bytes for a ZACK'd position, doubles the block
// size (capped at 1024) once 8 KiB of clean progress has accumulated past
// the last downgrade point, and resets the outstanding-error run.
func (b *blockSizer) OnAck(confirmed int64) {
	if confirmed > b.confirmed {
		b.confirmed = confirmed
	}
	b.outstandingErr = 0
	if b.size < maxBlockSize && b.confirmed-b.lastDowngrade > blockSizeUpThreshold {
		b.size *= 2
		if b.size > maxBlockSize {
			b.size = maxBlockSize
		}
		b.lastDowngrade = b.confirmed
	}
}
