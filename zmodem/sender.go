package zmodem

import (
	"time"
)

// start kicks off the session once Step is first called: a sender announces
// ZRQINIT (its first file is opened later, once the peer's ZRINIT arrives); a
// receiver emits ZCHALLENGE (if configured) or goes straight to ZRINIT.
func (s *Session) start(now time.Time) {
	if s.role == RoleSender {
		EncodeHexHeader(&s.output, ZRQINIT, stohdr(0))
		s.setState(StateSenderZRQINITWait, now)
		return
	}
	s.startReceiver(now)
}

func (s *Session) senderWindowFull() bool {
	return s.windowOutstanding >= s.bsize.Window()
}

// senderHandleFrame dispatches a decoded header while playing the sender
// role, per the state sequence: ZRQINIT -> (ZRINIT) -> (ZSINIT ->ZACK) ->
// ZFILE -> (ZRPOS|ZSKIP|ZCRC) -> ZDATA... -> ZEOF -> (ZRINIT|ZFIN).
func (s *Session) senderHandleFrame(frameType int, hdr Header, now time.Time) {
	switch frameType {
	case ZRINIT:
		s.peerCaps = hdr[ZF0]
		s.use32 = s.use32 && hdr[ZF0]&CANFC32 != 0
		s.escapeCtrl = s.escapeCtrl || hdr[ZF0]&ESCCTL != 0
		s.escape8bit = s.escape8bit || hdr[ZF0]&ESC8 != 0
		if s.state == StateSenderZEOFWait && s.cur != nil {
			// The peer has taken the file: finish it and move on.
			dur := s.progress.Complete(now)
			s.callbacks.OnFileComplete(s.cur.Name, s.cur.Position(), dur)
			s.cur.Close()
			s.cur = nil
			s.fileIndex++
		}
		s.senderAfterZRINIT(now)
	case ZCHALLENGE:
		EncodeHexHeader(&s.output, ZACK, hdr)
	case ZACK:
		switch s.state {
		case StateSenderZSINITWait:
			s.senderSendZFILE(now)
		case StateSenderData:
			// ACK for the ZCRCW that closed the window: reopen it and start
			// a fresh ZDATA frame at the current position.
			s.bsize.OnAck(int64(rclhdr(hdr)))
			s.windowOutstanding = 0
			EncodeBinHeader(&s.output, ZDATA, stohdr(uint32(s.cur.Position())), s.use32, s.outEsc())
		}
	case ZSKIP:
		s.emitEvent(EventFileComplete, frameType, "peer skipped "+s.currentFileName())
		s.senderNextFile(now)
	case ZRPOS:
		s.senderHandleZRPOS(hdr, now)
	case ZCRC:
		s.senderAnswerZCRC(rclhdr(hdr), now)
	case ZFIN:
		EncodeHexHeader(&s.output, ZFIN, stohdr(0))
		s.output.WriteByte('O')
		s.output.WriteByte('O')
		s.setState(StateComplete, now)
	default:
		// Unrecognized or out-of-sequence frame: ignored, matching the
		// reference's tolerance for spurious retransmits.
	}
}

func (s *Session) currentFileName() string {
	if s.fileIndex < len(s.files) {
		return s.files[s.fileIndex]
	}
	return ""
}

func (s *Session) senderAfterZRINIT(now time.Time) {
	if !s.sentZSINIT {
		s.sentZSINIT = true
		EncodeHexHeader(&s.output, ZSINIT, stohdr(0))
		s.setState(StateSenderZSINITWait, now)
		return
	}
	s.senderSendZFILE(now)
}

func (s *Session) senderSendZFILE(now time.Time) {
	if s.fileIndex >= len(s.files) {
		EncodeHexHeader(&s.output, ZFIN, stohdr(0))
		s.setState(StateSenderZFINWait, now)
		return
	}

	path := s.files[s.fileIndex]
	fc, err := OpenForSend(path)
	if err != nil {
		s.callbacks.OnError(err, "open "+path)
		s.senderNextFile(now)
		return
	}
	ok, err := s.callbacks.OnFilePrompt(fc.Name, fc.Size, 0o644)
	if err != nil {
		fc.Close()
		s.abort(now, err)
		return
	}
	if !ok {
		fc.Close()
		s.senderNextFile(now)
		return
	}
	s.cur = fc
	s.bsize.ResetForFile()
	s.windowOutstanding = 0
	s.progress.Start(fc.Name, fc.Size, now)
	s.callbacks.OnFileStart(fc.Name, fc.Size, 0o644)

	payload := encodeZFILEPayload(fc.Name, fc.Size, fc.ModTime)
	flags := Header{}
	flags[ZF1] = ZF1_ZMCRC
	EncodeBinHeader(&s.output, ZFILE, flags, s.use32, s.outEsc())
	EncodeSubpacket(&s.output, payload, ZCRCW, s.use32, s.outEsc())
	s.setState(StateSenderZFILEWait, now)
}

func (s *Session) senderHandleZRPOS(hdr Header, now time.Time) {
	if s.cur == nil {
		return
	}
	pos := int64(rclhdr(hdr))
	if pos != s.cur.Position() {
		if err := s.cur.SeekTo(pos); err != nil {
			s.abort(now, err)
			return
		}
	}
	if s.state != StateSenderZFILEWait {
		// A ZRPOS answering ZFILE is the normal start, not a retransmit.
		if err := s.bsize.OnError(); err != nil {
			s.abort(now, err)
			return
		}
	}
	s.windowOutstanding = 0
	s.emitEvent(EventFrameReceived, ZRPOS, "resume at "+FrameTypeName(ZRPOS))
	EncodeBinHeader(&s.output, ZDATA, stohdr(uint32(pos)), s.use32, s.outEsc())
	s.setState(StateSenderData, now)
}

// senderAnswerZCRC answers a receiver's resume challenge: prefixLen is the
// byte count already on the receiver's disk (carried in the ZCRC request's
// header position field), so the CRC must cover only that prefix of the
// source file to be comparable against the receiver's own on-disk hash.
func (s *Session) senderAnswerZCRC(prefixLen uint32, now time.Time) {
	if s.cur == nil {
		return
	}
	n := int64(prefixLen)
	if n > s.cur.Size {
		n = s.cur.Size
	}
	crc, err := ComputeFileCRC32(s.cur.Path, n)
	if err != nil {
		s.abort(now, err)
		return
	}
	EncodeHexHeader(&s.output, ZCRC, stohdr(crc))
}

// senderStreamMore pushes one more data subpacket if the sliding window has
// room, terminating with ZCRCW (ACK expected) when the window fills or the
// file ends, ZCRCG otherwise (nonstop, unreliable-link friendly). It returns
// false once the file is exhausted and ZEOF has been queued.
func (s *Session) senderStreamMore(now time.Time) bool {
	if s.cur == nil {
		s.setState(StateSenderZEOFWait, now)
		return false
	}

	var buf [maxBlockSize]byte
	n, _ := s.cur.ReadBlock(buf[:s.bsize.Size()])
	if n == 0 {
		EncodeHexHeader(&s.output, ZEOF, stohdr(uint32(s.cur.Position())))
		s.setState(StateSenderZEOFWait, now)
		return false
	}

	s.windowOutstanding++
	atEOF := s.cur.Position() >= s.cur.Size
	term := byte(ZCRCG)
	switch {
	case atEOF:
		term = ZCRCW
	case s.senderWindowFull():
		term = ZCRCW
	}
	EncodeSubpacket(&s.output, buf[:n], term, s.use32, s.outEsc())
	s.progress.Update(s.cur.Position(), now)

	if atEOF {
		EncodeHexHeader(&s.output, ZEOF, stohdr(uint32(s.cur.Position())))
		s.setState(StateSenderZEOFWait, now)
		return false
	}
	return true
}

func (s *Session) senderNextFile(now time.Time) {
	if s.cur != nil {
		dur := s.progress.Complete(now)
		s.callbacks.OnFileComplete(s.cur.Name, s.cur.Position(), dur)
		s.cur.Close()
		s.cur = nil
	}
	s.fileIndex++
	EncodeHexHeader(&s.output, ZRQINIT, stohdr(0))
	s.setState(StateSenderZRQINITWait, now)
}

// redrive resends the frame appropriate to the current state after an
// inactivity timeout, matching the reference's "nudge, don't restart"
// retry discipline.
func (s *Session) redrive(now time.Time) {
	if s.role == RoleReceiver {
		s.redriveReceiver(now)
		return
	}
	switch s.state {
	case StateSenderZRQINITWait:
		EncodeHexHeader(&s.output, ZRQINIT, stohdr(0))
	case StateSenderZFINWait:
		EncodeHexHeader(&s.output, ZFIN, stohdr(0))
	case StateSenderZEOFWait:
		if s.cur != nil {
			EncodeHexHeader(&s.output, ZEOF, stohdr(uint32(s.cur.Position())))
		}
	default:
		// ZDATA streaming and ZFILE_WAIT resend on ZRPOS/timeout from the
		// peer side; nothing to proactively resend here.
	}
}

// encodeZFILEPayload builds the ZFILE data subpacket payload: a
// NUL-terminated filename followed by a space-separated info line (size,
// modification time as seconds-since-epoch in octal, matching the
// reference's sz) and a second NUL.
func encodeZFILEPayload(name string, size int64, modTime time.Time) []byte {
	line := name + "\x00" + formatDecimal(size) + " " + timeFieldOrZero(modTime)
	return append([]byte(line), 0)
}

func timeFieldOrZero(modTime time.Time) string {
	if modTime.IsZero() {
		return "0"
	}
	return formatOctal(modTime.Unix())
}

func formatOctal(n int64) string {
	if n == 0 {
		return "0"
	}
	var buf [32]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%8)
		n /= 8
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func formatDecimal(n int64) string {
	if n == 0 {
		return "0"
	}
	var buf [32]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
