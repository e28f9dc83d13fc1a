package zmodem

import (
	"bytes"
	"strconv"
	"strings"
	"time"
)

// startReceiver begins the receive side: an optional ZCHALLENGE anti-spoof
// handshake, then ZRINIT advertising this side's capabilities.
func (s *Session) startReceiver(now time.Time) {
	if s.config.ZChallenge {
		val, err := randomUint32()
		if err != nil {
			s.abort(now, err)
			return
		}
		s.challengeWant = val
		s.challengeSent = true
		EncodeHexHeader(&s.output, ZCHALLENGE, stohdr(val))
		s.setState(StateReceiverZChallengeWait, now)
		return
	}
	s.sendZRINIT(now)
}

func (s *Session) sendZRINIT(now time.Time) {
	var hdr Header
	hdr[ZF0] = CANFDX | CANOVIO
	if s.config.Use32BitCRC {
		hdr[ZF0] |= CANFC32
	}
	if s.escapeCtrl {
		hdr[ZF0] |= ESCCTL
	}
	if s.escape8bit {
		hdr[ZF0] |= ESC8
	}
	EncodeHexHeader(&s.output, ZRINIT, hdr)
	s.setState(StateReceiverZRINITWait, now)
}

// receiverHandleFrame dispatches a decoded header while playing the
// receiver role: ZCHALLENGE answer -> ZRINIT -> ZFILE -> (ZCRC|ZRPOS) ->
// ZDATA (subpackets follow, handled by receiverHandleSubpacket) -> ZEOF ->
// back to ZRINIT, or ZFIN to end the batch.
func (s *Session) receiverHandleFrame(frameType int, hdr Header, use32 bool, now time.Time) {
	switch frameType {
	case ZACK:
		if s.state == StateReceiverZChallengeWait {
			if rclhdr(hdr) != s.challengeWant {
				s.abort(now, NewError(ErrChallenge, "ZCHALLENGE response mismatch"))
				return
			}
			s.sendZRINIT(now)
		}
	case ZSINIT:
		EncodeHexHeader(&s.output, ZACK, stohdr(0))
	case ZFREECNT:
		EncodeHexHeader(&s.output, ZACK, stohdr(uint32(s.callbacks.FreeSpace())))
	case ZFILE:
		s.use32 = use32
		s.awaitingZFILEPayload = true
	case ZCRC:
		s.receiverHandleZCRCResponse(rclhdr(hdr), now)
	case ZDATA:
		if s.cur == nil {
			return
		}
		s.use32 = use32
		pos := int64(rclhdr(hdr))
		if pos != s.cur.Position() {
			if err := s.cur.SeekTo(pos); err != nil {
				s.abort(now, err)
				return
			}
		}
		s.setState(StateReceiverData, now)
	case ZEOF:
		s.receiverHandleZEOF(hdr, now)
	case ZFIN:
		EncodeHexHeader(&s.output, ZFIN, stohdr(0))
		s.setState(StateReceiverZFINWait, now)
	default:
		// Spurious or out-of-sequence frame: ignored.
	}
}

// receiverHandleSubpacket processes one data subpacket: either the pending
// ZFILE name/info payload, or (in StateReceiverData) a chunk of file data.
func (s *Session) receiverHandleSubpacket(data []byte, terminator int, now time.Time) {
	if terminator == ZCAN {
		s.abort(now, NewError(ErrCancelled, "peer cancelled mid-subpacket"))
		return
	}

	if s.awaitingZFILEPayload {
		s.awaitingZFILEPayload = false
		s.receiverHandleZFILEPayload(data, now)
		return
	}

	if s.cur == nil {
		return
	}
	if err := s.cur.WriteBlock(data); err != nil {
		s.abort(now, err)
		return
	}
	s.progress.Update(s.cur.Position(), now)

	switch terminator {
	case GOTCRCW, GOTCRCQ:
		EncodeHexHeader(&s.output, ZACK, stohdr(uint32(s.cur.Position())))
	case GOTCRCE, GOTCRCG:
		// Frame continues (GOTCRCG) or a header follows directly
		// (GOTCRCE); neither needs an ACK.
	}
	if terminator == GOTCRCE || terminator == GOTCRCW {
		// End of frame: the next thing on the wire is a header.
		s.setState(StateReceiverZRINITWait, now)
	}
}

func (s *Session) receiverHandleZFILEPayload(data []byte, now time.Time) {
	name, size, modTime, ok := parseZFILEPayload(data)
	if !ok {
		EncodeHexHeader(&s.output, ZNAK, stohdr(0))
		s.retry.Reset(now)
		return
	}

	plan, err := planResume(s.downloadDir, name, size)
	if err != nil {
		s.abort(now, err)
		return
	}

	switch plan.Action {
	case actionFresh:
		s.beginReceive(name, size, modTime, plan.TargetPath, 0, now)
	case actionChallenge:
		s.pendingFileName = name
		s.pendingFileSize = size
		s.pendingFileModTime = modTime
		s.pendingFilePath = plan.TargetPath
		s.pendingExistingSize = plan.ExistingSize
		EncodeHexHeader(&s.output, ZCRC, stohdr(uint32(plan.ExistingSize)))
		s.setState(StateReceiverZCRCWait, now)
	}
}

// receiverHandleZCRCResponse compares the sender's ZCRC(prefix) answer
// against the local file's on-disk prefix: matching means resume from
// ExistingSize, mismatch means rename-and-restart-fresh.
func (s *Session) receiverHandleZCRCResponse(senderCRC uint32, now time.Time) {
	localCRC, err := ComputeFileCRC32(s.pendingFilePath, s.pendingExistingSize)
	if err != nil {
		s.abort(now, err)
		return
	}
	if localCRC == senderCRC {
		s.beginReceive(s.pendingFileName, s.pendingFileSize, s.pendingFileModTime,
			s.pendingFilePath, s.pendingExistingSize, now)
		return
	}
	renamed, err := firstFreeCollisionName(s.downloadDir, s.pendingFileName)
	if err != nil {
		s.abort(now, err)
		return
	}
	s.beginReceive(s.pendingFileName, s.pendingFileSize, s.pendingFileModTime, renamed, 0, now)
}

func (s *Session) beginReceive(name string, size int64, modTime time.Time, path string, resumeAt int64, now time.Time) {
	ok, err := s.callbacks.OnFilePrompt(name, size, 0o644)
	if err != nil {
		s.abort(now, err)
		return
	}
	if !ok {
		EncodeHexHeader(&s.output, ZSKIP, stohdr(0))
		s.sendZRINIT(now)
		return
	}
	fc, err := OpenForReceive(path, resumeAt)
	if err != nil {
		s.abort(now, err)
		return
	}
	fc.Size = size
	fc.ModTime = modTime
	s.cur = fc
	s.bsize.ResetForFile()
	s.curAdvertised = size
	s.progress.Start(fc.Name, size, now)
	s.callbacks.OnFileStart(fc.Name, size, 0o644)
	EncodeHexHeader(&s.output, ZRPOS, stohdr(uint32(resumeAt)))
	s.setState(StateReceiverZRINITWait, now)
}

func (s *Session) receiverHandleZEOF(hdr Header, now time.Time) {
	if s.cur == nil {
		s.sendZRINIT(now)
		return
	}
	pos := int64(rclhdr(hdr))
	if pos != s.cur.Position() {
		// Sender's view of EOF position disagrees with ours: request the
		// true position again rather than trusting a short ZEOF.
		EncodeHexHeader(&s.output, ZRPOS, stohdr(uint32(s.cur.Position())))
		s.setState(StateReceiverZRINITWait, now)
		return
	}
	dur := s.progress.Complete(now)
	s.callbacks.OnFileComplete(s.cur.Name, s.cur.Position(), dur)
	if err := s.cur.Finish(s.cur.ModTime); err != nil {
		s.callbacks.OnError(err, "finishing "+s.cur.Name)
	}
	s.cur = nil
	s.sendZRINIT(now)
}

// redriveReceiver resends the frame appropriate to the current state after
// an inactivity timeout.
func (s *Session) redriveReceiver(now time.Time) {
	switch s.state {
	case StateReceiverZChallengeWait:
		EncodeHexHeader(&s.output, ZCHALLENGE, stohdr(s.challengeWant))
	case StateReceiverZRINITWait:
		if s.cur != nil {
			EncodeHexHeader(&s.output, ZRPOS, stohdr(uint32(s.cur.Position())))
		} else {
			s.sendZRINIT(now)
		}
	case StateReceiverZCRCWait:
		EncodeHexHeader(&s.output, ZCRC, stohdr(uint32(s.pendingExistingSize)))
	case StateReceiverZFINWait:
		EncodeHexHeader(&s.output, ZFIN, stohdr(0))
	default:
	}
}

// parseZFILEPayload splits a ZFILE data subpacket into its NUL-terminated
// filename and the space-separated info line (size in decimal, then mtime in
// octal seconds since epoch), matching the reference's rz payload parsing.
func parseZFILEPayload(data []byte) (name string, size int64, modTime time.Time, ok bool) {
	i := bytes.IndexByte(data, 0)
	if i < 0 {
		return "", 0, time.Time{}, false
	}
	name = string(data[:i])
	if name == "" {
		return "", 0, time.Time{}, false
	}
	rest := data[i+1:]
	if j := bytes.IndexByte(rest, 0); j >= 0 {
		rest = rest[:j]
	}
	fields := strings.Fields(string(rest))
	if len(fields) >= 1 {
		if n, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
			size = n
		}
	}
	if len(fields) >= 2 {
		if n, err := strconv.ParseInt(fields[1], 8, 64); err == nil {
			modTime = time.Unix(n, 0)
		}
	}
	return name, size, modTime, true
}
