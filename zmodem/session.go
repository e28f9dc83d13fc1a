package zmodem

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"io"
	"time"
)

// Role is which side of a transfer a Session drives.
type Role int

const (
	RoleSender Role = iota
	RoleReceiver
)

// State is a Session's position in the sender or receiver state machine
// (§4.6). Sender and receiver states share one enum since a Session plays
// exactly one role for its lifetime.
type State int

const (
	StateInit State = iota

	// Sender states
	StateSenderZRQINITWait
	StateSenderZSINITWait
	StateSenderZFILEWait
	StateSenderData
	StateSenderZEOFWait
	StateSenderZFINWait

	// Receiver states
	StateReceiverZChallengeWait
	StateReceiverZRINITWait
	StateReceiverZCRCWait
	StateReceiverData
	StateReceiverZFINWait

	StateComplete
	StateAbort
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateSenderZRQINITWait:
		return "ZRQINIT_WAIT"
	case StateSenderZSINITWait:
		return "ZSINIT_WAIT"
	case StateSenderZFILEWait:
		return "ZFILE_WAIT"
	case StateSenderData:
		return "ZDATA"
	case StateSenderZEOFWait:
		return "ZEOF_WAIT"
	case StateSenderZFINWait:
		return "ZFIN_WAIT"
	case StateReceiverZChallengeWait:
		return "ZCHALLENGE_WAIT"
	case StateReceiverZRINITWait:
		return "ZRINIT_WAIT"
	case StateReceiverZCRCWait:
		return "ZCRC_WAIT"
	case StateReceiverData:
		return "ZRPOS_WAIT"
	case StateReceiverZFINWait:
		return "ZFIN_WAIT"
	case StateComplete:
		return "COMPLETE"
	case StateAbort:
		return "ABORT"
	default:
		return "UNKNOWN"
	}
}

// Config holds session configuration. All fields have workable zero values
// except where DefaultConfig sets something else.
type Config struct {
	// Use32BitCRC requests CRC32 framing; actually used only if the peer
	// also advertises CANFC32.
	Use32BitCRC bool

	// EscapeControl and Escape8Bit are this side's own escaping
	// requirements; the side that is actually used is the union with
	// whatever the peer negotiated (§4.6 capability handshake).
	EscapeControl bool
	Escape8Bit    bool

	// ZChallenge makes a receiver issue ZCHALLENGE before ZRINIT.
	ZChallenge bool

	// Timeout is the per-state inactivity timeout (§4.8). Zero uses
	// DefaultTimeout.
	Timeout time.Duration

	// DownloadDir is where a receiver writes incoming files. Empty means
	// the current directory.
	DownloadDir string

	// ProgressInterval bounds how often OnProgress fires.
	ProgressInterval time.Duration
}

// DefaultConfig returns a usable default configuration: CRC32 and
// ESCAPE_CTRL requested, challenge handshake off, 10s timeout.
func DefaultConfig() *Config {
	return &Config{
		Use32BitCRC:      true,
		EscapeControl:    true,
		Escape8Bit:       false,
		ZChallenge:       false,
		Timeout:          DefaultTimeout,
		ProgressInterval: 200 * time.Millisecond,
	}
}

// Option configures a Session at construction time.
type Option func(*Session)

func WithConfig(config *Config) Option {
	return func(s *Session) { s.config = config }
}

func WithCallbacks(callbacks *Callbacks) Option {
	return func(s *Session) { s.callbacks = mergeCallbacks(callbacks) }
}

func WithSessionLogger(logger Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// Session drives one batch transfer as a pure byte pump: Step feeds it
// bytes received from the peer and drains bytes destined for the peer. It
// never blocks and owns no transport.
type Session struct {
	role   Role
	config *Config

	callbacks *Callbacks
	logger    Logger

	state      State
	priorState State
	lastErr    error

	input  bytes.Buffer
	output bytes.Buffer

	retry *retryManager
	bsize *blockSizer

	// Negotiated capabilities.
	use32         bool
	escapeCtrl    bool
	escape8bit    bool
	peerCaps      byte // receiver's ZRINIT ZF0, as seen by a sender
	sentZSINIT    bool
	challengeWant uint32
	challengeSent bool

	windowOutstanding int

	// Sender-only.
	files     []string
	fileIndex int

	// Receiver-only.
	downloadDir string

	awaitingZFILEPayload bool
	pendingFileName      string
	pendingFileSize      int64
	pendingFileModTime   time.Time
	pendingFilePath      string
	pendingExistingSize  int64

	cur           *FileContext
	curAdvertised int64 // receiver: advertised size from the active ZFILE

	progress *ProgressTracker

	dataBuf [maxBlockSize]byte
}

// NewSenderSession creates a Session that will send files, in order, once
// Step begins pumping. files are source paths; Step negotiates with the
// peer before transmitting the first one.
func NewSenderSession(files []string, opts ...Option) *Session {
	s := newSession(RoleSender, opts...)
	s.files = files
	return s
}

// NewReceiverSession creates a Session that receives a batch of files into
// downloadDir (or config.DownloadDir if downloadDir is empty).
func NewReceiverSession(downloadDir string, opts ...Option) *Session {
	s := newSession(RoleReceiver, opts...)
	s.downloadDir = downloadDir
	if s.downloadDir == "" {
		s.downloadDir = s.config.DownloadDir
	}
	if s.downloadDir == "" {
		s.downloadDir = "."
	}
	return s
}

func newSession(role Role, opts ...Option) *Session {
	s := &Session{
		role:      role,
		config:    DefaultConfig(),
		callbacks: defaultCallbacks(),
		logger:    NoopLogger{},
		state:     StateInit,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.retry = newRetryManager(s.config.Timeout)
	s.bsize = newBlockSizer()
	s.progress = NewProgressTracker(s.callbacks.OnProgress, s.config.ProgressInterval)
	s.use32 = s.config.Use32BitCRC
	s.escapeCtrl = s.config.EscapeControl
	s.escape8bit = s.config.Escape8Bit
	return s
}

// outEsc returns the escape table for what this side currently transmits
// with (rebuilt whenever negotiated flags change).
func (s *Session) outEsc() *escapeTable {
	return newEscapeTable(s.escapeCtrl, s.escape8bit)
}

// Stats returns a snapshot of the active file's transfer progress.
func (s *Session) Stats() ProgressSnapshot {
	return s.progress.Snapshot(time.Now())
}

// CurrentState returns the session's current state.
func (s *Session) CurrentState() State { return s.state }

// Stop ends the session immediately. If savePartial is false and a file is
// mid-transfer, its on-disk partial is removed (receiver only).
func (s *Session) Stop(savePartial bool) {
	if s.cur != nil {
		if !savePartial && s.role == RoleReceiver {
			s.cur.Remove()
		} else {
			s.cur.Close()
		}
		s.cur = nil
	}
	s.setState(StateAbort, time.Now())
}

func (s *Session) setState(next State, now time.Time) {
	s.priorState = s.state
	s.state = next
	s.retry.Reset(now)
}

func (s *Session) emitEvent(typ EventType, frameType int, msg string) {
	if s.callbacks.OnEvent == nil {
		return
	}
	s.callbacks.OnEvent(Event{
		Type:      typ,
		Message:   msg,
		FrameType: frameType,
		Timestamp: time.Now(),
	})
}

func (s *Session) abort(now time.Time, err error) {
	s.lastErr = err
	s.emitEvent(EventError, -1, err.Error())
	s.logger.Error("aborting in state %s: %v", s.state, err)
	EncodeHexHeader(&s.output, ZABORT, stohdr(0))
	s.setState(StateAbort, now)
	if s.cur != nil {
		s.cur.Close()
		s.cur = nil
	}
}

// Step feeds input bytes received from the peer and drains up to
// len(output) bytes destined for the peer. It never blocks: a Step call
// with empty input still lets a streaming sender push more data subpackets,
// and still evaluates the inactivity timeout.
func (s *Session) Step(input []byte, output []byte) (consumed, produced int, state State, err error) {
	now := time.Now()

	if s.state == StateComplete || s.state == StateAbort {
		return 0, s.drain(output), s.state, s.lastErr
	}

	if len(input) > 0 {
		s.input.Write(input)
		consumed = len(input)
		s.retry.Reset(now)
		s.retry.OnActivity()
	}

	if found, end := scanForCancel(s.input.Bytes()); found {
		rest := append([]byte(nil), s.input.Bytes()[end:]...)
		s.input.Reset()
		s.input.Write(rest)
		s.abort(now, NewError(ErrCancelled, "peer cancelled session (CAN x4)"))
		return consumed, s.drain(output), s.state, s.lastErr
	}

	if s.state == StateInit {
		s.start(now)
	}

	for s.output.Len() < len(output) || len(output) == 0 {
		if !s.pump(now) {
			break
		}
	}

	if s.state != StateComplete && s.state != StateAbort && s.retry.Expired(now) {
		s.handleTimeout(now)
	}

	produced = s.drain(output)
	if produced > 0 {
		s.retry.Reset(now)
	}
	return consumed, produced, s.state, s.lastErr
}

func (s *Session) drain(output []byte) int {
	n := copy(output, s.output.Bytes())
	s.output.Next(n)
	return n
}

// pump attempts to parse and act on one frame or subpacket from the
// buffered input, or — for a streaming sender with window budget left — to
// push more data without needing any input at all. It returns whether it
// made progress (so Step can keep looping until the output buffer is full
// or input is exhausted).
func (s *Session) pump(now time.Time) bool {
	if s.role == RoleSender && s.state == StateSenderData && !s.senderWindowFull() {
		return s.senderStreamMore(now)
	}

	if s.role == RoleReceiver && (s.state == StateReceiverData || s.awaitingZFILEPayload) {
		return s.pumpSubpacket(now)
	}

	if s.role == RoleReceiver && s.state == StateReceiverZFINWait {
		// The sender's closing "OO" ends the session.
		if i := bytes.Index(s.input.Bytes(), []byte("OO")); i >= 0 {
			s.input.Next(i + 2)
			s.setState(StateComplete, now)
			return false
		}
	}

	return s.pumpHeader(now)
}

func (s *Session) pumpHeader(now time.Time) bool {
	if s.input.Len() == 0 {
		return false
	}
	r := bytes.NewReader(s.input.Bytes())
	frameType, hdr, use32, err := DecodeHeader(r)
	if isNeedMoreData(err) {
		return false
	}
	consumed := s.input.Len() - r.Len()
	s.input.Next(consumed)

	if err != nil {
		s.onProtocolError(now, err)
		return true
	}
	s.retry.OnProtocolSuccess()
	s.emitEvent(EventFrameReceived, frameType, FrameTypeName(frameType))
	s.logger.Debug("%s", FormatFrameLog("RX", frameType, hdr, nil, 0))

	if frameType == ZCAN {
		s.abort(now, NewError(ErrCancelled, "peer sent ZCAN"))
		return true
	}
	if frameType == ZCOMMAND {
		// Refused categorically: reply ZCOMPL(1), never executing
		// anything.
		EncodeHexHeader(&s.output, ZCOMPL, stohdr(1))
		return true
	}

	if s.role == RoleSender {
		s.senderHandleFrame(frameType, hdr, now)
	} else {
		s.receiverHandleFrame(frameType, hdr, use32, now)
	}
	return true
}

func (s *Session) pumpSubpacket(now time.Time) bool {
	if s.input.Len() == 0 {
		return false
	}
	limit := s.bsize.Size()
	if s.awaitingZFILEPayload {
		// A ZFILE name/info payload isn't bound by the data block size.
		limit = len(s.dataBuf)
	}
	r := bytes.NewReader(s.input.Bytes())
	n, term, err := DecodeSubpacket(r, s.dataBuf[:limit], s.use32)
	if isNeedMoreData(err) {
		return false
	}
	consumed := s.input.Len() - r.Len()
	s.input.Next(consumed)

	if err != nil {
		s.onProtocolError(now, err)
		return true
	}
	s.retry.OnProtocolSuccess()
	s.receiverHandleSubpacket(s.dataBuf[:n], term, now)
	return true
}

// isNeedMoreData reports whether err means "not enough buffered input to
// finish parsing", in which case the caller must leave the input unconsumed
// and retry once more bytes have arrived. bytes.Reader surfaces this as
// io.EOF (ReadByte) which callers upgrade in context; we also tolerate
// io.ErrUnexpectedEOF defensively.
func isNeedMoreData(err error) bool {
	return err == io.EOF || err == io.ErrUnexpectedEOF
}

func (s *Session) onProtocolError(now time.Time, err error) {
	s.emitEvent(EventError, -1, err.Error())
	s.logger.Debug("protocol error in state %s: %v", s.state, err)
	s.callbacks.OnError(err, "protocol")
	inData := s.state == StateSenderData || s.state == StateReceiverData
	if !inData && s.retry.OnProtocolError() {
		s.abort(now, NewError(ErrCapacity, "LINE NOISE"))
	}
}

func (s *Session) handleTimeout(now time.Time) {
	if s.retry.OnTimeout() {
		s.abort(now, NewError(ErrCapacity, "TOO MANY TIMEOUTS, TRANSFER CANCELLED"))
		return
	}
	s.emitEvent(EventTimeout, -1, "timeout in state "+s.state.String())
	s.retry.Reset(now)
	s.redrive(now)
}

// randomUint32 sources a 32-bit value from system entropy, used for the
// ZCHALLENGE handshake.
func randomUint32() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, NewError(ErrIO, "reading entropy for ZCHALLENGE: "+err.Error())
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}
