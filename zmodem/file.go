package zmodem

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileContext is the one active file a Session works with at a time: the
// sender's file being streamed, or the receiver's file being written.
type FileContext struct {
	Name    string // basename as advertised on the wire
	Path    string // full path on disk
	Size    int64  // advertised size
	ModTime time.Time

	handle   *os.File
	position int64
}

// OpenForSend opens path read-only for the sender side of a transfer.
func OpenForSend(path string) (*FileContext, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, NewError(ErrIO, fmt.Sprintf("open %s: %v", path, err))
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, NewError(ErrIO, fmt.Sprintf("stat %s: %v", path, err))
	}
	return &FileContext{
		Name:    filepath.Base(path),
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		handle:  f,
	}, nil
}

// SeekTo repositions the file's cursor, e.g. the sender rewinding on a
// ZRPOS, or the receiver resuming a partial file.
func (fc *FileContext) SeekTo(pos int64) error {
	if _, err := fc.handle.Seek(pos, 0); err != nil {
		return NewError(ErrIO, fmt.Sprintf("seek %s: %v", fc.Path, err))
	}
	fc.position = pos
	return nil
}

// Position returns the file's current cursor.
func (fc *FileContext) Position() int64 { return fc.position }

// ReadBlock reads up to len(buf) bytes at the current position, advancing
// it. io.EOF is returned once the file is exhausted.
func (fc *FileContext) ReadBlock(buf []byte) (int, error) {
	n, err := fc.handle.Read(buf)
	fc.position += int64(n)
	return n, err
}

// WriteBlock appends data at the current position.
func (fc *FileContext) WriteBlock(data []byte) error {
	if _, err := fc.handle.Write(data); err != nil {
		return NewError(ErrIO, fmt.Sprintf("write %s: %v", fc.Path, err))
	}
	fc.position += int64(len(data))
	return nil
}

// Close releases the underlying file handle without flushing or touching
// mtime (used on ZSKIP and abort).
func (fc *FileContext) Close() error {
	if fc.handle == nil {
		return nil
	}
	return fc.handle.Close()
}

// Finish flushes, closes, and — if modTime is non-zero — sets the file's
// modification time to the sender-provided value, matching the receiver's
// post-ZEOF cleanup.
func (fc *FileContext) Finish(modTime time.Time) error {
	if err := fc.handle.Sync(); err != nil {
		fc.handle.Close()
		return NewError(ErrIO, fmt.Sprintf("sync %s: %v", fc.Path, err))
	}
	if err := fc.handle.Close(); err != nil {
		return NewError(ErrIO, fmt.Sprintf("close %s: %v", fc.Path, err))
	}
	if !modTime.IsZero() {
		if err := os.Chtimes(fc.Path, modTime, modTime); err != nil {
			return NewError(ErrIO, fmt.Sprintf("utime %s: %v", fc.Path, err))
		}
	}
	return nil
}

// Remove discards a partially-written file. Abort cleanup is caller-gated:
// by default partials are kept, matching the reference's behavior, but
// Session.Stop(false) calls this.
func (fc *FileContext) Remove() error {
	fc.handle.Close()
	return os.Remove(fc.Path)
}

// collisionCheck is the result of the receiver's resume decision on
// receiving a ZFILE header, per the reference's exact stat-based logic.
type collisionCheck struct {
	// Action selects how the receiver should proceed.
	Action collisionAction
	// ExistingSize is the size already on disk, meaningful when
	// Action == actionChallenge.
	ExistingSize int64
	// TargetPath is the path to open for writing (may carry a .NNNN suffix).
	TargetPath string
}

type collisionAction int

const (
	// actionFresh: nothing on disk (or the existing file was too big to be
	// a prefix and got renamed out of the way); write from position 0.
	actionFresh collisionAction = iota
	// actionChallenge: on-disk size is <= advertised size; the receiver
	// must ZCRC-challenge the sender before deciding whether to skip,
	// resume, or rename-and-restart.
	actionChallenge
)

// planResume implements the receiver's ZFILE resume decision: stat the
// target path for basename in dir. If absent, write fresh. If the on-disk
// file is larger than advertised, it cannot be a prefix of the incoming
// file — rename it out of the way to the first free name.NNNN and start
// fresh. Otherwise (on-disk size <= advertised size, including the empty
// case) the caller must ZCRC-challenge the sender and compare against the
// bytes already present.
func planResume(dir, basename string, advertisedSize int64) (*collisionCheck, error) {
	target := filepath.Join(dir, basename)
	info, err := os.Stat(target)
	if os.IsNotExist(err) {
		return &collisionCheck{Action: actionFresh, TargetPath: target}, nil
	}
	if err != nil {
		return nil, NewError(ErrIO, fmt.Sprintf("stat %s: %v", target, err))
	}
	if info.Size() > advertisedSize {
		renamed, err := firstFreeCollisionName(dir, basename)
		if err != nil {
			return nil, err
		}
		return &collisionCheck{Action: actionFresh, TargetPath: renamed}, nil
	}
	return &collisionCheck{
		Action:       actionChallenge,
		ExistingSize: info.Size(),
		TargetPath:   target,
	}, nil
}

// firstFreeCollisionName returns dir/basename.NNNN for the first four-digit
// zero-padded suffix (starting at .0000) that does not already exist.
// Exhausting .9999 is treated as a disk I/O failure, per the reference's
// unspecified behavior in that case.
func firstFreeCollisionName(dir, basename string) (string, error) {
	for n := 0; n < 10000; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s.%04d", basename, n))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", NewError(ErrIO, fmt.Sprintf("%s: collision suffixes exhausted at .9999", basename))
}

// OpenForReceive opens path for resumable writing: created if absent,
// never truncated, positioned at resumeAt.
func OpenForReceive(path string, resumeAt int64) (*FileContext, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, NewError(ErrIO, fmt.Sprintf("create %s: %v", path, err))
	}
	fc := &FileContext{
		Name:   filepath.Base(path),
		Path:   path,
		handle: f,
	}
	if err := fc.SeekTo(resumeAt); err != nil {
		f.Close()
		return nil, err
	}
	return fc, nil
}

// ComputeFileCRC32 computes the CRC32 of the first n bytes of the file at
// path, used on both sides of a ZCRC challenge: the receiver hashing its
// on-disk prefix, and the sender hashing the same prefix of the source
// file to answer the receiver's request.
func ComputeFileCRC32(path string, n int64) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, NewError(ErrIO, fmt.Sprintf("open %s: %v", path, err))
	}
	defer f.Close()

	crc := uint32(0xFFFFFFFF)
	buf := make([]byte, 32*1024)
	var read int64
	for read < n {
		want := n - read
		if int64(len(buf)) < want {
			want = int64(len(buf))
		}
		nr, err := f.Read(buf[:want])
		for _, b := range buf[:nr] {
			crc = updcrc32(b, crc)
		}
		read += int64(nr)
		if nr == 0 || err != nil {
			break
		}
	}
	return CRC32Finalize(crc), nil
}
