package zmodem

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFormatFrameLogIncludesPositionAndData(t *testing.T) {
	hdr := stohdr(12345)
	msg := FormatFrameLog("RX", ZDATA, hdr, []byte("payload"), 7)
	if !strings.Contains(msg, "RX ZDATA") {
		t.Errorf("missing direction/frame name: %q", msg)
	}
	if !strings.Contains(msg, "pos=12345") {
		t.Errorf("missing position: %q", msg)
	}
	if !strings.Contains(msg, `data="payload"`) {
		t.Errorf("missing data: %q", msg)
	}
}

func TestFormatFrameLogTruncatesLongData(t *testing.T) {
	data := bytes.Repeat([]byte{'x'}, 200)
	msg := FormatFrameLog("TX", ZDATA, Header{}, data, len(data))
	if !strings.Contains(msg, "[truncated]") {
		t.Errorf("expected truncation marker in %q", msg)
	}
}

func TestNoopLoggerDoesNotPanic(t *testing.T) {
	var l Logger = NoopLogger{}
	l.Debug("x %d", 1)
	l.Info("y")
	l.Error("z %s", "oops")
}

func TestFileLoggerWritesTimestampedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.log")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hello %s", "world")
	logger.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "INFO: hello world") {
		t.Errorf("log contents = %q", data)
	}
}

func TestLoggingReaderPassesThroughBytes(t *testing.T) {
	src := bytes.NewReader(bytes.Repeat([]byte("z"), 50))
	lr := NewLoggingReader(src, NoopLogger{}, "test")
	buf := make([]byte, 50)
	n, err := lr.Read(buf)
	if err != nil || n != 50 {
		t.Fatalf("Read = (%d, %v), want (50, nil)", n, err)
	}
}

func TestLoggingWriterPassesThroughBytes(t *testing.T) {
	var dst bytes.Buffer
	lw := NewLoggingWriter(&dst, NoopLogger{}, "test")
	n, err := lw.Write([]byte("hello world"))
	if err != nil || n != 11 {
		t.Fatalf("Write = (%d, %v), want (11, nil)", n, err)
	}
	if dst.String() != "hello world" {
		t.Errorf("underlying writer got %q", dst.String())
	}
}
