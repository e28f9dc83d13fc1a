package zmodem

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpenForSendReadsFileMetadata(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "greeting.txt")
	if err := os.WriteFile(path, []byte("hello, world"), 0o644); err != nil {
		t.Fatal(err)
	}

	fc, err := OpenForSend(path)
	if err != nil {
		t.Fatalf("OpenForSend: %v", err)
	}
	defer fc.Close()

	if fc.Name != "greeting.txt" {
		t.Errorf("Name = %q, want %q", fc.Name, "greeting.txt")
	}
	if fc.Size != int64(len("hello, world")) {
		t.Errorf("Size = %d, want %d", fc.Size, len("hello, world"))
	}

	buf := make([]byte, 32)
	n, _ := fc.ReadBlock(buf)
	if string(buf[:n]) != "hello, world" {
		t.Errorf("ReadBlock = %q, want %q", buf[:n], "hello, world")
	}
	if fc.Position() != int64(n) {
		t.Errorf("Position after read = %d, want %d", fc.Position(), n)
	}
}

func TestOpenForSendMissingFile(t *testing.T) {
	_, err := OpenForSend(filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatal("expected an error opening a nonexistent file")
	}
}

func TestSeekToUpdatesPosition(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}
	fc, err := OpenForSend(path)
	if err != nil {
		t.Fatal(err)
	}
	defer fc.Close()

	if err := fc.SeekTo(5); err != nil {
		t.Fatalf("SeekTo: %v", err)
	}
	buf := make([]byte, 5)
	n, _ := fc.ReadBlock(buf)
	if string(buf[:n]) != "56789" {
		t.Errorf("read after seek = %q, want %q", buf[:n], "56789")
	}
}

func TestOpenForReceiveResumesAtOffset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partial.bin")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}

	fc, err := OpenForReceive(path, 5)
	if err != nil {
		t.Fatalf("OpenForReceive: %v", err)
	}
	if fc.Position() != 5 {
		t.Fatalf("Position = %d, want 5", fc.Position())
	}
	if err := fc.WriteBlock([]byte("XXXXX")); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	if err := fc.Finish(time.Time{}); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "01234XXXXX" {
		t.Errorf("file contents = %q, want %q", got, "01234XXXXX")
	}
}

func TestFinishSetsModTime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stamped.bin")
	fc, err := OpenForReceive(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	fc.WriteBlock([]byte("data"))

	want := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := fc.Finish(want); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(want) {
		t.Errorf("ModTime = %v, want %v", info.ModTime(), want)
	}
}

func TestPlanResumeFreshWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	plan, err := planResume(dir, "new.bin", 100)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Action != actionFresh {
		t.Errorf("Action = %v, want actionFresh", plan.Action)
	}
	if plan.TargetPath != filepath.Join(dir, "new.bin") {
		t.Errorf("TargetPath = %q", plan.TargetPath)
	}
}

func TestPlanResumeChallengeWhenPrefixPossible(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "existing.bin")
	if err := os.WriteFile(path, []byte("01234"), 0o644); err != nil {
		t.Fatal(err)
	}

	plan, err := planResume(dir, "existing.bin", 10)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Action != actionChallenge {
		t.Errorf("Action = %v, want actionChallenge", plan.Action)
	}
	if plan.ExistingSize != 5 {
		t.Errorf("ExistingSize = %d, want 5", plan.ExistingSize)
	}
}

func TestPlanResumeRenamesWhenExistingIsLarger(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.bin")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}

	plan, err := planResume(dir, "big.bin", 3)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Action != actionFresh {
		t.Errorf("Action = %v, want actionFresh (oversized existing file)", plan.Action)
	}
	if plan.TargetPath == path {
		t.Errorf("TargetPath should be a renamed .NNNN path, got the original")
	}
}

func TestFirstFreeCollisionNameSkipsExisting(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "f.txt.0000"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	name, err := firstFreeCollisionName(dir, "f.txt")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(name) != "f.txt.0001" {
		t.Errorf("firstFreeCollisionName = %q, want f.txt.0001", filepath.Base(name))
	}
}

func TestComputeFileCRC32MatchesIncrementalUpdate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crc.bin")
	data := []byte("all work and no play makes jack a dull boy")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ComputeFileCRC32(path, int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}

	want := uint32(0xFFFFFFFF)
	for _, b := range data {
		want = updcrc32(b, want)
	}
	want = CRC32Finalize(want)

	if got != want {
		t.Errorf("ComputeFileCRC32 = %#08x, want %#08x", got, want)
	}
}

func TestComputeFileCRC32Prefix(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crc.bin")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}

	full, err := ComputeFileCRC32(path, 10)
	if err != nil {
		t.Fatal(err)
	}
	prefix, err := ComputeFileCRC32(path, 5)
	if err != nil {
		t.Fatal(err)
	}
	if full == prefix {
		t.Errorf("CRC32 of full file and its prefix should not match")
	}
}
