package transport

import "testing"

func TestDetectTriggerFindsSequence(t *testing.T) {
	buf := append([]byte("login: welcome to the bbs\r\n"), zrqinitHex...)
	buf = append(buf, 'Z', 'Z')

	got := DetectTrigger(buf)
	want := len("login: welcome to the bbs\r\n")
	if got != want {
		t.Errorf("DetectTrigger = %d, want %d", got, want)
	}
}

func TestDetectTriggerAbsent(t *testing.T) {
	buf := []byte("just ordinary terminal chatter, nothing to see here")
	if got := DetectTrigger(buf); got != -1 {
		t.Errorf("DetectTrigger = %d, want -1", got)
	}
}

func TestDetectTriggerAtStart(t *testing.T) {
	buf := append(append([]byte(nil), zrqinitHex...), 'X')
	if got := DetectTrigger(buf); got != 0 {
		t.Errorf("DetectTrigger = %d, want 0", got)
	}
}

func TestDetectTriggerRejectsPartialMatch(t *testing.T) {
	buf := []byte{'*', '*', 0x18, 'B', '0'} // missing the trailing '0'
	if got := DetectTrigger(buf); got != -1 {
		t.Errorf("DetectTrigger = %d, want -1 for a truncated sequence", got)
	}
}
