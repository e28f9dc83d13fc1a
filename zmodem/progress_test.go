package zmodem

import (
	"testing"
	"time"
)

func TestProgressTrackerThrottlesCallback(t *testing.T) {
	var calls int
	tracker := NewProgressTracker(func(string, int64, int64, float64) { calls++ }, time.Second)

	start := time.Now()
	tracker.Start("file.bin", 1000, start)

	tracker.Update(100, start.Add(100*time.Millisecond)) // under the interval
	if calls != 0 {
		t.Fatalf("callback fired before the update interval elapsed: %d calls", calls)
	}

	tracker.Update(500, start.Add(2*time.Second)) // past the interval
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestProgressTrackerSnapshot(t *testing.T) {
	tracker := NewProgressTracker(nil, time.Second)
	start := time.Now()
	tracker.Start("file.bin", 2000, start)
	tracker.Update(1000, start.Add(time.Second))

	snap := tracker.Snapshot(start.Add(time.Second))
	if snap.Filename != "file.bin" {
		t.Errorf("Filename = %q", snap.Filename)
	}
	if snap.Transferred != 1000 {
		t.Errorf("Transferred = %d, want 1000", snap.Transferred)
	}
	if snap.Total != 2000 {
		t.Errorf("Total = %d, want 2000", snap.Total)
	}
	if snap.Rate != 1000 {
		t.Errorf("Rate = %f, want 1000", snap.Rate)
	}
}

func TestProgressTrackerCompleteReturnsElapsed(t *testing.T) {
	var finalCall []float64
	tracker := NewProgressTracker(func(_ string, _, _ int64, rate float64) {
		finalCall = append(finalCall, rate)
	}, time.Second)

	start := time.Now()
	tracker.Start("file.bin", 10, start)
	dur := tracker.Complete(start.Add(5 * time.Second))

	if dur != 5*time.Second {
		t.Errorf("Complete duration = %v, want 5s", dur)
	}
	if len(finalCall) != 1 || finalCall[0] != 0 {
		t.Errorf("Complete should invoke the callback once with rate 0, got %v", finalCall)
	}
}
