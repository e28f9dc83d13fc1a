package zmodem

import "time"

// ProgressSnapshot is a point-in-time read of a transfer's progress,
// returned by Session.Stats.
type ProgressSnapshot struct {
	Filename    string
	Transferred int64
	Total       int64
	Rate        float64 // bytes/sec, averaged since Start
	Elapsed     time.Duration
}

// ProgressTracker accumulates transfer progress and invokes OnProgress no
// more often than updateInterval. Session.Step polls it directly — there is
// no timer goroutine and no locking, since the engine is single-threaded.
type ProgressTracker struct {
	filename         string
	bytesTransferred int64
	bytesTotal       int64
	startTime        time.Time
	lastUpdate       time.Time
	lastBytes        int64

	callback       func(string, int64, int64, float64)
	updateInterval time.Duration
}

// NewProgressTracker creates a new progress tracker.
func NewProgressTracker(callback func(string, int64, int64, float64), interval time.Duration) *ProgressTracker {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &ProgressTracker{
		callback:       callback,
		updateInterval: interval,
	}
}

// Start begins tracking a new file transfer, stamped with now (the caller's
// clock; the tracker itself never calls time.Now).
func (pt *ProgressTracker) Start(filename string, bytesTotal int64, now time.Time) {
	pt.filename = filename
	pt.bytesTotal = bytesTotal
	pt.bytesTransferred = 0
	pt.startTime = now
	pt.lastUpdate = now
	pt.lastBytes = 0
}

// Update records bytesTransferred and, if updateInterval has elapsed since
// the last callback, invokes OnProgress.
func (pt *ProgressTracker) Update(bytesTransferred int64, now time.Time) {
	pt.bytesTransferred = bytesTransferred
	if now.Sub(pt.lastUpdate) < pt.updateInterval {
		return
	}
	elapsed := now.Sub(pt.lastUpdate).Seconds()
	var rate float64
	if elapsed > 0 {
		rate = float64(bytesTransferred-pt.lastBytes) / elapsed
	}
	if pt.callback != nil {
		pt.callback(pt.filename, bytesTransferred, pt.bytesTotal, rate)
	}
	pt.lastUpdate = now
	pt.lastBytes = bytesTransferred
}

// Complete emits a final OnProgress call and returns the transfer duration.
func (pt *ProgressTracker) Complete(now time.Time) time.Duration {
	duration := now.Sub(pt.startTime)
	if pt.callback != nil {
		pt.callback(pt.filename, pt.bytesTransferred, pt.bytesTotal, 0)
	}
	return duration
}

// Snapshot returns the current progress state.
func (pt *ProgressTracker) Snapshot(now time.Time) ProgressSnapshot {
	elapsed := now.Sub(pt.startTime)
	var rate float64
	if elapsed.Seconds() > 0 {
		rate = float64(pt.bytesTransferred) / elapsed.Seconds()
	}
	return ProgressSnapshot{
		Filename:    pt.filename,
		Transferred: pt.bytesTransferred,
		Total:       pt.bytesTotal,
		Rate:        rate,
		Elapsed:     elapsed,
	}
}
