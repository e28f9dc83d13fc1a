package zmodem

import (
	"testing"
	"time"
)

func TestRetryManagerExpiry(t *testing.T) {
	r := newRetryManager(time.Second)
	now := time.Now()
	r.Reset(now)

	if r.Expired(now.Add(500 * time.Millisecond)) {
		t.Errorf("timer reported expired before the timeout elapsed")
	}
	if !r.Expired(now.Add(time.Second)) {
		t.Errorf("timer did not report expired once the timeout elapsed")
	}
}

func TestRetryManagerDefaultsTimeout(t *testing.T) {
	r := newRetryManager(0)
	if r.timeout != DefaultTimeout {
		t.Errorf("zero timeout did not fall back to DefaultTimeout: got %v", r.timeout)
	}
}

func TestRetryManagerConsecutiveTimeouts(t *testing.T) {
	r := newRetryManager(time.Second)
	for i := 0; i < maxConsecutiveTimeouts-1; i++ {
		if r.OnTimeout() {
			t.Fatalf("aborted after only %d timeouts", i+1)
		}
	}
	if !r.OnTimeout() {
		t.Fatalf("expected abort at the %dth consecutive timeout", maxConsecutiveTimeouts)
	}
}

func TestRetryManagerActivityClearsTimeoutCount(t *testing.T) {
	r := newRetryManager(time.Second)
	for i := 0; i < maxConsecutiveTimeouts-1; i++ {
		r.OnTimeout()
	}
	r.OnActivity()
	if r.OnTimeout() {
		t.Fatalf("activity should have reset the consecutive-timeout counter")
	}
}

func TestRetryManagerConsecutiveProtocolErrors(t *testing.T) {
	r := newRetryManager(time.Second)
	for i := 0; i < maxConsecutiveErrors-1; i++ {
		if r.OnProtocolError() {
			t.Fatalf("aborted after only %d protocol errors", i+1)
		}
	}
	if !r.OnProtocolError() {
		t.Fatalf("expected abort at the %dth consecutive protocol error", maxConsecutiveErrors)
	}
}

func TestRetryManagerProtocolSuccessClearsErrorCount(t *testing.T) {
	r := newRetryManager(time.Second)
	for i := 0; i < maxConsecutiveErrors-1; i++ {
		r.OnProtocolError()
	}
	r.OnProtocolSuccess()
	if r.OnProtocolError() {
		t.Fatalf("success should have reset the consecutive-error counter")
	}
}
