package security

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLogThrottleBurstAndDrop(t *testing.T) {
	throttle := NewLogThrottle(1, 3, 100, discardLogger())
	defer throttle.Stop()

	allowed := 0
	for i := 0; i < 10; i++ {
		if throttle.Allow("key-1") {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("allowed = %d, want the burst of 3", allowed)
	}
}

func TestLogThrottleKeysAreIndependent(t *testing.T) {
	throttle := NewLogThrottle(1, 1, 100, discardLogger())
	defer throttle.Stop()

	if !throttle.Allow("key-a") {
		t.Error("first event for key-a dropped")
	}
	if throttle.Allow("key-a") {
		t.Error("second immediate event for key-a allowed")
	}
	if !throttle.Allow("key-b") {
		t.Error("key-b throttled by key-a's bucket")
	}
}

func TestLogThrottleRefill(t *testing.T) {
	throttle := NewLogThrottle(50, 1, 100, discardLogger())
	defer throttle.Stop()

	if !throttle.Allow("key") {
		t.Fatal("first event dropped")
	}
	if throttle.Allow("key") {
		t.Fatal("burst exceeded")
	}

	// At 50 events/s the bucket refills within 20ms.
	time.Sleep(50 * time.Millisecond)
	if !throttle.Allow("key") {
		t.Error("event dropped after refill window")
	}
}

func TestLogThrottleLRUEviction(t *testing.T) {
	throttle := NewLogThrottle(1, 1, 3, discardLogger())
	defer throttle.Stop()

	// Fill the table and exhaust each key's burst.
	for i := 0; i < 3; i++ {
		throttle.Allow(fmt.Sprintf("key-%d", i))
	}

	// A fourth key evicts the least recently used (key-0), whose bucket
	// therefore starts fresh on the next call.
	throttle.Allow("key-3")
	if !throttle.Allow("key-0") {
		t.Error("evicted key did not get a fresh bucket")
	}
}

func TestLogThrottleCleanup(t *testing.T) {
	throttle := NewLogThrottle(1, 1, 100, discardLogger())
	defer throttle.Stop()

	throttle.Allow("stale")
	throttle.Cleanup(0)

	throttle.mu.Lock()
	n := len(throttle.entries)
	throttle.mu.Unlock()
	if n != 0 {
		t.Errorf("entries after cleanup = %d, want 0", n)
	}
}

func TestLogThrottleStopIsIdempotent(t *testing.T) {
	throttle := NewLogThrottle(1, 1, 10, discardLogger())
	throttle.Stop()
	throttle.Stop()
}
