package api

import (
	"fmt"
	"testing"
	"time"
)

func TestRateLimiterBurst(t *testing.T) {
	l := newRateLimiter(1, 3)

	for i := range 3 {
		if !l.allow("10.0.0.1:5000") {
			t.Fatalf("request %d inside burst denied", i+1)
		}
	}
	if l.allow("10.0.0.1:5000") {
		t.Error("request beyond burst allowed")
	}
}

func TestRateLimiterRefill(t *testing.T) {
	l := newRateLimiter(5, 2)

	l.allow("10.0.0.1:5000")
	l.allow("10.0.0.1:5000")
	if l.allow("10.0.0.1:5000") {
		t.Fatal("bucket not empty after burst")
	}

	// Backdate the bucket instead of sleeping.
	l.mu.Lock()
	l.buckets["10.0.0.1"].last = time.Now().Add(-time.Second)
	l.mu.Unlock()

	if !l.allow("10.0.0.1:5000") {
		t.Error("tokens not refilled")
	}
}

func TestRateLimiterPerHost(t *testing.T) {
	l := newRateLimiter(1, 1)

	if !l.allow("10.0.0.1:5000") {
		t.Fatal("first host denied")
	}
	if !l.allow("10.0.0.2:5000") {
		t.Error("second host shares the first host's bucket")
	}
	// Same host, different source port: same bucket.
	if l.allow("10.0.0.1:6000") {
		t.Error("port change reset the bucket")
	}
}

func TestRateLimiterBareHost(t *testing.T) {
	l := newRateLimiter(1, 1)

	if !l.allow("unix-socket") {
		t.Fatal("address without port denied")
	}
	if l.allow("unix-socket") {
		t.Error("address without port not tracked")
	}
}

func TestRateLimiterPrunesStale(t *testing.T) {
	l := newRateLimiter(1, 1)

	for i := range 120 {
		l.allow(fmt.Sprintf("10.0.%d.%d:1", i/256, i%256))
	}
	l.mu.Lock()
	for _, b := range l.buckets {
		b.last = time.Now().Add(-time.Hour)
	}
	l.mu.Unlock()

	l.allow("10.9.9.9:1")

	l.mu.Lock()
	n := len(l.buckets)
	l.mu.Unlock()
	if n != 1 {
		t.Errorf("buckets after prune = %d, want 1", n)
	}
}
