package ratelimit

import (
	"net"
	"testing"
	"time"
)

func newTestLimiter(rate, burst int) *Limiter {
	l := New(Config{RatePerSecond: rate, Burst: burst, CleanupInterval: time.Hour, IdleTimeout: time.Hour})
	return l
}

func TestAllowConsumesBurstThenBlocks(t *testing.T) {
	l := newTestLimiter(1, 3)
	defer l.Stop()

	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 27015}

	for i := 0; i < 3; i++ {
		if !l.Allow(addr) {
			t.Fatalf("expected burst request %d to be allowed", i)
		}
	}
	if l.Allow(addr) {
		t.Fatalf("expected request beyond burst to be denied")
	}
}

func TestAllowTracksSeparateBucketsPerAddress(t *testing.T) {
	l := newTestLimiter(1, 1)
	defer l.Stop()

	a := &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 27015}
	b := &net.UDPAddr{IP: net.ParseIP("203.0.113.6"), Port: 27015}

	if !l.Allow(a) {
		t.Fatalf("expected first request from a to be allowed")
	}
	if l.Allow(a) {
		t.Fatalf("expected second request from a to be denied")
	}
	if !l.Allow(b) {
		t.Fatalf("expected first request from a different address to be allowed")
	}
	if l.Len() != 2 {
		t.Fatalf("expected 2 tracked buckets, got %d", l.Len())
	}
}

func TestAllowIgnoresSourcePort(t *testing.T) {
	l := newTestLimiter(1, 1)
	defer l.Stop()

	a := &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 27015}
	sameHostDifferentPort := &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 40000}

	if !l.Allow(a) {
		t.Fatalf("expected first request to be allowed")
	}
	if l.Allow(sameHostDifferentPort) {
		t.Fatalf("expected bucket to be keyed by IP only, not IP:port")
	}
}

func TestSweepEvictsIdleBuckets(t *testing.T) {
	l := newTestLimiter(1, 1)
	defer l.Stop()

	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 27015}
	l.Allow(addr)
	if l.Len() != 1 {
		t.Fatalf("expected 1 tracked bucket, got %d", l.Len())
	}

	future := time.Now().Add(2 * time.Hour)
	l.sweep(future)
	if l.Len() != 0 {
		t.Fatalf("expected idle bucket to be swept, got %d remaining", l.Len())
	}
}
