// Package ratelimit provides a per-source-address token bucket limiter for
// the query dispatch path (§4.4). It is built on golang.org/x/time/rate,
// the same limiter family WoozyMasta-zenit wires into its HTTP middleware,
// rather than a hand-rolled bucket, since the ecosystem already has a
// well-tested implementation of exactly this algorithm.
package ratelimit

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config controls the limiter's rate, burst, and idle-bucket eviction.
type Config struct {
	RatePerSecond   int
	Burst           int
	CleanupInterval time.Duration
	IdleTimeout     time.Duration
}

// DefaultConfig matches the §4.4/§6 defaults: 10 requests/sec, burst 20,
// with idle buckets swept out every 60 seconds.
func DefaultConfig() Config {
	return Config{
		RatePerSecond:   10,
		Burst:           20,
		CleanupInterval: 60 * time.Second,
		IdleTimeout:     60 * time.Second,
	}
}

type bucket struct {
	limiter    *rate.Limiter
	lastSeenMu sync.Mutex
	lastSeen   time.Time
}

func (b *bucket) touch(now time.Time) {
	b.lastSeenMu.Lock()
	b.lastSeen = now
	b.lastSeenMu.Unlock()
}

func (b *bucket) idleSince(now time.Time) time.Duration {
	b.lastSeenMu.Lock()
	defer b.lastSeenMu.Unlock()
	return now.Sub(b.lastSeen)
}

// Limiter tracks one token bucket per source address. Zero value is not
// usable; construct with New.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Limiter and starts its background cleanup sweep. Call Stop
// when the owning listener shuts down.
func New(cfg Config) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

func keyFor(addr net.Addr) string {
	if udp, ok := addr.(*net.UDPAddr); ok {
		return udp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// Allow reports whether a packet from addr may proceed, consuming one
// token from its bucket if so. Every source gets its own bucket the first
// time it is seen, seeded with the configured rate and burst (§4.4).
func (l *Limiter) Allow(addr net.Addr) bool {
	key := keyFor(addr)
	now := time.Now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{
			limiter:  rate.NewLimiter(rate.Limit(l.cfg.RatePerSecond), l.cfg.Burst),
			lastSeen: now,
		}
		l.buckets[key] = b
	}
	l.mu.Unlock()

	b.touch(now)
	return b.limiter.Allow()
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case now := <-ticker.C:
			l.sweep(now)
		}
	}
}

func (l *Limiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if b.idleSince(now) >= l.cfg.IdleTimeout {
			delete(l.buckets, key)
		}
	}
}

// Stop halts the cleanup goroutine. Safe to call multiple times.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Len reports the current number of tracked source buckets, exposed for
// tests.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
