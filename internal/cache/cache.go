// Package cache implements the two-slot response cache described in §4.5:
// a "basic" slot and a "full" slot, each independently TTL-bounded, with
// lock-free reads and single-flight rebuilds so a burst of requests for an
// expired entry triggers exactly one rebuild rather than one per request.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Slot identifies which of the two cached response shapes is wanted.
type Slot int

const (
	SlotBasic Slot = iota
	SlotFull
	slotCount
)

type entry struct {
	value     atomic.Pointer[[]byte]
	expiresAt atomic.Int64 // unix nanos; 0 means never populated
	building  sync.Mutex
}

// Cache holds the basic and full response slots. The zero value is not
// usable; construct with New.
type Cache struct {
	ttl   time.Duration
	slots [slotCount]*entry
}

// New builds a Cache with the given TTL applied to both slots.
func New(ttl time.Duration) *Cache {
	c := &Cache{ttl: ttl}
	for i := range c.slots {
		c.slots[i] = &entry{}
	}
	return c
}

// Get returns a slot's cached bytes if still fresh. The second return
// value is false on a miss or expiry, in which case the caller should call
// GetOrBuild instead of Get if it wants the cache to rebuild for it.
func (c *Cache) Get(slot Slot) ([]byte, bool) {
	e := c.slots[slot]
	if time.Now().UnixNano() >= e.expiresAt.Load() {
		return nil, false
	}
	v := e.value.Load()
	if v == nil {
		return nil, false
	}
	return *v, true
}

// GetOrBuild returns the fresh cached value for slot, or calls build to
// produce and store a fresh one. Concurrent callers racing on an expired
// slot block on the slot's own lock so only one of them actually invokes
// build; the rest observe the freshly built value once it unblocks. Reads
// of a still-fresh entry never touch the lock at all. If build returns an
// error, nothing is cached and the error is returned to this caller only —
// the next caller gets to retry the build itself.
func (c *Cache) GetOrBuild(slot Slot, build func() ([]byte, error)) ([]byte, error) {
	e := c.slots[slot]

	if v, ok := c.Get(slot); ok {
		return v, nil
	}

	e.building.Lock()
	defer e.building.Unlock()

	// Re-check: another goroutine may have rebuilt while we waited for the
	// lock.
	if v, ok := c.Get(slot); ok {
		return v, nil
	}

	fresh, err := build()
	if err != nil {
		return nil, err
	}
	e.value.Store(&fresh)
	e.expiresAt.Store(time.Now().Add(c.ttl).UnixNano())
	return fresh, nil
}

// Invalidate forces both slots to be rebuilt on their next access,
// regardless of remaining TTL. The reference harness calls it each time
// the UDP registry accepts a worker status update, so the next response
// reflects the new aggregate.
func (c *Cache) Invalidate() {
	for _, e := range c.slots {
		e.expiresAt.Store(0)
	}
}
