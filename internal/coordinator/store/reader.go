package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyquery/hyquery/internal/aggregate"
	"github.com/hyquery/hyquery/internal/wire"
)

// Reader is the primary-side shared-store aggregation view from §4.8.
// Every call is fail-closed: any store error propagates to the caller
// instead of silently degrading to a partial or local-only answer.
type Reader struct {
	client     Client
	namespaces []string
	staleAfter time.Duration

	mu             sync.Mutex
	basicAt        time.Time
	fullAt         time.Time
	cachedBasic    aggregate.Aggregate
	cachedFull     aggregate.Aggregate
	haveBasic      bool
	haveFull       bool

	readAttempts atomic.Int64
	readFailures atomic.Int64
	cacheHits    atomic.Int64
	cacheMisses  atomic.Int64
}

// NewReader builds a Reader over the given namespaces (the configured
// namespace, plus "global" when includeGlobalNamespace was set — the
// caller decides that list once at construction).
func NewReader(client Client, namespaces []string, staleAfterSeconds int) *Reader {
	return &Reader{
		client:     client,
		namespaces: namespaces,
		staleAfter: time.Duration(staleAfterSeconds) * time.Second,
	}
}

// GetAggregate implements aggregate.Provider for the shared-store backend,
// per §4.8's getAggregate algorithm.
func (r *Reader) GetAggregate(includePlayers bool) (aggregate.Aggregate, error) {
	r.mu.Lock()
	if includePlayers && r.haveFull && time.Since(r.fullAt) <= time.Second {
		defer r.mu.Unlock()
		r.cacheHits.Add(1)
		return r.cachedFull, nil
	}
	if !includePlayers && r.haveBasic && time.Since(r.basicAt) <= time.Second {
		defer r.mu.Unlock()
		r.cacheHits.Add(1)
		return r.cachedBasic, nil
	}
	r.mu.Unlock()
	r.cacheMisses.Add(1)
	r.readAttempts.Add(1)

	ctx := context.Background()
	now := time.Now()
	cutoff := now.Add(-r.staleAfter).UnixMilli()

	type keyed struct {
		id  string
		doc SnapshotDoc
	}
	byID := make(map[string]keyed)

	for _, ns := range r.namespaces {
		indexKey := IndexKey(ns)

		if _, err := r.client.EvictStaleServers(ctx, indexKey, cutoff); err != nil {
			r.readFailures.Add(1)
			return aggregate.Aggregate{}, fmt.Errorf("store: evict stale servers in %q: %w", ns, err)
		}

		ids, err := r.client.GetActiveServerIDs(ctx, indexKey, cutoff)
		if err != nil {
			r.readFailures.Add(1)
			return aggregate.Aggregate{}, fmt.Errorf("store: list active servers in %q: %w", ns, err)
		}
		if len(ids) == 0 {
			continue
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = ServerKey(ns, id)
		}

		payloads, err := r.client.GetSnapshots(ctx, keys)
		if err != nil {
			r.readFailures.Add(1)
			return aggregate.Aggregate{}, fmt.Errorf("store: fetch snapshots in %q: %w", ns, err)
		}

		for _, payload := range payloads {
			if payload == nil {
				continue
			}
			doc, err := UnmarshalSnapshot(payload)
			if err != nil {
				continue
			}
			if doc.UpdatedAtMillis <= cutoff {
				continue
			}
			existing, ok := byID[doc.ID]
			if !ok || doc.UpdatedAtMillis > existing.doc.UpdatedAtMillis {
				byID[doc.ID] = keyed{id: doc.ID, doc: doc}
			}
		}
	}

	ordered := make([]keyed, 0, len(byID))
	for _, k := range byID {
		ordered = append(ordered, k)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].id < ordered[j].id })

	var agg aggregate.Aggregate
	for _, k := range ordered {
		agg.TotalOnline += k.doc.Online
		agg.TotalMax += k.doc.Max

		// A worker's own nested player list carries no source-server-id
		// (it is already scoped to that server); the top-level network
		// player list tags each entry with the worker it came from.
		var nested []wire.PlayerRef
		for _, p := range k.doc.Players {
			nested = append(nested, wire.PlayerRef{
				Username: p.Username,
				UUID:     wire.UUID{MSB: p.UUIDMSB, LSB: p.UUIDLSB},
			})
		}

		agg.RemoteServers = append(agg.RemoteServers, wire.RemoteServerSnapshot{
			ID:              k.id,
			Name:            k.doc.Name,
			MOTD:            k.doc.MOTD,
			Online:          uint32(k.doc.Online),
			Max:             uint32(k.doc.Max),
			UpdatedAtMillis: k.doc.UpdatedAtMillis,
			Players:         nested,
		})
		if includePlayers {
			for _, p := range nested {
				agg.NetworkPlayers = append(agg.NetworkPlayers, wire.PlayerRef{
					Username:       p.Username,
					UUID:           p.UUID,
					SourceServerID: k.id,
				})
			}
		}
	}

	r.mu.Lock()
	if includePlayers {
		r.cachedFull = agg
		r.fullAt = now
		r.haveFull = true
	} else {
		r.cachedBasic = agg
		r.basicAt = now
		r.haveBasic = true
	}
	r.mu.Unlock()

	return agg, nil
}

// Len reports the number of distinct servers in the cached full aggregate,
// or in the cached basic aggregate when no full one has been built yet,
// exposed for the admin status API's registry-size field
// alongside the UDP backend's Registry.Len.
func (r *Reader) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.haveFull {
		return len(r.cachedFull.RemoteServers)
	}
	return len(r.cachedBasic.RemoteServers)
}

// Metrics reports read-attempt/failure and cache hit/miss counters, the
// shared-store analogue of Java's HyQueryNetworkObservability read-path
// counters (readAttempts/readSuccesses/readFailures, cacheHits/cacheMisses).
func (r *Reader) Metrics() map[string]int64 {
	attempts := r.readAttempts.Load()
	failures := r.readFailures.Load()
	return map[string]int64{
		"readAttempts": attempts,
		"readSuccess":  attempts - failures,
		"readFailures": failures,
		"cacheHits":    r.cacheHits.Load(),
		"cacheMisses":  r.cacheMisses.Load(),
	}
}
