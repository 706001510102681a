// Package udpc implements the UDP coordinator backend from §4.7: a worker
// publisher that periodically pushes HMAC-signed status frames, and a
// primary-side registry that authenticates and aggregates them.
package udpc

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyquery/hyquery/internal/aggregate"
	"github.com/hyquery/hyquery/internal/config"
	"github.com/hyquery/hyquery/internal/wire"
)

// WorkerState is the primary-side record of one worker's last accepted
// status packet.
type WorkerState struct {
	ID                  string
	Name                string
	MOTD                string
	Online              int32
	Max                 int32
	Port                int32
	Version             string
	Players             []wire.PlayerRef
	LastUpdateMonotonic time.Time
	LastUpdateWallclock time.Time
}

func (w WorkerState) isOnline(timeout time.Duration) bool {
	return time.Since(w.LastUpdateMonotonic) <= timeout
}

// matchesPattern implements the exact-or-"prefix*"-wildcard matching rule
// from §3/§8.
func matchesPattern(pattern, id string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(id, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == id
}

// Registry is the primary-side worker-id → worker-state map plus the
// authorized worker list it is matched against. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]WorkerState

	auth          []config.WorkerAuth
	workerTimeout time.Duration
	staleWindow   time.Duration

	onAccepted func()
	onRejected func(workerID string, status byte)

	accepted atomic.Int64
	rejected atomic.Int64
}

// NewRegistry builds a Registry. onAccepted, if non-nil, is called after
// every successfully accepted status packet — the harness wires this to
// the response cache's Invalidate per §4.7 step 5. onRejected, if
// non-nil, is called with the worker id (best-effort, may be empty if the
// packet failed to parse) and ACK status code for every rejection —
// wired to the MQTT telemetry mirror when enabled.
func NewRegistry(auth []config.WorkerAuth, workerTimeout, staleWindow time.Duration, onAccepted func(), onRejected func(string, byte)) *Registry {
	return &Registry{
		workers:       make(map[string]WorkerState),
		auth:          auth,
		workerTimeout: workerTimeout,
		staleWindow:   staleWindow,
		onAccepted:    onAccepted,
		onRejected:    onRejected,
	}
}

// firstKey returns the shared key of the first configured worker entry.
// Every ACK this registry emits is signed with this single key regardless
// of which worker the ACK concerns — a preserved weakness (see §9): the
// original implementation always derives its ACK-signing key this way
// rather than the matched entry's own key, and this rewrite reproduces
// that exactly rather than fixing it.
func (r *Registry) firstKey() []byte {
	if len(r.auth) == 0 {
		return nil
	}
	return []byte(r.auth[0].Key)
}

func (r *Registry) reject(workerID string, status byte) {
	r.rejected.Add(1)
	if r.onRejected != nil {
		r.onRejected(workerID, status)
	}
}

func (r *Registry) findAuth(id string) (config.WorkerAuth, bool) {
	for _, a := range r.auth {
		if matchesPattern(a.ID, id) {
			return a, true
		}
	}
	return config.WorkerAuth{}, false
}

// ProcessStatusPacket implements §4.7's processStatusUpdate. It always
// returns a signed ACK frame ready to send back to the sender.
func (r *Registry) ProcessStatusPacket(data []byte, now time.Time) []byte {
	signingKey := r.firstKey()

	packet, err := wire.DecodeStatusPacket(data)
	if err != nil {
		r.reject("", wire.StatusBadHMAC)
		return wire.EncodeAck(signingKey, wire.StatusBadHMAC, 0)
	}

	entry, ok := r.findAuth(packet.Frame.WorkerID)
	if !ok {
		r.reject(packet.Frame.WorkerID, wire.StatusUnknownID)
		return wire.EncodeAck(signingKey, wire.StatusUnknownID, packet.TimestampMillis)
	}

	if !packet.VerifyHMAC([]byte(entry.Key)) {
		r.reject(packet.Frame.WorkerID, wire.StatusBadHMAC)
		return wire.EncodeAck(signingKey, wire.StatusBadHMAC, packet.TimestampMillis)
	}

	skew := now.UnixMilli() - packet.TimestampMillis
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Millisecond > r.staleWindow {
		r.reject(packet.Frame.WorkerID, wire.StatusStale)
		return wire.EncodeAck(signingKey, wire.StatusStale, packet.TimestampMillis)
	}

	state := WorkerState{
		ID:                  packet.Frame.WorkerID,
		Name:                packet.Frame.Name,
		MOTD:                packet.Frame.MOTD,
		Online:              packet.Frame.Online,
		Max:                 packet.Frame.Max,
		Port:                packet.Frame.Port,
		Version:             packet.Frame.Version,
		Players:             packet.Frame.Players,
		LastUpdateMonotonic: now,
		LastUpdateWallclock: now,
	}

	r.mu.Lock()
	r.workers[state.ID] = state
	r.mu.Unlock()

	r.accepted.Add(1)
	if r.onAccepted != nil {
		r.onAccepted()
	}

	return wire.EncodeAck(signingKey, wire.StatusOK, packet.TimestampMillis)
}

// Metrics reports status-accept/reject counters, the network-observability
// surface Java's HyQueryNetworkObservability tracks as AtomicLong fields.
// Detailed fields are only meaningful under observability.metricsDetail
// "detailed"; the admin API decides whether to include them.
func (r *Registry) Metrics() map[string]int64 {
	return map[string]int64{
		"statusAccepted": r.accepted.Load(),
		"statusRejected": r.rejected.Load(),
		"trackedWorkers": int64(r.Len()),
	}
}

// GetAggregate implements aggregate.Provider for the UDP backend: iterate
// the registry, drop entries older than workerTimeout, sum online/max, and
// (if requested) collect players tagged with their source server id.
func (r *Registry) GetAggregate(includePlayers bool) (aggregate.Aggregate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var agg aggregate.Aggregate
	for _, w := range r.workers {
		if !w.isOnline(r.workerTimeout) {
			continue
		}
		agg.TotalOnline += w.Online
		agg.TotalMax += w.Max
		agg.RemoteServers = append(agg.RemoteServers, wire.RemoteServerSnapshot{
			ID:              w.ID,
			Name:            w.Name,
			MOTD:            w.MOTD,
			Online:          uint32(w.Online),
			Max:             uint32(w.Max),
			Status:          0,
			UpdatedAtMillis: w.LastUpdateWallclock.UnixMilli(),
			Players:         w.Players,
		})
		if includePlayers {
			for _, p := range w.Players {
				agg.NetworkPlayers = append(agg.NetworkPlayers, wire.PlayerRef{
					Username:       p.Username,
					UUID:           p.UUID,
					SourceServerID: w.ID,
				})
			}
		}
	}
	return agg, nil
}

// Len reports the number of tracked worker entries, exposed for the admin
// status API.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}
