// Package store implements the shared-store coordinator backend from
// §4.8: workers publish JSON snapshots into a keyed index on an external
// store, primaries read and aggregate them. The store itself is behind a
// narrow Client interface (§9's "shared-store client → narrow interface")
// so this package never depends on a specific driver.
package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Client is the full set of operations the coordinator needs from a
// shared key-value store with a sorted-index primitive. Implementations
// (e.g. a Redis client, or the bbolt-backed reference implementation in
// ./boltstore) must give each method exactly the semantics documented
// here; the coordinator logic never depends on anything beyond this
// interface.
type Client interface {
	// ConnectAndValidate must succeed only if the store responds to a
	// health probe.
	ConnectAndValidate(ctx context.Context) error

	// PublishSnapshot atomically sets the keyed snapshot with a TTL and
	// upserts serverID into the sorted index at indexKey with score
	// updatedAtMillis.
	PublishSnapshot(ctx context.Context, serverKey, indexKey string, ttlSeconds int, updatedAtMillis int64, serverID string, payload []byte) error

	// EvictStaleServers removes index entries scored at or below
	// cutoffMillis and reports how many were removed.
	EvictStaleServers(ctx context.Context, indexKey string, cutoffMillis int64) (int, error)

	// GetActiveServerIDs returns index entries scored at or above
	// cutoffMillis.
	GetActiveServerIDs(ctx context.Context, indexKey string, cutoffMillis int64) ([]string, error)

	// GetSnapshots is a batched multi-get; the result holds one entry per
	// key in order, nil for a missing key, rather than an error.
	GetSnapshots(ctx context.Context, serverKeys []string) ([][]byte, error)

	Close() error
}

// ServerKey builds the namespaced server-snapshot key from §4.8.
func ServerKey(namespace, id string) string {
	return fmt.Sprintf("hyquery:{%s}:server:%s", namespace, id)
}

// IndexKey builds the namespaced sorted-index key from §4.8.
func IndexKey(namespace string) string {
	return fmt.Sprintf("hyquery:{%s}:index", namespace)
}

// SnapshotDoc is the self-contained JSON document a worker publishes and a
// primary parses back, per §3's "Remote snapshot (store-backed)".
type SnapshotDoc struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	MOTD            string       `json:"motd"`
	Online          int32        `json:"online"`
	Max             int32        `json:"max"`
	Port            int32        `json:"port"`
	Version         string       `json:"version"`
	Players         []PlayerDoc  `json:"players"`
	UpdatedAtMillis int64        `json:"updatedAtMillis"`
}

// PlayerDoc is one player entry inside a SnapshotDoc.
type PlayerDoc struct {
	Username string `json:"username"`
	UUIDMSB  uint64 `json:"uuidMsb"`
	UUIDLSB  uint64 `json:"uuidLsb"`
}

// Marshal serializes doc.
func (d SnapshotDoc) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

// UnmarshalSnapshot parses one snapshot document. A parse failure is
// treated by the reader as "no such snapshot" rather than a hard error,
// since a single corrupt document must not abort the whole aggregate read.
func UnmarshalSnapshot(data []byte) (SnapshotDoc, error) {
	var doc SnapshotDoc
	err := json.Unmarshal(data, &doc)
	return doc, err
}
