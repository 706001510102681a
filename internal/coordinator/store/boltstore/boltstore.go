// Package boltstore is a bbolt-backed reference implementation of
// store.Client, used for local testing and single-host deployments where
// pulling in a full Redis client is unwarranted. No real Redis driver
// appears anywhere in the surrounding example pack; bbolt gives the same
// keyed-snapshot-plus-sorted-index shape entirely embedded.
package boltstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hyquery/hyquery/internal/coordinator/store"
)

var (
	bucketSnapshots = []byte("snapshots")
	bucketScores    = []byte("scores")   // indexKey|member -> 8-byte BE score
	bucketByScore   = []byte("byscore")  // indexKey|8-byte BE score|member -> member
)

// Store wraps a *bolt.DB implementing store.Client.
type Store struct {
	db *bolt.DB
}

// Open creates or opens a bbolt database file at path and prepares its
// buckets.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketSnapshots, bucketScores, bucketByScore} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: prepare buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// ConnectAndValidate probes the database with a read-only transaction.
func (s *Store) ConnectAndValidate(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketSnapshots) == nil {
			return fmt.Errorf("boltstore: snapshots bucket missing")
		}
		return nil
	})
}

func scoreKey(member string) []byte {
	return []byte(member)
}

func byScoreKey(score int64, member string) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(score))
	return append(buf[:], []byte(member)...)
}

// PublishSnapshot stores the payload under serverKey and upserts serverID
// into indexKey's sorted set at score updatedAtMillis. bbolt has no native
// TTL, so ttlSeconds is accepted for interface compatibility but expiry is
// instead driven entirely by EvictStaleServers against the score, which is
// how the primary already prunes staleness — a second, timer-based expiry
// would be redundant.
func (s *Store) PublishSnapshot(ctx context.Context, serverKey, indexKey string, ttlSeconds int, updatedAtMillis int64, serverID string, payload []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		snapshots := tx.Bucket(bucketSnapshots)
		if err := snapshots.Put([]byte(serverKey), payload); err != nil {
			return err
		}

		scores := tx.Bucket(bucketScores)
		byScore := tx.Bucket(bucketByScore)

		scoreEntryKey := append([]byte(indexKey+"|"), scoreKey(serverID)...)
		if old := scores.Get(scoreEntryKey); old != nil {
			oldScore := int64(binary.BigEndian.Uint64(old))
			if err := byScore.Delete(append([]byte(indexKey+"|"), byScoreKey(oldScore, serverID)...)); err != nil {
				return err
			}
		}

		var scoreBuf [8]byte
		binary.BigEndian.PutUint64(scoreBuf[:], uint64(updatedAtMillis))
		if err := scores.Put(scoreEntryKey, scoreBuf[:]); err != nil {
			return err
		}
		return byScore.Put(append([]byte(indexKey+"|"), byScoreKey(updatedAtMillis, serverID)...), []byte(serverID))
	})
}

// EvictStaleServers removes index entries scored at or below cutoffMillis.
func (s *Store) EvictStaleServers(ctx context.Context, indexKey string, cutoffMillis int64) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		scores := tx.Bucket(bucketScores)
		byScore := tx.Bucket(bucketByScore)

		prefix := []byte(indexKey + "|")
		c := byScore.Cursor()
		var toDelete [][]byte
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			scoreBytes := k[len(prefix) : len(prefix)+8]
			score := int64(binary.BigEndian.Uint64(scoreBytes))
			if score <= cutoffMillis {
				toDelete = append(toDelete, append([]byte(nil), k...))
				_ = v
			}
		}
		for _, k := range toDelete {
			member := string(k[len(prefix)+8:])
			if err := byScore.Delete(k); err != nil {
				return err
			}
			if err := scores.Delete(append([]byte(indexKey+"|"), scoreKey(member)...)); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// GetActiveServerIDs returns index members scored at or above cutoffMillis.
func (s *Store) GetActiveServerIDs(ctx context.Context, indexKey string, cutoffMillis int64) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		byScore := tx.Bucket(bucketByScore)
		prefix := []byte(indexKey + "|")
		c := byScore.Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			scoreBytes := k[len(prefix) : len(prefix)+8]
			score := int64(binary.BigEndian.Uint64(scoreBytes))
			if score >= cutoffMillis {
				ids = append(ids, string(v))
			}
		}
		return nil
	})
	return ids, err
}

// GetSnapshots is a batched multi-get; missing keys yield a nil entry
// rather than an error.
func (s *Store) GetSnapshots(ctx context.Context, serverKeys []string) ([][]byte, error) {
	out := make([][]byte, len(serverKeys))
	err := s.db.View(func(tx *bolt.Tx) error {
		snapshots := tx.Bucket(bucketSnapshots)
		for i, key := range serverKeys {
			if v := snapshots.Get([]byte(key)); v != nil {
				out[i] = append([]byte(nil), v...)
			}
		}
		return nil
	})
	return out, err
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

var _ store.Client = (*Store)(nil)
