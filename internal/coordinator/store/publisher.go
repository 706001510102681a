package store

import (
	"context"
	"time"

	"github.com/hyquery/hyquery/internal/host"
	"github.com/hyquery/hyquery/internal/obslog"
	"github.com/hyquery/hyquery/internal/scheduler"
)

var log = obslog.Component("store")

// StatusSource supplies the local state a worker publishes on each tick.
type StatusSource interface {
	Snapshot() host.Snapshot
}

const maxBackoff = 60 * time.Second

// Publisher is the worker-side snapshot pusher from §4.8: it serializes
// local state to JSON on a fixed interval and calls PublishSnapshot,
// backing off exponentially on failure without ever stopping.
type Publisher struct {
	client Client
	source StatusSource

	workerID  string
	namespace string
	interval  time.Duration
	staleAfter int

	backoff     time.Duration
	nextAttempt time.Time
}

// NewPublisher builds a Publisher for a worker with the given id,
// namespace, publish interval, and staleness window (used to size the
// stored TTL, not to filter locally).
func NewPublisher(client Client, source StatusSource, workerID, namespace string, interval time.Duration, staleAfterSeconds int) *Publisher {
	return &Publisher{
		client:     client,
		source:     source,
		workerID:   workerID,
		namespace:  namespace,
		interval:   interval,
		staleAfter: staleAfterSeconds,
	}
}

// Start schedules publishTick on its own ticker goroutine.
func (p *Publisher) Start(ctx context.Context) *scheduler.Task {
	return scheduler.Every(ctx, p.interval, func(tickCtx context.Context) {
		p.publishTick(tickCtx)
	})
}

func (p *Publisher) publishTick(ctx context.Context) {
	now := time.Now()
	if now.Before(p.nextAttempt) {
		return
	}

	snap := p.source.Snapshot()
	doc := SnapshotDoc{
		ID:              p.workerID,
		Name:            snap.ServerName,
		MOTD:            snap.MOTD,
		Online:          int32(len(snap.Players)),
		Max:             int32(snap.MaxPlayers),
		Port:            int32(snap.BindPort),
		Version:         snap.Version,
		UpdatedAtMillis: now.UnixMilli(),
	}
	for _, pl := range snap.Players {
		doc.Players = append(doc.Players, PlayerDoc{Username: pl.Username, UUIDMSB: pl.UUID.MSB, UUIDLSB: pl.UUID.LSB})
	}

	payload, err := doc.Marshal()
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal snapshot")
		return
	}

	ttl := ttlSeconds(p.staleAfter, int(p.interval.Seconds()))
	serverKey := ServerKey(p.namespace, p.workerID)
	indexKey := IndexKey(p.namespace)

	err = p.client.PublishSnapshot(ctx, serverKey, indexKey, ttl, doc.UpdatedAtMillis, p.workerID, payload)
	if err != nil {
		p.onFailure(err)
		return
	}
	p.onSuccess()
}

func ttlSeconds(staleAfterSeconds, publishIntervalSeconds int) int {
	ttl := staleAfterSeconds * 2
	if alt := publishIntervalSeconds * 3; alt > ttl {
		ttl = alt
	}
	if ttl < 1 {
		ttl = 1
	}
	return ttl
}

func (p *Publisher) onFailure(err error) {
	if p.backoff == 0 {
		p.backoff = p.interval
	} else {
		p.backoff *= 2
		if p.backoff > maxBackoff {
			p.backoff = maxBackoff
		}
	}
	p.nextAttempt = time.Now().Add(p.backoff)
	log.Warn().Err(err).Dur("backoff", p.backoff).Msg("snapshot publish failed")
}

func (p *Publisher) onSuccess() {
	if p.backoff != 0 {
		log.Info().Msg("snapshot publish recovered")
	}
	p.backoff = 0
	p.nextAttempt = time.Time{}
}
