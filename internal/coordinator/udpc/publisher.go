package udpc

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/hyquery/hyquery/internal/config"
	"github.com/hyquery/hyquery/internal/host"
	"github.com/hyquery/hyquery/internal/obslog"
	"github.com/hyquery/hyquery/internal/scheduler"
	"github.com/hyquery/hyquery/internal/wire"
)

var log = obslog.Component("udpc")

// StatusSource supplies the local state a worker publishes on each tick.
type StatusSource interface {
	Snapshot() host.Snapshot
}

// targetStat is one target's lifetime send counters, kept independently
// per §6's "hub clustering" multi-primary tracking requirement.
type targetStat struct {
	sent   atomic.Int64
	failed atomic.Int64
}

// Publisher is the worker-side status pusher from §4.7: it resolves its
// configured targets once, opens a single UDP socket, and on each tick
// writes one status frame to every target, tolerating per-target failures
// independently.
type Publisher struct {
	workerID string
	key      []byte
	targets  []*net.UDPAddr
	conn     *net.UDPConn
	source   StatusSource

	// perTarget is built once at construction, keyed by target.String();
	// only the counters inside mutate afterward, so no map lock is needed.
	perTarget map[string]*targetStat

	logUpdates bool
}

// NewPublisher resolves net_'s targets (preferring the Primaries list
// over the legacy single host:port when non-empty, per §6) and opens the
// worker's outbound socket.
func NewPublisher(workerID, key string, net_ config.NetworkConfig, source StatusSource) (*Publisher, error) {
	targets, err := resolveTargets(net_)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("udpc: worker configured with no primary targets")
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("udpc: failed to open worker socket: %w", err)
	}

	perTarget := make(map[string]*targetStat, len(targets))
	for _, t := range targets {
		perTarget[t.String()] = &targetStat{}
	}

	return &Publisher{
		workerID:   workerID,
		key:        []byte(key),
		targets:    targets,
		conn:       conn,
		source:     source,
		perTarget:  perTarget,
		logUpdates: net_.LogStatusUpdates,
	}, nil
}

func resolveTargets(cfg config.NetworkConfig) ([]*net.UDPAddr, error) {
	if len(cfg.Primaries) > 0 {
		var out []*net.UDPAddr
		for _, p := range cfg.Primaries {
			addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", p.Host, p.Port))
			if err != nil {
				return nil, fmt.Errorf("udpc: resolving primary %s:%d: %w", p.Host, p.Port, err)
			}
			out = append(out, addr)
		}
		return out, nil
	}
	if cfg.PrimaryHost != "" {
		addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.PrimaryHost, cfg.PrimaryPort))
		if err != nil {
			return nil, fmt.Errorf("udpc: resolving primary %s:%d: %w", cfg.PrimaryHost, cfg.PrimaryPort, err)
		}
		return []*net.UDPAddr{addr}, nil
	}
	return nil, nil
}

// Start schedules sendStatusUpdate every interval on a dedicated ticker
// goroutine, per §4.7. The returned Task's Stop method halts publishing.
func (p *Publisher) Start(ctx context.Context, interval time.Duration) *scheduler.Task {
	return scheduler.Every(ctx, interval, func(_ context.Context) {
		p.sendStatusUpdate()
	})
}

func (p *Publisher) sendStatusUpdate() {
	snap := p.source.Snapshot()

	frame := wire.StatusFrame{
		WorkerID: p.workerID,
		Name:     snap.ServerName,
		MOTD:     snap.MOTD,
		Online:   int32(len(snap.Players)),
		Max:      int32(snap.MaxPlayers),
		Port:     int32(snap.BindPort),
		Version:  snap.Version,
	}
	for _, pl := range snap.Players {
		frame.Players = append(frame.Players, wire.PlayerRef{Username: pl.Username, UUID: pl.UUID})
	}

	packet := wire.EncodeStatusPacket(p.key, time.Now().UnixMilli(), frame)

	var ok, fail int
	for _, target := range p.targets {
		stat := p.perTarget[target.String()]
		if _, err := p.conn.WriteToUDP(packet, target); err != nil {
			fail++
			stat.failed.Add(1)
			log.Warn().Err(err).Str("target", target.String()).Msg("status push failed")
			continue
		}
		ok++
		stat.sent.Add(1)
	}

	if p.logUpdates {
		log.Debug().Int("succeeded", ok).Int("failed", fail).Msg("status update sent")
	}
}

// Close releases the publisher's socket.
func (p *Publisher) Close() error {
	return p.conn.Close()
}

// Metrics reports lifetime send counters, both the totals across all
// targets ("sent", "failed") and one entry per configured primary
// ("sent:<addr>", "failed:<addr>") so an operator can tell exactly which
// hub in a multi-primary fan-out is failing, satisfying §6's per-target
// tracking requirement. Exposed to the admin status API's /status/metrics.
func (p *Publisher) Metrics() map[string]int64 {
	out := make(map[string]int64, 2+2*len(p.perTarget))
	var totalSent, totalFailed int64
	for addr, stat := range p.perTarget {
		sent := stat.sent.Load()
		failed := stat.failed.Load()
		out["sent:"+addr] = sent
		out["failed:"+addr] = failed
		totalSent += sent
		totalFailed += failed
	}
	out["sent"] = totalSent
	out["failed"] = totalFailed
	return out
}
