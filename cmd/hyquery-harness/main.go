// Command hyquery-harness is a reference embedding of the HyQuery core: it
// wires up a UDP listener shared with a trivial in-process "next
// transport", exactly the way a real game server would embed this module
// beside its own protocol on the same port. This binary is deliberately
// never "just a query daemon" — §1 excludes standalone operation, so even
// this reference harness always constructs a (stub) next transport and
// yields foreign traffic to it rather than only ever handling HyQuery
// packets itself.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"math/big"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hyquery/hyquery/internal/adminapi"
	"github.com/hyquery/hyquery/internal/aggregate"
	"github.com/hyquery/hyquery/internal/cache"
	"github.com/hyquery/hyquery/internal/challenge"
	"github.com/hyquery/hyquery/internal/config"
	"github.com/hyquery/hyquery/internal/coordinator/store"
	"github.com/hyquery/hyquery/internal/coordinator/store/boltstore"
	"github.com/hyquery/hyquery/internal/coordinator/udpc"
	"github.com/hyquery/hyquery/internal/demux"
	"github.com/hyquery/hyquery/internal/handler"
	"github.com/hyquery/hyquery/internal/host"
	"github.com/hyquery/hyquery/internal/netutil"
	"github.com/hyquery/hyquery/internal/obslog"
	"github.com/hyquery/hyquery/internal/ratelimit"
	"github.com/hyquery/hyquery/internal/telemetry"
	"github.com/hyquery/hyquery/internal/wire"
)

var log = obslog.Component("harness")

// stubHost is a minimal in-memory host.Host used only because this
// harness has no real game runtime beside it. Any real embedder replaces
// this with an adapter over its own server state.
type stubHost struct {
	name    string
	motd    string
	max     int
	port    int
	version string
}

func (h *stubHost) ServerName() string    { return h.name }
func (h *stubHost) MOTD() string          { return h.motd }
func (h *stubHost) MaxPlayers() int       { return h.max }
func (h *stubHost) BindPort() int         { return h.port }
func (h *stubHost) Version() string       { return h.version }
func (h *stubHost) Plugins() []string     { return nil }
func (h *stubHost) Players() []host.Player {
	return []host.Player{
		{Username: "alice", UUID: wire.UUID{MSB: 1, LSB: 2}},
		{Username: "bob", UUID: wire.UUID{MSB: 3, LSB: 4}},
	}
}

type hostSnapshotSource struct{ h host.Host }

func (s hostSnapshotSource) Snapshot() host.Snapshot { return host.Take(s.h) }

// nextTransport stands in for the co-hosted game server's own packet
// handler. A real embedder passes datagrams that fail HyQuery
// classification into its own transport stack instead of logging them.
type nextTransport struct{}

func (nextTransport) Handle(data []byte, addr net.Addr) {
	log.Debug().Str("addr", addr.String()).Int("bytes", len(data)).Msg("forwarded to next transport")
}

func main() {
	dataDir := flag.String("data-dir", ".", "server data directory containing HyQuery/config.json")
	bindAddr := flag.String("bind", ":5520", "UDP address to bind")
	flag.Parse()

	if err := obslog.Init(obslog.DefaultConfig()); err != nil {
		fmt.Fprintln(os.Stderr, "failed to init logging:", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*dataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	h := &stubHost{name: "Hytale Server", motd: "welcome", max: 100, port: 5520, version: "1.0"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	run(ctx, cancel, cfg, h, *bindAddr)
}

func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, h host.Host, bindAddr string) {
	lc := netutil.ListenConfig()
	packetConn, err := lc.ListenPacket(ctx, "udp", bindAddr)
	if err != nil {
		log.Fatal().Err(err).Str("bind", bindAddr).Msg("failed to bind UDP listener")
	}
	conn := packetConn.(*net.UDPConn)
	defer conn.Close()

	chSvc, err := challenge.NewService(cfg.ChallengeSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build challenge service")
	}

	rl := ratelimit.New(ratelimit.Config{
		RatePerSecond:   cfg.RateLimitPerSecond,
		Burst:           cfg.RateLimitBurst,
		CleanupInterval: 60 * time.Second,
		IdleTimeout:     60 * time.Second,
	})
	defer rl.Stop()

	respCache := cache.New(time.Duration(cfg.CacheTTLSeconds) * time.Second)

	var provider aggregate.Provider
	var registryStats adminapi.RegistryStats
	var telemetryHandler *telemetry.Handler
	if cfg.Observability.MQTT.Enabled {
		if th, err := telemetry.NewHandler(cfg.Observability.MQTT); err == nil {
			telemetryHandler = th
			if err := telemetryHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("mqtt telemetry failed to start")
				telemetryHandler = nil
			}
		}
	}

	var udpRegistry *udpc.Registry
	if cfg.IsPrimary() && cfg.Network.Coordinator != "redis" {
		udpRegistry = udpc.NewRegistry(
			cfg.Network.Workers,
			time.Duration(cfg.Network.WorkerTimeoutSeconds)*time.Second,
			30*time.Second,
			respCache.Invalidate,
			func(workerID string, status byte) {
				if telemetryHandler != nil {
					telemetryHandler.OnWorkerRejected(workerID, status)
				}
			},
		)
		provider = udpRegistry
		registryStats = udpRegistry
	}

	var boltClient *boltstore.Store
	if cfg.UsesSharedStore() {
		boltClient, err = boltstore.Open(*flagStorePath())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open shared store")
		}
		defer boltClient.Close()
		if err := boltClient.ConnectAndValidate(ctx); err != nil {
			log.Fatal().Err(err).Msg("shared store health probe failed")
		}

		if cfg.IsPrimary() {
			namespaces := []string{cfg.Network.Namespace}
			if cfg.Network.IncludeGlobalNamespace {
				namespaces = append(namespaces, "global")
			}
			reader := store.NewReader(boltClient, namespaces, cfg.Network.StaleAfterSeconds)
			provider = reader
			registryStats = reader
		}
		if cfg.IsWorker() {
			workerID := cfg.Network.ID
			if workerID == "" {
				workerID = randomWorkerID()
				log.Warn().Str("workerId", workerID).Msg("no worker id configured, generated one")
			}
			pub := store.NewPublisher(boltClient, hostSnapshotSource{h}, workerID, cfg.Network.Namespace,
				time.Duration(cfg.Network.Redis.PublishIntervalSeconds)*time.Second, cfg.Network.StaleAfterSeconds)
			task := pub.Start(ctx)
			defer task.Stop()
		}
	}

	var udpPublisher *udpc.Publisher
	if cfg.IsWorker() && cfg.Network.Coordinator != "redis" {
		pub, err := udpc.NewPublisher(cfg.Network.ID, cfg.Network.Key, cfg.Network, hostSnapshotSource{h})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build udp publisher")
		}
		defer pub.Close()
		task := pub.Start(ctx, time.Duration(cfg.Network.UpdateIntervalSeconds)*time.Second)
		defer task.Stop()
		udpPublisher = pub
	}

	aggView := aggregate.View{Provider: provider}
	h2 := handler.New(cfg, h, chSvc, rl, respCache, aggView, conn, cfg.IsPrimary())
	next := nextTransport{}

	if cfg.Observability.AdminAPI.Enabled {
		var extraMetrics []adminapi.MetricsProvider
		if udpPublisher != nil {
			extraMetrics = append(extraMetrics, udpPublisher)
		}
		admin := adminapi.New(cfg, h, aggView, registryStats, extraMetrics...)
		go func() {
			if err := admin.Start(cfg.Observability.AdminAPI.Listen); err != nil {
				log.Error().Err(err).Msg("admin api stopped")
			}
		}()
		defer admin.Stop()
	}

	log.Info().Str("bind", bindAddr).Msg("hyquery listening")

	go dispatchLoop(ctx, conn, cfg, h2, udpRegistry, next)

	waitForShutdown(cancel)
}

func dispatchLoop(ctx context.Context, conn *net.UDPConn, cfg *config.Config, h *handler.Handler, registry *udpc.Registry, next nextTransport) {
	buf := make([]byte, 65535)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("read error")
			continue
		}
		data := append([]byte(nil), buf[:n]...)

		action := demux.Dispatch(data, addr, demux.Handlers{
			V1Enabled: cfg.V1Enabled,
			V2Enabled: cfg.V2Enabled,
			IsPrimary: registry != nil,
			OnV1Query: h.HandleV1,
			OnV2Query: h.HandleV2,
			OnWorkerStatus: func(data []byte, addr net.Addr) {
				ack := registry.ProcessStatusPacket(data, time.Now())
				if udpAddr, ok := addr.(*net.UDPAddr); ok {
					_, _ = conn.WriteToUDP(ack, udpAddr)
				}
			},
		})

		if action == demux.ActionForward {
			next.Handle(data, addr)
		}
	}
}

func waitForShutdown(cancel context.CancelFunc) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")
	cancel()
}

func randomWorkerID() string {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	out := make([]byte, 8)
	for i := range out {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		out[i] = alphabet[n.Int64()]
	}
	return string(out)
}

func flagStorePath() *string {
	p := "hyquery-store.db"
	return &p
}
