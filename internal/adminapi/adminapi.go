// Package adminapi exposes a small read-only status surface over HTTP,
// grounded on the host application's own gin-based admin router but
// stripped to exactly what an operator needs to see into a HyQuery
// instance: registry contents, aggregate counts, host system info, and the
// redacted config. There are no mutating endpoints — nothing in this
// module's scope calls for one.
package adminapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/hyquery/hyquery/internal/aggregate"
	"github.com/hyquery/hyquery/internal/config"
	"github.com/hyquery/hyquery/internal/host"
	"github.com/hyquery/hyquery/internal/obslog"
	"github.com/hyquery/hyquery/internal/util"
)

var log = obslog.Component("adminapi")

// RegistryStats is whatever the active coordinator backend can report
// about itself; udpc.Registry (tracked workers) and store.Reader (servers
// in its cached aggregate) both implement Len directly.
type RegistryStats interface {
	Len() int
}

// MetricsProvider is the network-observability counter surface Java's
// HyQueryNetworkObservability exposes via metricsSummary(); both
// udpc.Registry and store.Reader implement it alongside RegistryStats.
type MetricsProvider interface {
	Metrics() map[string]int64
}

// Server is the admin HTTP surface. Every field is read-only after
// construction.
type Server struct {
	cfg      *config.Config
	host     host.Host
	agg      aggregate.View
	registry RegistryStats     // nil when no primary-side coordinator backend is active
	metrics  []MetricsProvider // every backend this node runs that reports counters

	engine *gin.Engine
	http   *http.Server
}

// New builds the admin API's gin router. registry may be nil. If registry
// (or the coordinator behind it) also implements MetricsProvider, and any
// extraMetrics passed in (e.g. a worker-side udpc.Publisher, which has no
// registry to hang off of), their counters are all merged and exposed
// under /status/metrics whenever observability.metricsEnabled is set.
func New(cfg *config.Config, h host.Host, agg aggregate.View, registry RegistryStats, extraMetrics ...MetricsProvider) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET"},
	}))

	var metrics []MetricsProvider
	if m, ok := registry.(MetricsProvider); ok {
		metrics = append(metrics, m)
	}
	metrics = append(metrics, extraMetrics...)

	s := &Server{cfg: cfg, host: h, agg: agg, registry: registry, metrics: metrics, engine: engine}
	s.routes()
	return s
}

func (s *Server) routes() {
	status := s.engine.Group("/status")
	status.GET("/registry", s.getRegistry)
	status.GET("/aggregate", s.getAggregate)
	status.GET("/host", s.getHost)
	status.GET("/config", s.getConfig)
	status.GET("/metrics", s.getMetrics)
}

func (s *Server) getRegistry(c *gin.Context) {
	size := 0
	if s.registry != nil {
		size = s.registry.Len()
	}
	c.JSON(http.StatusOK, gin.H{
		"trackedWorkers": size,
		"role":           s.cfg.Snapshot().Network.Role,
	})
}

func (s *Server) getAggregate(c *gin.Context) {
	includePlayers := c.Query("players") == "true"
	agg, err := s.agg.GetAggregate(includePlayers)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"totalOnline":   agg.TotalOnline,
		"totalMax":      agg.TotalMax,
		"remoteServers": agg.RemoteServers,
		"players":       agg.NetworkPlayers,
	})
}

func (s *Server) getHost(c *gin.Context) {
	snap := host.Take(s.host)
	sysInfo := util.GetSystemInfo()
	cpuPct, _ := util.GetCPUUsage()
	mem, _ := util.GetMemoryUsage()

	c.JSON(http.StatusOK, gin.H{
		"server": gin.H{
			"name":       snap.ServerName,
			"motd":       snap.MOTD,
			"maxPlayers": snap.MaxPlayers,
			"bindPort":   snap.BindPort,
			"online":     len(snap.Players),
			"version":    snap.Version,
		},
		"system":      sysInfo,
		"cpuPercent":  cpuPct,
		"memory":      mem,
	})
}

// getMetrics exposes the active coordinator's network-observability
// counters, gated by observability.metricsEnabled (off by default) —
// the Go analogue of Java's HyQueryNetworkObservabilityConfig, whose
// metricsDetail then decides how much of the counter set metricsSummary()
// includes. "basic" here trims to the status accept/reject, read
// attempt/failure and publisher sent/failed totals; "detailed" returns
// every counter the backend tracks.
func (s *Server) getMetrics(c *gin.Context) {
	obs := s.cfg.Snapshot().Observability
	if !obs.MetricsEnabled {
		c.JSON(http.StatusNotFound, gin.H{"error": "metrics disabled"})
		return
	}

	all := make(map[string]int64)
	for _, provider := range s.metrics {
		for k, v := range provider.Metrics() {
			all[k] = v
		}
	}

	if obs.MetricsDetail == "detailed" {
		c.JSON(http.StatusOK, all)
		return
	}

	basic := gin.H{}
	for _, k := range []string{"statusAccepted", "statusRejected", "readAttempts", "readFailures", "sent", "failed"} {
		if v, ok := all[k]; ok {
			basic[k] = v
		}
	}
	c.JSON(http.StatusOK, basic)
}

func (s *Server) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, redact(s.cfg.Snapshot()))
}

// redact strips secret material (challenge secret, worker keys, redis
// credentials, auth tokens) before a config snapshot leaves the process.
func redact(cfg config.Config) map[string]interface{} {
	workers := make([]map[string]interface{}, 0, len(cfg.Network.Workers))
	for _, w := range cfg.Network.Workers {
		workers = append(workers, map[string]interface{}{"id": w.ID, "key": "***"})
	}

	return map[string]interface{}{
		"enabled":            cfg.Enabled,
		"v1Enabled":          cfg.V1Enabled,
		"v2Enabled":          cfg.V2Enabled,
		"rateLimitEnabled":   cfg.RateLimitEnabled,
		"rateLimitPerSecond": cfg.RateLimitPerSecond,
		"rateLimitBurst":     cfg.RateLimitBurst,
		"cacheEnabled":       cfg.CacheEnabled,
		"cacheTtlSeconds":    cfg.CacheTTLSeconds,
		"network": map[string]interface{}{
			"enabled":     cfg.Network.Enabled,
			"role":        cfg.Network.Role,
			"coordinator": cfg.Network.Coordinator,
			"namespace":   cfg.Network.Namespace,
			"workers":     workers,
		},
		"observability": cfg.Observability,
	}
}

// Start begins serving on listen (e.g. "127.0.0.1:9280"). It blocks until
// the server stops or fails.
func (s *Server) Start(listen string) error {
	s.http = &http.Server{
		Addr:              listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info().Str("listen", listen).Msg("admin api listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the admin server down.
func (s *Server) Stop() error {
	if s.http == nil {
		return nil
	}
	return s.http.Close()
}
