// Package config handles configuration loading, validation, and persistence
// for HyQuery.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	// DataFolderName is the current on-disk config folder name.
	DataFolderName = "HyQuery"
	// LegacyDataFolderName is renamed to DataFolderName on load if present
	// and DataFolderName does not yet exist.
	LegacyDataFolderName = "Hyvote_HyQuery"
	// FileName is the config file within the data folder.
	FileName = "config.json"

	DefaultRateLimitPerSecond = 10
	DefaultRateLimitBurst     = 20
	DefaultCacheTTLSeconds    = 5
	DefaultChallengeValidity  = 30
	DefaultWorkerTimeout      = 45
	DefaultUpdateInterval     = 10
	DefaultStaleAfterSeconds  = 30
	DefaultPublishInterval    = 10
	DefaultConnectTimeoutMS   = 1000
	DefaultReadTimeoutMS      = 1000
)

// Config is the root HyQuery configuration structure.
//
// The mutex exists even though the running process treats a loaded Config
// as immutable (per §3 of the design): an admin surface that later wants to
// hot-read fields safely can take the read lock without caring whether a
// concurrent reload is rewriting them.
type Config struct {
	mu   sync.RWMutex
	path string

	Enabled bool `json:"enabled"`

	ShowPlayerList bool   `json:"showPlayerList"`
	ShowPlugins    bool   `json:"showPlugins"`
	UseCustomMotd  bool   `json:"useCustomMotd"`
	CustomMotd     string `json:"customMotd"`

	RateLimitEnabled   bool `json:"rateLimitEnabled"`
	RateLimitPerSecond int  `json:"rateLimitPerSecond"`
	RateLimitBurst     int  `json:"rateLimitBurst"`

	CacheEnabled    bool `json:"cacheEnabled"`
	CacheTTLSeconds int  `json:"cacheTtlSeconds"`

	V1Enabled bool `json:"v1Enabled"`
	V2Enabled bool `json:"v2Enabled"`

	ChallengeTokenValiditySeconds int    `json:"challengeTokenValiditySeconds"`
	ChallengeSecret               string `json:"challengeSecret"`

	Authentication AuthenticationConfig `json:"authentication"`
	Network        NetworkConfig        `json:"network"`
	Observability  ObservabilityConfig  `json:"observability"`
}

// AuthenticationConfig gates the V2 BASIC and PLAYERS endpoints.
type AuthenticationConfig struct {
	PublicAccess EndpointPermissions            `json:"publicAccess"`
	Tokens       map[string]EndpointPermissions `json:"tokens"`
}

// EndpointPermissions describes which V2 endpoints a caller may reach.
type EndpointPermissions struct {
	Basic   bool `json:"basic"`
	Players bool `json:"players"`
}

// NetworkConfig configures the coordinator (§4.7/§4.8).
type NetworkConfig struct {
	Enabled                bool   `json:"enabled"`
	Role                   string `json:"role"`        // "primary" | "worker"
	Coordinator            string `json:"coordinator"` // "udp" | "redis"
	Namespace              string `json:"namespace"`
	IncludeGlobalNamespace bool   `json:"includeGlobalNamespace"`
	StaleAfterSeconds      int    `json:"staleAfterSeconds"`
	LogStatusUpdates       bool   `json:"logStatusUpdates"`

	// UDP primary
	WorkerTimeoutSeconds int          `json:"workerTimeoutSeconds"`
	Workers              []WorkerAuth `json:"workers"`

	// UDP worker
	ID                    string          `json:"id"`
	Key                   string          `json:"key"`
	PrimaryHost           string          `json:"primaryHost"`
	PrimaryPort           int             `json:"primaryPort"`
	Primaries             []PrimaryTarget `json:"primaries"`
	UpdateIntervalSeconds int             `json:"updateIntervalSeconds"`

	// Shared store
	Redis RedisConfig `json:"redis"`
}

// WorkerAuth is a primary-side authorization entry. ID may end in "*" to
// match by prefix.
type WorkerAuth struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// PrimaryTarget is one hub in a worker's fan-out list.
type PrimaryTarget struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// RedisConfig describes the shared store connection. The field is named
// "redis" per the wire format even though the coordinator only ever speaks
// to it through the narrow store.Client interface (§4.8) — no Redis driver
// type appears anywhere outside this struct's tag.
type RedisConfig struct {
	Host                   string `json:"host"`
	Port                   int    `json:"port"`
	Username               string `json:"username"`
	Password               string `json:"password"`
	Database               int    `json:"database"`
	TLS                    bool   `json:"tls"`
	ConnectTimeoutMillis   int    `json:"connectTimeoutMillis"`
	ReadTimeoutMillis      int    `json:"readTimeoutMillis"`
	PublishIntervalSeconds int    `json:"publishIntervalSeconds"`
	RequireAvailable       bool   `json:"requireAvailable"`
}

// ObservabilityConfig controls logging verbosity, metrics, and the optional
// MQTT telemetry mirror.
type ObservabilityConfig struct {
	LogLevel      string      `json:"logLevel"`
	MetricsEnabled bool       `json:"metricsEnabled"`
	MetricsDetail string      `json:"metricsDetail"` // "basic" | "detailed"
	AdminAPI      AdminAPICfg `json:"adminApi"`
	MQTT          MQTTConfig  `json:"mqtt"`
}

// AdminAPICfg configures the optional read-only status HTTP surface.
type AdminAPICfg struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
}

// MQTTConfig configures the optional telemetry mirror.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"brokerUrl"`
	ClientID  string `json:"clientId"`
	Topic     string `json:"topic"`
}

// Default returns a fully-populated configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Enabled: true,

		ShowPlayerList: true,
		ShowPlugins:    false,
		UseCustomMotd:  false,
		CustomMotd:     "",

		RateLimitEnabled:   true,
		RateLimitPerSecond: DefaultRateLimitPerSecond,
		RateLimitBurst:     DefaultRateLimitBurst,

		CacheEnabled:    true,
		CacheTTLSeconds: DefaultCacheTTLSeconds,

		V1Enabled: true,
		V2Enabled: true,

		ChallengeTokenValiditySeconds: DefaultChallengeValidity,
		ChallengeSecret:               "",

		Authentication: AuthenticationConfig{
			PublicAccess: EndpointPermissions{Basic: true, Players: true},
			Tokens:       map[string]EndpointPermissions{},
		},

		Network: NetworkConfig{
			Enabled:               false,
			Role:                  "worker",
			Coordinator:           "udp",
			Namespace:             "default",
			IncludeGlobalNamespace: false,
			StaleAfterSeconds:     DefaultStaleAfterSeconds,
			LogStatusUpdates:      false,
			WorkerTimeoutSeconds:  DefaultWorkerTimeout,
			Workers:               []WorkerAuth{},
			UpdateIntervalSeconds: DefaultUpdateInterval,
			Primaries:             []PrimaryTarget{},
			Redis: RedisConfig{
				Port:                   6379,
				ConnectTimeoutMillis:   DefaultConnectTimeoutMS,
				ReadTimeoutMillis:      DefaultReadTimeoutMS,
				PublishIntervalSeconds: DefaultPublishInterval,
				RequireAvailable:       true,
			},
		},

		Observability: ObservabilityConfig{
			LogLevel:      "info",
			MetricsEnabled: false,
			MetricsDetail: "basic",
			AdminAPI: AdminAPICfg{
				Enabled: false,
				Listen:  ":8089",
			},
			MQTT: MQTTConfig{
				Enabled: false,
				Topic:   "hyquery/events",
			},
		},
	}
}

// Load reads configuration from <serverDataDir>/HyQuery/config.json,
// renaming the legacy Hyvote_HyQuery folder in place if the new one is
// absent. Missing fields are filled from Default() and the file is
// rewritten so config.json always reflects the complete option set.
func Load(serverDataDir string) (*Config, error) {
	newDir := filepath.Join(serverDataDir, DataFolderName)
	legacyDir := filepath.Join(serverDataDir, LegacyDataFolderName)

	if _, err := os.Stat(newDir); os.IsNotExist(err) {
		if info, legacyErr := os.Stat(legacyDir); legacyErr == nil && info.IsDir() {
			log.Info().Str("from", legacyDir).Str("to", newDir).Msg("renaming legacy config folder")
			if err := os.Rename(legacyDir, newDir); err != nil {
				return nil, fmt.Errorf("failed to rename legacy config folder: %w", err)
			}
		}
	}

	configPath := filepath.Join(newDir, FileName)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := Default()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := Default() // seed with defaults, then overlay whatever the file specifies
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	cfg.path = configPath

	result := Validate(cfg)
	for _, w := range result.Warnings {
		log.Warn().Str("path", configPath).Msg(w)
	}
	if !result.IsValid() {
		return nil, fmt.Errorf("invalid configuration %s: %v", configPath, result.Errors)
	}

	log.Info().Str("path", configPath).Msg("configuration loaded")

	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with normalized defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk as pretty-printed JSON.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// Path returns the config file path this instance was loaded from or will
// save to.
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// Snapshot returns a copy safe to read without holding the lock. It is
// built field by field rather than as `cp := *c`: that dereference would
// copy the embedded sync.RWMutex along with everything else, a go vet
// copylocks violation, since callers like adminapi read Snapshot() from
// goroutines that never hold c.mu.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Config{
		path: c.path,

		Enabled: c.Enabled,

		ShowPlayerList: c.ShowPlayerList,
		ShowPlugins:    c.ShowPlugins,
		UseCustomMotd:  c.UseCustomMotd,
		CustomMotd:     c.CustomMotd,

		RateLimitEnabled:   c.RateLimitEnabled,
		RateLimitPerSecond: c.RateLimitPerSecond,
		RateLimitBurst:     c.RateLimitBurst,

		CacheEnabled:    c.CacheEnabled,
		CacheTTLSeconds: c.CacheTTLSeconds,

		V1Enabled: c.V1Enabled,
		V2Enabled: c.V2Enabled,

		ChallengeTokenValiditySeconds: c.ChallengeTokenValiditySeconds,
		ChallengeSecret:               c.ChallengeSecret,

		Authentication: c.Authentication,
		Network:        c.Network,
		Observability:  c.Observability,
	}
}

// IsPrimary reports whether this node is configured as a network primary.
func (c *Config) IsPrimary() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Network.Enabled && c.Network.Role == "primary"
}

// IsWorker reports whether this node is configured as a network worker.
func (c *Config) IsWorker() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Network.Enabled && c.Network.Role == "worker"
}

// UsesSharedStore reports whether the redis (shared-store) coordinator
// backend is selected.
func (c *Config) UsesSharedStore() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Network.Coordinator == "redis"
}
