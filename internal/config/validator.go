package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []string
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) addError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

func (r *ValidationResult) addWarning(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

var validRoles = map[string]bool{"primary": true, "worker": true}
var validCoordinators = map[string]bool{"udp": true, "redis": true}
var validLogLevels = map[string]bool{"error": true, "warn": true, "info": true, "debug": true}
var validMetricsDetail = map[string]bool{"basic": true, "detailed": true}

// Validate performs an explicit defaulting pass: it normalizes enum fields
// to lowercase, falls back to the default value on an unrecognized enum
// (with a warning, never a hard error), and hard-fails only on values that
// cannot be sanely defaulted around.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}
	def := Default()

	normalizeEnum(&cfg.Network.Role, def.Network.Role, validRoles, "network.role", result)
	normalizeEnum(&cfg.Network.Coordinator, def.Network.Coordinator, validCoordinators, "network.coordinator", result)
	normalizeEnum(&cfg.Observability.LogLevel, def.Observability.LogLevel, validLogLevels, "observability.logLevel", result)
	normalizeEnum(&cfg.Observability.MetricsDetail, def.Observability.MetricsDetail, validMetricsDetail, "observability.metricsDetail", result)

	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = def.RateLimitPerSecond
		result.addWarning("rateLimitPerSecond must be positive, defaulting to %d", def.RateLimitPerSecond)
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = def.RateLimitBurst
		result.addWarning("rateLimitBurst must be positive, defaulting to %d", def.RateLimitBurst)
	}
	if cfg.CacheTTLSeconds < 0 {
		result.addError("cacheTtlSeconds", "must not be negative")
	}
	if cfg.ChallengeTokenValiditySeconds <= 0 {
		cfg.ChallengeTokenValiditySeconds = def.ChallengeTokenValiditySeconds
		result.addWarning("challengeTokenValiditySeconds must be positive, defaulting to %d", def.ChallengeTokenValiditySeconds)
	}

	if cfg.Network.Enabled {
		if cfg.Network.StaleAfterSeconds <= 0 {
			cfg.Network.StaleAfterSeconds = def.Network.StaleAfterSeconds
			result.addWarning("network.staleAfterSeconds must be positive, defaulting to %d", def.Network.StaleAfterSeconds)
		}

		switch cfg.Network.Coordinator {
		case "udp":
			if cfg.Network.Role == "primary" && len(cfg.Network.Workers) == 0 {
				result.addWarning("network.role is primary with a udp coordinator but no workers are authorized; every status packet will be rejected as UNKNOWN_ID")
			}
			if cfg.Network.Role == "worker" && cfg.Network.PrimaryHost == "" && len(cfg.Network.Primaries) == 0 {
				result.addError("network.primaryHost", "worker role requires primaryHost/primaryPort or a non-empty primaries list")
			}
			if cfg.Network.WorkerTimeoutSeconds <= 0 {
				cfg.Network.WorkerTimeoutSeconds = def.Network.WorkerTimeoutSeconds
				result.addWarning("network.workerTimeoutSeconds must be positive, defaulting to %d", def.Network.WorkerTimeoutSeconds)
			}
			if cfg.Network.UpdateIntervalSeconds <= 0 {
				cfg.Network.UpdateIntervalSeconds = def.Network.UpdateIntervalSeconds
				result.addWarning("network.updateIntervalSeconds must be positive, defaulting to %d", def.Network.UpdateIntervalSeconds)
			}
		case "redis":
			if !cfg.Network.Redis.RequireAvailable {
				result.addWarning("network.redis.requireAvailable=false is accepted but ignored: shared-store mode is always fail-closed")
			}
			cfg.Network.Redis.RequireAvailable = true
			if cfg.Network.Redis.ConnectTimeoutMillis <= 0 {
				cfg.Network.Redis.ConnectTimeoutMillis = def.Network.Redis.ConnectTimeoutMillis
			}
			if cfg.Network.Redis.ReadTimeoutMillis <= 0 {
				cfg.Network.Redis.ReadTimeoutMillis = def.Network.Redis.ReadTimeoutMillis
			}
			if cfg.Network.Redis.PublishIntervalSeconds <= 0 {
				cfg.Network.Redis.PublishIntervalSeconds = def.Network.Redis.PublishIntervalSeconds
			}
		}
	}

	if cfg.Observability.MQTT.Enabled && strings.TrimSpace(cfg.Observability.MQTT.BrokerURL) == "" {
		result.addError("observability.mqtt.brokerUrl", "required when mqtt is enabled")
	}

	return result
}

// normalizeEnum lowercases value, and if it is not one of allowed, replaces
// it with fallback and records a warning. An empty value is treated the
// same as an unrecognized one.
func normalizeEnum(value *string, fallback string, allowed map[string]bool, field string, result *ValidationResult) {
	lower := strings.ToLower(strings.TrimSpace(*value))
	if allowed[lower] {
		*value = lower
		return
	}
	result.addWarning("%s: unrecognized value %q, defaulting to %q", field, *value, fallback)
	*value = fallback
}
