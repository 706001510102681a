// Package obslog wires the process-wide zerolog logger for this module's
// own reference binaries. HyQuery is always embedded beside a game
// server's own transport (§1), and a real embedder has already installed
// its own global zerolog.Logger before wiring this module in — Component
// just tags whatever logger already exists with a "component" field, and
// Init is only meant for standalone use (the reference harness, tests)
// where nothing has configured logging yet. There is deliberately no file
// output or rotation here: a co-hosted process already owns where its
// logs go, and duplicating that machinery would fight the host rather
// than defer to it.
package obslog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config controls the standalone logger Init installs.
type Config struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"` // human-readable console output instead of structured JSON
}

// DefaultConfig is what the reference harness runs with: info level,
// console-formatted for an interactive terminal.
func DefaultConfig() Config {
	return Config{Level: "info", Pretty: true}
}

// Init installs a global zerolog.Logger writing to stderr. An invalid or
// empty level falls back to info rather than failing startup over a typo
// in an operator's config file.
func Init(cfg Config) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var w io.Writer = os.Stderr
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}

	log.Logger = zerolog.New(w).With().Timestamp().Str("app", "hyquery").Logger()
	log.Info().Str("level", level.String()).Msg("logger initialized")

	return nil
}

// Component returns a logger tagged with a component name field, used by
// each package to scope its log lines.
func Component(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
