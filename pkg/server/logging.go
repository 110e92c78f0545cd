package server

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/agentoven/agentoven/pairing-plane/internal/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogging configures the global zerolog logger. Console output is used
// unless JSON is requested.
func SetupLogging(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.JSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// Start builds the server from cfg and runs it until ctx is cancelled.
func Start(ctx context.Context, cfg *config.Config) error {
	log.Info().Str("version", cfg.Version).Str("store", cfg.Store.Driver).Msg("🤝 Pairing plane starting...")

	srv, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
