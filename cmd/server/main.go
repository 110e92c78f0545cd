// Pairing Plane: registers bots, pairs them by strategy and pushes pair
// events to connected bots and monitors over websockets.
//
// This is the main entry point for the pairing plane server. It provides:
//   - Bot Registry (memory or PostgreSQL)
//   - Pairing Engine (random, capability_based, type_based)
//   - Live Channels (bot and monitor websockets)
//   - Heartbeat Reaper and Pair Retention
//   - Event fan-out (NATS, webhooks)

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/agentoven/agentoven/pairing-plane/internal/config"
	"github.com/agentoven/agentoven/pairing-plane/pkg/server"

	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		server.SetupLogging(config.Default().Log)
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	server.SetupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
