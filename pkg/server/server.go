// Package server assembles the pairing plane from its configuration and
// runs it until the context is cancelled.
//
// Usage:
//
//	cfg, _ := config.Load()
//	srv, err := server.New(ctx, cfg)
//	err = srv.Run(ctx)
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/agentoven/agentoven/pairing-plane/internal/api"
	"github.com/agentoven/agentoven/pairing-plane/internal/api/handlers"
	"github.com/agentoven/agentoven/pairing-plane/internal/bots"
	"github.com/agentoven/agentoven/pairing-plane/internal/config"
	"github.com/agentoven/agentoven/pairing-plane/internal/dispatch"
	"github.com/agentoven/agentoven/pairing-plane/internal/eventbus"
	"github.com/agentoven/agentoven/pairing-plane/internal/hub"
	"github.com/agentoven/agentoven/pairing-plane/internal/matching"
	"github.com/agentoven/agentoven/pairing-plane/internal/pairing"
	"github.com/agentoven/agentoven/pairing-plane/internal/retention"
	"github.com/agentoven/agentoven/pairing-plane/internal/store"
	"github.com/agentoven/agentoven/pairing-plane/internal/telemetry"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

// Server holds the initialized pairing plane.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	Store    store.Store
	Hub      *hub.Hub
	Pairs    *pairing.Manager
	Bots     *bots.Service
	Dispatch *dispatch.Dispatcher
	Config   *config.Config

	bus     *eventbus.Bus
	reaper  *bots.Reaper
	janitor *retention.Janitor

	// shutdownTelemetry flushes pending spans.
	shutdownTelemetry func(context.Context) error
}

// New initializes every component. Nothing runs until Run is called.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		shutdown(ctx)
		return nil, err
	}

	bus, err := newEventBus(cfg.Events)
	if err != nil {
		dataStore.Close()
		shutdown(ctx)
		return nil, err
	}

	h := hub.New()
	botSvc := bots.NewService(dataStore)
	pairs := pairing.NewManager(dataStore, matching.NewEngine())
	disp := dispatch.New(h, bus, botSvc)

	var archiver retention.Archiver
	if cfg.Retention.ArchiveDir != "" {
		archiver = retention.NewLocalFileArchiver(cfg.Retention.ArchiveDir, cfg.Retention.ArchiveCompress)
	}

	hd := handlers.New(dataStore, botSvc, pairs, h, disp, handlers.WSOptions{
		ReadLimit:      cfg.WebSocket.ReadLimit,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	log.Info().Strs("strategies", pairs.Strategies()).Msg("✅ Pairing manager initialized")

	return &Server{
		Handler:           api.NewRouter(cfg, hd),
		Store:             dataStore,
		Hub:               h,
		Pairs:             pairs,
		Bots:              botSvc,
		Dispatch:          disp,
		Config:            cfg,
		bus:               bus,
		reaper:            bots.NewReaper(dataStore, disp, cfg.Heartbeat.ReaperInterval, cfg.Heartbeat.StaleAfter),
		janitor:           retention.NewJanitor(dataStore, cfg.Retention.PairTTL, cfg.Retention.Interval, archiver),
		shutdownTelemetry: shutdown,
	}, nil
}

// OpenStore opens the configured registry backend.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.MaxConnections)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migrate postgres store: %w", err)
		}
		log.Info().Msg("✅ PostgreSQL store initialized")
		return pg, nil
	default:
		mem, err := store.NewMemoryStore(store.MemoryOptions{DataDir: cfg.DataDir})
		if err != nil {
			return nil, fmt.Errorf("open memory store: %w", err)
		}
		log.Info().Msg("✅ In-memory store initialized")
		return mem, nil
	}
}

func newEventBus(cfg config.EventsConfig) (*eventbus.Bus, error) {
	var sinks []eventbus.Sink
	if cfg.NATSURL != "" {
		ns, err := eventbus.NewNATSSink(cfg.NATSURL, cfg.SubjectPrefix, "pairing-plane")
		if err != nil {
			return nil, err
		}
		log.Info().Str("url", cfg.NATSURL).Str("prefix", cfg.SubjectPrefix).Msg("✅ NATS event sink connected")
		sinks = append(sinks, ns)
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, eventbus.NewWebhookSink(cfg.WebhookURL, cfg.WebhookSecret, 0))
		log.Info().Str("url", cfg.WebhookURL).Msg("✅ Webhook event sink configured")
	}
	return eventbus.New(cfg.QueueSize, sinks...), nil
}

// Run serves HTTP and runs the background loops until ctx is cancelled or
// one of them fails, then shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.Config.Port),
		Handler:      s.Handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Int("port", s.Config.Port).Msg("🔥 Pairing plane is ready")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return s.reaper.Run(gctx) })
	g.Go(func() error { return s.janitor.Run(gctx) })
	g.Go(func() error { return s.bus.Run(gctx) })

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("🛑 Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		// Hijacked websocket connections are not closed by Shutdown.
		s.Hub.CloseAll()
		return err
	})

	err := g.Wait()
	s.Close()
	return err
}

// Close releases the store and flushes telemetry. Run calls it on exit.
func (s *Server) Close() {
	if err := s.Store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close store")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.shutdownTelemetry(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to flush telemetry")
	}
}
