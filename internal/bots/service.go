// Package bots handles registration, updates, heartbeats and
// deregistration of bots. Pair-related status flips belong to the pairing
// manager; this package refuses to make them.
package bots

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agentoven/agentoven/pairing-plane/internal/store"
	"github.com/agentoven/agentoven/pairing-plane/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
)

// Service manages the bot registry.
type Service struct {
	store store.Store
	now   func() time.Time
}

// NewService creates a bot service over s.
func NewService(s store.Store) *Service {
	return &Service{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// Register adds a new bot. It starts ONLINE.
func (s *Service) Register(ctx context.Context, req models.BotCreate) (*models.Bot, error) {
	name := strings.TrimSpace(req.Name)
	typ := strings.TrimSpace(req.Type)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if typ == "" {
		return nil, fmt.Errorf("%w: bot_type is required", ErrValidation)
	}

	now := s.now()
	bot := &models.Bot{
		ID:           uuid.New().String(),
		Name:         name,
		Type:         typ,
		Endpoint:     strings.TrimSpace(req.Endpoint),
		Capabilities: models.NewCapabilities(req.Capabilities...),
		Status:       models.BotStatusOnline,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateBot(ctx, bot); err != nil {
		return nil, fmt.Errorf("register bot: %w", err)
	}

	log.Info().Str("bot", bot.ID).Str("name", name).Str("type", typ).Msg("Bot registered")
	return bot, nil
}

// Get returns a bot by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Bot, error) {
	bot, err := s.store.GetBot(ctx, id)
	if err != nil {
		return nil, mapErr(err, id)
	}
	return bot, nil
}

// List returns every registered bot.
func (s *Service) List(ctx context.Context) ([]models.Bot, error) {
	return s.store.ListBots(ctx)
}

// Available returns the bots that can be paired right now.
func (s *Service) Available(ctx context.Context) ([]models.Bot, error) {
	return s.store.ListBotsByStatus(ctx, models.BotStatusOnline)
}

// Update applies the non-nil fields of upd. Status can move between
// online, busy, error and offline; paired is only entered or left through
// a pair.
func (s *Service) Update(ctx context.Context, id string, upd models.BotUpdate) (*models.Bot, error) {
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return nil, fmt.Errorf("%w: name cannot be empty", ErrValidation)
	}
	if upd.Status != nil {
		if !upd.Status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, *upd.Status)
		}
		if *upd.Status == models.BotStatusPaired {
			return nil, fmt.Errorf("%w: bots become paired only through a pair", ErrValidation)
		}
	}

	var updated *models.Bot
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		bot, err := tx.GetBot(ctx, id)
		if err != nil {
			return err
		}
		if upd.Status != nil && bot.Status == models.BotStatusPaired && *upd.Status != models.BotStatusPaired {
			return fmt.Errorf("%w: bot %s is paired; terminate its pair first", ErrInvalidState, id)
		}

		if upd.Name != nil {
			bot.Name = strings.TrimSpace(*upd.Name)
		}
		if upd.Endpoint != nil {
			bot.Endpoint = strings.TrimSpace(*upd.Endpoint)
		}
		if upd.Capabilities != nil {
			bot.Capabilities = models.NewCapabilities(*upd.Capabilities...)
		}
		if upd.Status != nil {
			bot.Status = *upd.Status
		}
		bot.UpdatedAt = s.now()
		updated = bot
		return tx.UpdateBot(ctx, bot)
	})
	if err != nil {
		return nil, mapErr(err, id)
	}

	log.Info().Str("bot", id).Str("status", string(updated.Status)).Msg("Bot updated")
	return updated, nil
}

// Heartbeat records that the bot is alive. A bot the reaper took offline
// comes back online on its next heartbeat.
func (s *Service) Heartbeat(ctx context.Context, id string) (*models.Bot, error) {
	now := s.now()
	if err := s.store.TouchHeartbeat(ctx, id, now); err != nil {
		return nil, mapErr(err, id)
	}

	var bot *models.Bot
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		b, err := tx.GetBot(ctx, id)
		if err != nil {
			return err
		}
		if b.Status == models.BotStatusOffline {
			if err := tx.UpdateBotStatus(ctx, id, models.BotStatusOnline); err != nil {
				return err
			}
			b.Status = models.BotStatusOnline
			log.Info().Str("bot", id).Msg("Bot back online")
		}
		bot = b
		return nil
	})
	if err != nil {
		return nil, mapErr(err, id)
	}
	return bot, nil
}

// Deregister marks the bot OFFLINE. A paired bot must leave its pair first.
func (s *Service) Deregister(ctx context.Context, id string) (*models.Bot, error) {
	var bot *models.Bot
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		b, err := tx.GetBot(ctx, id)
		if err != nil {
			return err
		}
		if b.Status == models.BotStatusPaired {
			return fmt.Errorf("%w: bot %s is paired; terminate its pair first", ErrInvalidState, id)
		}
		if err := tx.UpdateBotStatus(ctx, id, models.BotStatusOffline); err != nil {
			return err
		}
		b.Status = models.BotStatusOffline
		bot = b
		return nil
	})
	if err != nil {
		return nil, mapErr(err, id)
	}

	log.Info().Str("bot", id).Msg("Bot deregistered")
	return bot, nil
}

func mapErr(err error, id string) error {
	if store.IsNotFound(err) {
		return fmt.Errorf("%w: bot %s", ErrNotFound, id)
	}
	return err
}
