package bots

import (
	"context"
	"time"

	"github.com/agentoven/agentoven/pairing-plane/internal/store"
	"github.com/agentoven/agentoven/pairing-plane/pkg/models"
	"github.com/rs/zerolog/log"
)

// ── Reaper ───────────────────────────────────────────────────

// StatusNotifier is told about every status change the reaper makes.
type StatusNotifier interface {
	BotStatusChanged(botID string, status models.BotStatus, at time.Time)
}

// Reaper takes ONLINE bots offline once their heartbeat goes stale. Bots
// that never sent a heartbeat are left alone, and PAIRED bots are never
// touched.
type Reaper struct {
	store      store.Store
	notifier   StatusNotifier
	interval   time.Duration
	staleAfter time.Duration

	now func() time.Time
}

// NewReaper creates a reaper. notifier may be nil.
func NewReaper(s store.Store, notifier StatusNotifier, interval, staleAfter time.Duration) *Reaper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if staleAfter <= 0 {
		staleAfter = 90 * time.Second
	}
	return &Reaper{
		store:      s,
		notifier:   notifier,
		interval:   interval,
		staleAfter: staleAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps on every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	log.Info().Dur("interval", r.interval).Dur("stale_after", r.staleAfter).Msg("💓 Heartbeat reaper started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep(ctx)
		case <-ctx.Done():
			log.Info().Msg("Heartbeat reaper stopped")
			return nil
		}
	}
}

// Sweep runs one pass and returns the ids it took offline.
func (r *Reaper) Sweep(ctx context.Context) []string {
	online, err := r.store.ListBotsByStatus(ctx, models.BotStatusOnline)
	if err != nil {
		log.Warn().Err(err).Msg("reaper: failed to list online bots")
		return nil
	}

	now := r.now()
	var reaped []string
	for _, bot := range online {
		if !r.stale(&bot, now) {
			continue
		}
		ok, err := r.takeOffline(ctx, bot.ID, now)
		if err != nil {
			log.Warn().Err(err).Str("bot", bot.ID).Msg("reaper: failed to mark bot offline")
			continue
		}
		if !ok {
			continue
		}

		log.Info().
			Str("bot", bot.ID).
			Time("last_heartbeat", *bot.LastHeartbeat).
			Msg("Bot heartbeat stale, marked offline")
		reaped = append(reaped, bot.ID)
		if r.notifier != nil {
			r.notifier.BotStatusChanged(bot.ID, models.BotStatusOffline, now)
		}
	}
	return reaped
}

func (r *Reaper) stale(bot *models.Bot, now time.Time) bool {
	return bot.LastHeartbeat != nil && now.Sub(*bot.LastHeartbeat) > r.staleAfter
}

// takeOffline re-checks the bot inside a transaction, since a pair may
// have claimed it or a heartbeat may have arrived since the listing.
func (r *Reaper) takeOffline(ctx context.Context, id string, now time.Time) (bool, error) {
	changed := false
	err := r.store.WithTx(ctx, func(tx store.Tx) error {
		bot, err := tx.GetBot(ctx, id)
		if err != nil {
			return err
		}
		if bot.Status != models.BotStatusOnline || !r.stale(bot, now) {
			return nil
		}
		changed = true
		return tx.UpdateBotStatus(ctx, id, models.BotStatusOffline)
	})
	return changed, err
}
