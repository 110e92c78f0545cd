// Package pairing owns the pair lifecycle: creating and terminating pairs
// and the bot status flips that go with them.
//
// A pair is ACTIVE from creation until it is TERMINATED; there is no way
// back. Every create and terminate is applied as one store transaction, so
// the pair record and both participants' statuses change together or not
// at all. Mutations are additionally serialized per bot id, which keeps two
// concurrent creates naming the same bot from both seeing it online.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentoven/agentoven/pairing-plane/internal/matching"
	"github.com/agentoven/agentoven/pairing-plane/internal/store"
	"github.com/agentoven/agentoven/pairing-plane/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrPersistence  = errors.New("persistence failed")
)

var tracer = otel.Tracer("pairing-plane/pairing")

// Manager creates and terminates pairs.
type Manager struct {
	store  store.Store
	engine *matching.Engine
	locks  *entityLocks

	// now is swapped in tests.
	now func() time.Time
}

// NewManager creates a pair lifecycle manager.
func NewManager(s store.Store, engine *matching.Engine) *Manager {
	if engine == nil {
		engine = matching.NewEngine()
	}
	return &Manager{
		store:  s,
		engine: engine,
		locks:  newEntityLocks(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ── Create ──────────────────────────────────────────────────

// Create pairs two online bots. Both must exist, differ, and be online.
func (m *Manager) Create(ctx context.Context, primaryID, secondaryID, strategy string) (*models.Pair, error) {
	ctx, span := tracer.Start(ctx, "pairing.create", trace.WithAttributes(
		attribute.String("pairing.primary_bot_id", primaryID),
		attribute.String("pairing.secondary_bot_id", secondaryID),
		attribute.String("pairing.strategy", strategy),
	))
	defer span.End()

	pair, err := m.create(ctx, primaryID, secondaryID, strategy)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("pairing.pair_id", pair.ID))
	return pair, nil
}

func (m *Manager) create(ctx context.Context, primaryID, secondaryID, strategy string) (*models.Pair, error) {
	if primaryID == "" || secondaryID == "" {
		return nil, fmt.Errorf("%w: both bot ids are required", ErrValidation)
	}
	if primaryID == secondaryID {
		return nil, fmt.Errorf("%w: a bot cannot be paired with itself", ErrValidation)
	}
	if strategy == "" {
		strategy = models.DefaultStrategy
	}

	unlock := m.locks.lock(primaryID, secondaryID)
	defer unlock()

	pair := &models.Pair{
		ID:             uuid.New().String(),
		PrimaryBotID:   primaryID,
		SecondaryBotID: secondaryID,
		Status:         models.PairStatusActive,
		Strategy:       strategy,
		CreatedAt:      m.now(),
	}

	err := m.store.WithTx(ctx, func(tx store.Tx) error {
		for _, id := range []string{primaryID, secondaryID} {
			bot, err := tx.GetBot(ctx, id)
			if err != nil {
				if store.IsNotFound(err) {
					return fmt.Errorf("%w: bot %s not found", ErrValidation, id)
				}
				return err
			}
			if bot.Status != models.BotStatusOnline {
				return fmt.Errorf("%w: bot %s is %s, must be online", ErrValidation, id, bot.Status)
			}
		}

		if err := tx.CreatePair(ctx, pair); err != nil {
			return err
		}
		if err := tx.UpdateBotStatus(ctx, primaryID, models.BotStatusPaired); err != nil {
			return err
		}
		return tx.UpdateBotStatus(ctx, secondaryID, models.BotStatusPaired)
	})
	if err != nil {
		if errors.Is(err, ErrValidation) {
			return nil, err
		}
		log.Error().Err(err).Str("primary", primaryID).Str("secondary", secondaryID).Msg("Failed to create bot pair")
		return nil, fmt.Errorf("%w: create pair: %v", ErrPersistence, err)
	}

	log.Info().
		Str("pair", pair.ID).
		Str("primary", primaryID).
		Str("secondary", secondaryID).
		Str("strategy", strategy).
		Msg("Bot pair created")
	return pair, nil
}

// ── Terminate ───────────────────────────────────────────────

// Terminate ends an active pair and returns both bots to online.
func (m *Manager) Terminate(ctx context.Context, pairID string) (*models.Pair, error) {
	ctx, span := tracer.Start(ctx, "pairing.terminate", trace.WithAttributes(
		attribute.String("pairing.pair_id", pairID),
	))
	defer span.End()

	pair, err := m.terminate(ctx, pairID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return pair, nil
}

func (m *Manager) terminate(ctx context.Context, pairID string) (*models.Pair, error) {
	// Read once outside the transaction to learn which bots to lock.
	existing, err := m.store.GetPair(ctx, pairID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, fmt.Errorf("%w: pair %s", ErrNotFound, pairID)
		}
		return nil, fmt.Errorf("%w: get pair: %v", ErrPersistence, err)
	}

	unlock := m.locks.lock(existing.PrimaryBotID, existing.SecondaryBotID)
	defer unlock()

	var result *models.Pair
	err = m.store.WithTx(ctx, func(tx store.Tx) error {
		pair, err := tx.GetPair(ctx, pairID)
		if err != nil {
			if store.IsNotFound(err) {
				return fmt.Errorf("%w: pair %s", ErrNotFound, pairID)
			}
			return err
		}
		if pair.Status == models.PairStatusTerminated {
			return fmt.Errorf("%w: pair %s is already terminated", ErrInvalidState, pairID)
		}

		at := m.now()
		pair.Status = models.PairStatusTerminated
		pair.TerminatedAt = &at
		if err := tx.UpdatePair(ctx, pair); err != nil {
			return err
		}
		if err := tx.UpdateBotStatus(ctx, pair.PrimaryBotID, models.BotStatusOnline); err != nil {
			return err
		}
		if err := tx.UpdateBotStatus(ctx, pair.SecondaryBotID, models.BotStatusOnline); err != nil {
			return err
		}
		result = pair
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidState) {
			return nil, err
		}
		log.Error().Err(err).Str("pair", pairID).Msg("Failed to terminate bot pair")
		return nil, fmt.Errorf("%w: terminate pair: %v", ErrPersistence, err)
	}

	log.Info().Str("pair", pairID).Msg("Bot pair terminated")
	return result, nil
}

// ── Auto-pair ───────────────────────────────────────────────

// AutoPair matches every online bot with the named strategy and creates the
// resulting pairs one by one. A pair whose creation fails (for example
// because a bot went busy in between) is skipped. Unknown strategy names
// fall back to the default random policy.
func (m *Manager) AutoPair(ctx context.Context, strategy string) ([]models.Pair, error) {
	ctx, span := tracer.Start(ctx, "pairing.auto_pair", trace.WithAttributes(
		attribute.String("pairing.strategy", strategy),
	))
	defer span.End()

	if strategy == "" {
		strategy = models.DefaultStrategy
	}

	available, err := m.store.ListBotsByStatus(ctx, models.BotStatusOnline)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: list online bots: %v", ErrPersistence, err)
	}
	if len(available) < 2 {
		log.Info().Int("available", len(available)).Msg("Not enough bots available for pairing")
		return []models.Pair{}, nil
	}

	policy, ok := matching.Lookup(strategy)
	if !ok {
		log.Warn().Str("strategy", strategy).Msg("Unknown pairing strategy, using default")
		policy = matching.Random
	}

	matches := m.engine.Match(available, policy)

	created := make([]models.Pair, 0, len(matches))
	for _, match := range matches {
		pair, err := m.Create(ctx, match.Primary.ID, match.Secondary.ID, strategy)
		if err != nil {
			log.Warn().Err(err).
				Str("primary", match.Primary.ID).
				Str("secondary", match.Secondary.ID).
				Msg("Skipping auto-pair candidate")
			continue
		}
		created = append(created, *pair)
	}

	span.SetAttributes(
		attribute.Int("pairing.candidates", len(available)),
		attribute.Int("pairing.created", len(created)),
	)
	log.Info().Int("pairs", len(created)).Str("strategy", strategy).Msg("Auto-paired bots")
	return created, nil
}

// ── Queries ─────────────────────────────────────────────────

// Get returns a pair by id.
func (m *Manager) Get(ctx context.Context, pairID string) (*models.Pair, error) {
	pair, err := m.store.GetPair(ctx, pairID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, fmt.Errorf("%w: pair %s", ErrNotFound, pairID)
		}
		return nil, fmt.Errorf("%w: get pair: %v", ErrPersistence, err)
	}
	return pair, nil
}

// List returns every pair, active or terminated.
func (m *Manager) List(ctx context.Context) ([]models.Pair, error) {
	pairs, err := m.store.ListPairs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list pairs: %v", ErrPersistence, err)
	}
	return pairs, nil
}

// ListActive returns the pairs that are still active.
func (m *Manager) ListActive(ctx context.Context) ([]models.Pair, error) {
	pairs, err := m.store.ListPairsByStatus(ctx, models.PairStatusActive)
	if err != nil {
		return nil, fmt.Errorf("%w: list active pairs: %v", ErrPersistence, err)
	}
	return pairs, nil
}

// Strategies returns the names AutoPair accepts.
func (m *Manager) Strategies() []string {
	return matching.Names()
}
