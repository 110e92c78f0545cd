// Package store provides the registry interface and implementations for the
// pairing plane. The in-memory store is the zero-config default; PostgreSQL
// is used when a database URL is configured.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/agentoven/agentoven/pairing-plane/pkg/models"
)

// Store is the registry the pairing plane depends on. Every single-record
// operation is atomic on its own; WithTx composes several into one unit.
type Store interface {
	BotStore
	PairStore

	// WithTx runs fn inside a transaction. If fn returns an error, every
	// write made through tx is discarded; otherwise all of them commit.
	// fn must only use tx, never the Store itself.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Ping checks if the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate creates or upgrades the schema.
	Migrate(ctx context.Context) error
}

// ── Bot Store ───────────────────────────────────────────────

type BotStore interface {
	GetBot(ctx context.Context, id string) (*models.Bot, error)
	ListBots(ctx context.Context) ([]models.Bot, error)
	ListBotsByStatus(ctx context.Context, status models.BotStatus) ([]models.Bot, error)
	CreateBot(ctx context.Context, bot *models.Bot) error
	UpdateBot(ctx context.Context, bot *models.Bot) error
	UpdateBotStatus(ctx context.Context, id string, status models.BotStatus) error
	TouchHeartbeat(ctx context.Context, id string, at time.Time) error
}

// ── Pair Store ──────────────────────────────────────────────

type PairStore interface {
	GetPair(ctx context.Context, id string) (*models.Pair, error)
	ListPairs(ctx context.Context) ([]models.Pair, error)
	ListPairsByStatus(ctx context.Context, status models.PairStatus) ([]models.Pair, error)
	CreatePair(ctx context.Context, pair *models.Pair) error
	UpdatePair(ctx context.Context, pair *models.Pair) error

	// DeleteTerminatedBefore removes terminated pairs whose termination
	// time is older than cutoff and returns how many were removed.
	DeleteTerminatedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// ── Transactions ────────────────────────────────────────────

// Tx is the subset of operations available inside WithTx.
type Tx interface {
	GetBot(ctx context.Context, id string) (*models.Bot, error)
	GetPair(ctx context.Context, id string) (*models.Pair, error)
	CreatePair(ctx context.Context, pair *models.Pair) error
	UpdatePair(ctx context.Context, pair *models.Pair) error
	UpdateBot(ctx context.Context, bot *models.Bot) error
	UpdateBotStatus(ctx context.Context, id string, status models.BotStatus) error
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// IsNotFound reports whether err is an *ErrNotFound.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}
