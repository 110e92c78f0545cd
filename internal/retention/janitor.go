// Package retention purges terminated pairs once they are older than the
// configured retention window, optionally archiving them first.
//
// Archive failures are fail-safe: if archiving a batch fails, nothing is
// deleted in that cycle. Active pairs are never touched.
package retention

import (
	"context"
	"time"

	"github.com/agentoven/agentoven/pairing-plane/internal/store"
	"github.com/agentoven/agentoven/pairing-plane/pkg/models"
	"github.com/rs/zerolog/log"
)

// Archiver persists expired pairs somewhere durable before they are purged.
type Archiver interface {
	Kind() string
	ArchivePairs(ctx context.Context, pairs []models.Pair) (string, error)
}

// CycleStats reports what a single sweep did.
type CycleStats struct {
	Archived    int
	Purged      int
	ArchivePath string
	Err         error
}

// Janitor periodically removes expired terminated pairs.
type Janitor struct {
	store     store.PairStore
	retention time.Duration
	interval  time.Duration
	archiver  Archiver

	now func() time.Time
}

// NewJanitor creates a janitor. A zero retention disables purging; Run then
// just waits for cancellation.
func NewJanitor(s store.PairStore, retention, interval time.Duration, archiver Archiver) *Janitor {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Janitor{
		store:     s,
		retention: retention,
		interval:  interval,
		archiver:  archiver,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps on every interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	if j.retention <= 0 {
		log.Debug().Msg("Pair retention disabled")
		<-ctx.Done()
		return nil
	}

	archiver := "none"
	if j.archiver != nil {
		archiver = j.archiver.Kind()
	}
	log.Info().
		Dur("retention", j.retention).
		Dur("interval", j.interval).
		Str("archiver", archiver).
		Msg("🧹 Retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return nil
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one sweep.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	var stats CycleStats
	cutoff := j.now().Add(-j.retention)

	if j.archiver != nil {
		expired, err := j.findExpired(ctx, cutoff)
		if err != nil {
			stats.Err = err
			log.Warn().Err(err).Msg("Retention janitor: failed to list terminated pairs")
			return stats
		}
		if len(expired) == 0 {
			return stats
		}

		path, err := j.archiver.ArchivePairs(ctx, expired)
		if err != nil {
			stats.Err = err
			log.Warn().Err(err).Str("archiver", j.archiver.Kind()).Msg("Archive failed, skipping purge")
			return stats
		}
		stats.Archived = len(expired)
		stats.ArchivePath = path
	}

	n, err := j.store.DeleteTerminatedBefore(ctx, cutoff)
	if err != nil {
		stats.Err = err
		log.Warn().Err(err).Msg("Retention janitor: purge failed")
		return stats
	}
	stats.Purged = n

	if n > 0 || stats.Archived > 0 {
		log.Info().
			Int("purged", n).
			Int("archived", stats.Archived).
			Str("archive", stats.ArchivePath).
			Msg("Retention cycle complete")
	}
	return stats
}

func (j *Janitor) findExpired(ctx context.Context, cutoff time.Time) ([]models.Pair, error) {
	pairs, err := j.store.ListPairsByStatus(ctx, models.PairStatusTerminated)
	if err != nil {
		return nil, err
	}
	var expired []models.Pair
	for _, p := range pairs {
		if p.TerminatedAt != nil && p.TerminatedAt.Before(cutoff) {
			expired = append(expired, p)
		}
	}
	return expired, nil
}
