// In-memory Store, used when PostgreSQL is not configured (local dev, tests).
// Snapshots to a data dir so data survives restarts.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/agentoven/agentoven/pairing-plane/pkg/models"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
)

const (
	snapshotFile = "pairing.json"
	lockFile     = "pairing.lock"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Bots  map[string]*models.Bot  `json:"bots"`
	Pairs map[string]*models.Pair `json:"pairs"`
}

// MemoryOptions configures a MemoryStore.
type MemoryOptions struct {
	// DataDir enables snapshot persistence when non-empty.
	DataDir string
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu    sync.RWMutex
	bots  map[string]*models.Bot  // key: id
	pairs map[string]*models.Pair // key: id

	// Persistence
	snapshotPath string        // empty = no persistence
	lock         *flock.Flock  // held for the store's lifetime
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutines to stop
	wg           sync.WaitGroup
}

// NewMemoryStore creates a new in-memory store. With a data directory it
// takes an exclusive file lock there, so a second process pointed at the
// same directory fails instead of silently diverging.
func NewMemoryStore(opts MemoryOptions) (*MemoryStore, error) {
	m := &MemoryStore{
		bots:   make(map[string]*models.Bot),
		pairs:  make(map[string]*models.Pair),
		saveCh: make(chan struct{}, 1),
		doneCh: make(chan struct{}),
	}

	if opts.DataDir != "" {
		if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}

		m.lock = flock.New(filepath.Join(opts.DataDir, lockFile))
		locked, err := m.lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquiring data dir lock: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("data dir %s is in use by another process", opts.DataDir)
		}

		m.snapshotPath = filepath.Join(opts.DataDir, snapshotFile)
		m.loadSnapshot()

		m.wg.Add(1)
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")

	return m, nil
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

// saveLoop debounces save requests (max 1 write per 500ms).
func (m *MemoryStore) saveLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond)
			m.saveSnapshot()
		}
	}
}

// saveSnapshot persists all data to disk as JSON.
func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	data, err := json.MarshalIndent(snapshot{Bots: m.bots, Pairs: m.pairs}, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}

	log.Debug().Str("path", m.snapshotPath).Msg("Snapshot saved")
}

// loadSnapshot reads data from disk on startup.
func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.Bots != nil {
		m.bots = snap.Bots
	}
	if snap.Pairs != nil {
		m.pairs = snap.Pairs
	}

	log.Info().
		Int("bots", len(m.bots)).
		Int("pairs", len(m.pairs)).
		Str("path", m.snapshotPath).
		Msg("Snapshot loaded")
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops background goroutines, forces a final snapshot write and
// releases the data dir lock. Safe to call multiple times.
func (m *MemoryStore) Close() error {
	select {
	case <-m.doneCh:
		return nil
	default:
		close(m.doneCh)
	}
	m.wg.Wait()

	if m.snapshotPath != "" {
		log.Info().Msg("Flushing final snapshot before shutdown...")
		m.saveSnapshot()
	}
	if m.lock != nil {
		if err := m.lock.Unlock(); err != nil {
			return fmt.Errorf("release data dir lock: %w", err)
		}
	}

	log.Info().Msg("Memory store closed")
	return nil
}

func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

// ── Bot Store ───────────────────────────────────────────────

func (m *MemoryStore) GetBot(_ context.Context, id string) (*models.Bot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bots[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "bot", Key: id}
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) ListBots(_ context.Context) ([]models.Bot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedBots(m.bots, ""), nil
}

func (m *MemoryStore) ListBotsByStatus(_ context.Context, status models.BotStatus) ([]models.Bot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedBots(m.bots, status), nil
}

func (m *MemoryStore) CreateBot(_ context.Context, bot *models.Bot) error {
	m.mu.Lock()
	if _, exists := m.bots[bot.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("bot %s already exists", bot.ID)
	}
	cp := *bot
	m.bots[bot.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateBot(_ context.Context, bot *models.Bot) error {
	m.mu.Lock()
	if _, exists := m.bots[bot.ID]; !exists {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "bot", Key: bot.ID}
	}
	cp := *bot
	cp.UpdatedAt = time.Now().UTC()
	m.bots[bot.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateBotStatus(_ context.Context, id string, status models.BotStatus) error {
	m.mu.Lock()
	b, ok := m.bots[id]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "bot", Key: id}
	}
	cp := *b
	cp.Status = status
	cp.UpdatedAt = time.Now().UTC()
	m.bots[id] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) TouchHeartbeat(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	b, ok := m.bots[id]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "bot", Key: id}
	}
	cp := *b
	cp.LastHeartbeat = &at
	m.bots[id] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Pair Store ──────────────────────────────────────────────

func (m *MemoryStore) GetPair(_ context.Context, id string) (*models.Pair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pairs[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "pair", Key: id}
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListPairs(_ context.Context) ([]models.Pair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedPairs(m.pairs, ""), nil
}

func (m *MemoryStore) ListPairsByStatus(_ context.Context, status models.PairStatus) ([]models.Pair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedPairs(m.pairs, status), nil
}

func (m *MemoryStore) CreatePair(_ context.Context, pair *models.Pair) error {
	m.mu.Lock()
	if _, exists := m.pairs[pair.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("pair %s already exists", pair.ID)
	}
	cp := *pair
	m.pairs[pair.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdatePair(_ context.Context, pair *models.Pair) error {
	m.mu.Lock()
	if _, exists := m.pairs[pair.ID]; !exists {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "pair", Key: pair.ID}
	}
	cp := *pair
	m.pairs[pair.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteTerminatedBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	var n int
	for id, p := range m.pairs {
		if p.Status == models.PairStatusTerminated && p.TerminatedAt != nil && p.TerminatedAt.Before(cutoff) {
			delete(m.pairs, id)
			n++
		}
	}
	m.mu.Unlock()
	if n > 0 {
		m.requestSave()
	}
	return n, nil
}

// ── Transactions ────────────────────────────────────────────

// WithTx holds the write lock for the whole of fn and stages writes in an
// overlay that is merged only when fn succeeds.
func (m *MemoryStore) WithTx(_ context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	tx := &memTx{
		base:  m,
		bots:  make(map[string]*models.Bot),
		pairs: make(map[string]*models.Pair),
	}
	if err := fn(tx); err != nil {
		m.mu.Unlock()
		return err
	}
	for id, b := range tx.bots {
		m.bots[id] = b
	}
	for id, p := range tx.pairs {
		m.pairs[id] = p
	}
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// memTx reads through its overlay to the base maps. The caller already
// holds base.mu.
type memTx struct {
	base  *MemoryStore
	bots  map[string]*models.Bot
	pairs map[string]*models.Pair
}

func (t *memTx) bot(id string) (*models.Bot, bool) {
	if b, ok := t.bots[id]; ok {
		return b, true
	}
	b, ok := t.base.bots[id]
	return b, ok
}

func (t *memTx) pair(id string) (*models.Pair, bool) {
	if p, ok := t.pairs[id]; ok {
		return p, true
	}
	p, ok := t.base.pairs[id]
	return p, ok
}

func (t *memTx) GetBot(_ context.Context, id string) (*models.Bot, error) {
	b, ok := t.bot(id)
	if !ok {
		return nil, &ErrNotFound{Entity: "bot", Key: id}
	}
	cp := *b
	return &cp, nil
}

func (t *memTx) GetPair(_ context.Context, id string) (*models.Pair, error) {
	p, ok := t.pair(id)
	if !ok {
		return nil, &ErrNotFound{Entity: "pair", Key: id}
	}
	cp := *p
	return &cp, nil
}

func (t *memTx) CreatePair(_ context.Context, pair *models.Pair) error {
	if _, exists := t.pair(pair.ID); exists {
		return fmt.Errorf("pair %s already exists", pair.ID)
	}
	cp := *pair
	t.pairs[pair.ID] = &cp
	return nil
}

func (t *memTx) UpdatePair(_ context.Context, pair *models.Pair) error {
	if _, exists := t.pair(pair.ID); !exists {
		return &ErrNotFound{Entity: "pair", Key: pair.ID}
	}
	cp := *pair
	t.pairs[pair.ID] = &cp
	return nil
}

func (t *memTx) UpdateBot(_ context.Context, bot *models.Bot) error {
	if _, ok := t.bot(bot.ID); !ok {
		return &ErrNotFound{Entity: "bot", Key: bot.ID}
	}
	cp := *bot
	cp.UpdatedAt = time.Now().UTC()
	t.bots[bot.ID] = &cp
	return nil
}

func (t *memTx) UpdateBotStatus(_ context.Context, id string, status models.BotStatus) error {
	b, ok := t.bot(id)
	if !ok {
		return &ErrNotFound{Entity: "bot", Key: id}
	}
	cp := *b
	cp.Status = status
	cp.UpdatedAt = time.Now().UTC()
	t.bots[id] = &cp
	return nil
}

// ── Helpers ─────────────────────────────────────────────────

// sortedBots returns copies ordered by creation time then id, so callers
// (and the matching engine) see a stable candidate order.
func sortedBots(src map[string]*models.Bot, status models.BotStatus) []models.Bot {
	result := []models.Bot{}
	for _, b := range src {
		if status == "" || b.Status == status {
			result = append(result, *b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func sortedPairs(src map[string]*models.Pair, status models.PairStatus) []models.Pair {
	result := []models.Pair{}
	for _, p := range src {
		if status == "" || p.Status == status {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}
