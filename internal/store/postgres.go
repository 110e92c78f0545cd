package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentoven/agentoven/pairing-plane/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresStore implements Store on PostgreSQL. Capabilities are stored as
// their comma-joined key so the column stays human readable.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, pings and returns a ready store. Call Migrate
// before first use on an empty database.
func NewPostgresStore(ctx context.Context, connURL string, maxConns int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info().Int32("max_conns", cfg.MaxConns).Msg("PostgreSQL store connected")
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS bots (
			id             VARCHAR(36)  PRIMARY KEY,
			name           VARCHAR(100) NOT NULL,
			bot_type       VARCHAR(50)  NOT NULL,
			status         VARCHAR(20)  NOT NULL DEFAULT 'offline',
			endpoint       VARCHAR(255) NOT NULL DEFAULT '',
			capabilities   TEXT         NOT NULL DEFAULT '',
			last_heartbeat TIMESTAMPTZ,
			created_at     TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			updated_at     TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS bot_pairs (
			id               VARCHAR(36) PRIMARY KEY,
			primary_bot_id   VARCHAR(36) NOT NULL REFERENCES bots(id),
			secondary_bot_id VARCHAR(36) NOT NULL REFERENCES bots(id),
			status           VARCHAR(20) NOT NULL DEFAULT 'active',
			pairing_strategy VARCHAR(50) NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			terminated_at    TIMESTAMPTZ,
			CHECK (primary_bot_id <> secondary_bot_id)
		);

		CREATE INDEX IF NOT EXISTS idx_bots_status ON bots (status);
		CREATE INDEX IF NOT EXISTS idx_bot_pairs_status ON bot_pairs (status);
	`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const botColumns = `id, name, bot_type, status, endpoint, capabilities, last_heartbeat, created_at, updated_at`
const pairColumns = `id, primary_bot_id, secondary_bot_id, status, pairing_strategy, created_at, terminated_at`

func scanBot(row pgx.Row) (*models.Bot, error) {
	var (
		b    models.Bot
		caps string
	)
	if err := row.Scan(&b.ID, &b.Name, &b.Type, &b.Status, &b.Endpoint, &caps, &b.LastHeartbeat, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.Capabilities = models.ParseCapabilities(caps)
	return &b, nil
}

func scanPair(row pgx.Row) (*models.Pair, error) {
	var p models.Pair
	if err := row.Scan(&p.ID, &p.PrimaryBotID, &p.SecondaryBotID, &p.Status, &p.Strategy, &p.CreatedAt, &p.TerminatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func getBot(ctx context.Context, q querier, id string, forUpdate bool) (*models.Bot, error) {
	sql := `SELECT ` + botColumns + ` FROM bots WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	b, err := scanBot(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "bot", Key: id}
	}
	return b, err
}

func getPair(ctx context.Context, q querier, id string, forUpdate bool) (*models.Pair, error) {
	sql := `SELECT ` + pairColumns + ` FROM bot_pairs WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	p, err := scanPair(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "pair", Key: id}
	}
	return p, err
}

func listBots(ctx context.Context, q querier, where string, args ...any) ([]models.Bot, error) {
	rows, err := q.Query(ctx, `SELECT `+botColumns+` FROM bots `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []models.Bot{}
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	return result, rows.Err()
}

func listPairs(ctx context.Context, q querier, where string, args ...any) ([]models.Pair, error) {
	rows, err := q.Query(ctx, `SELECT `+pairColumns+` FROM bot_pairs `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []models.Pair{}
	for rows.Next() {
		p, err := scanPair(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func insertPair(ctx context.Context, q querier, p *models.Pair) error {
	_, err := q.Exec(ctx, `INSERT INTO bot_pairs (`+pairColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.PrimaryBotID, p.SecondaryBotID, p.Status, p.Strategy, p.CreatedAt, p.TerminatedAt)
	return err
}

func updatePair(ctx context.Context, q querier, p *models.Pair) error {
	tag, err := q.Exec(ctx, `UPDATE bot_pairs SET status = $2, terminated_at = $3 WHERE id = $1`,
		p.ID, p.Status, p.TerminatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "pair", Key: p.ID}
	}
	return nil
}

func updateBot(ctx context.Context, q querier, b *models.Bot) error {
	tag, err := q.Exec(ctx, `
		UPDATE bots SET name = $2, bot_type = $3, status = $4, endpoint = $5, capabilities = $6, updated_at = NOW()
		WHERE id = $1`,
		b.ID, b.Name, b.Type, b.Status, b.Endpoint, b.Capabilities.Key())
	if err != nil {
		return fmt.Errorf("update bot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "bot", Key: b.ID}
	}
	return nil
}

func updateBotStatus(ctx context.Context, q querier, id string, status models.BotStatus) error {
	tag, err := q.Exec(ctx, `UPDATE bots SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "bot", Key: id}
	}
	return nil
}

// ── Bot Store ───────────────────────────────────────────────

func (s *PostgresStore) GetBot(ctx context.Context, id string) (*models.Bot, error) {
	return getBot(ctx, s.pool, id, false)
}

func (s *PostgresStore) ListBots(ctx context.Context) ([]models.Bot, error) {
	return listBots(ctx, s.pool, "")
}

func (s *PostgresStore) ListBotsByStatus(ctx context.Context, status models.BotStatus) ([]models.Bot, error) {
	return listBots(ctx, s.pool, "WHERE status = $1", status)
}

func (s *PostgresStore) CreateBot(ctx context.Context, b *models.Bot) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO bots (`+botColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.ID, b.Name, b.Type, b.Status, b.Endpoint, b.Capabilities.Key(), b.LastHeartbeat, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert bot: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateBot(ctx context.Context, b *models.Bot) error {
	return updateBot(ctx, s.pool, b)
}

func (s *PostgresStore) UpdateBotStatus(ctx context.Context, id string, status models.BotStatus) error {
	return updateBotStatus(ctx, s.pool, id, status)
}

func (s *PostgresStore) TouchHeartbeat(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE bots SET last_heartbeat = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "bot", Key: id}
	}
	return nil
}

// ── Pair Store ──────────────────────────────────────────────

func (s *PostgresStore) GetPair(ctx context.Context, id string) (*models.Pair, error) {
	return getPair(ctx, s.pool, id, false)
}

func (s *PostgresStore) ListPairs(ctx context.Context) ([]models.Pair, error) {
	return listPairs(ctx, s.pool, "")
}

func (s *PostgresStore) ListPairsByStatus(ctx context.Context, status models.PairStatus) ([]models.Pair, error) {
	return listPairs(ctx, s.pool, "WHERE status = $1", status)
}

func (s *PostgresStore) CreatePair(ctx context.Context, p *models.Pair) error {
	return insertPair(ctx, s.pool, p)
}

func (s *PostgresStore) UpdatePair(ctx context.Context, p *models.Pair) error {
	return updatePair(ctx, s.pool, p)
}

func (s *PostgresStore) DeleteTerminatedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM bot_pairs WHERE status = $1 AND terminated_at < $2`,
		models.PairStatusTerminated, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete terminated pairs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ── Transactions ────────────────────────────────────────────

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	// Rollback after Commit is a no-op.
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// pgTx locks the rows it reads so a concurrent transaction cannot flip a
// bot's status between the check and the write.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetBot(ctx context.Context, id string) (*models.Bot, error) {
	return getBot(ctx, t.tx, id, true)
}

func (t *pgTx) GetPair(ctx context.Context, id string) (*models.Pair, error) {
	return getPair(ctx, t.tx, id, true)
}

func (t *pgTx) CreatePair(ctx context.Context, p *models.Pair) error {
	return insertPair(ctx, t.tx, p)
}

func (t *pgTx) UpdatePair(ctx context.Context, p *models.Pair) error {
	return updatePair(ctx, t.tx, p)
}

func (t *pgTx) UpdateBotStatus(ctx context.Context, id string, status models.BotStatus) error {
	return updateBotStatus(ctx, t.tx, id, status)
}

func (t *pgTx) UpdateBot(ctx context.Context, b *models.Bot) error {
	return updateBot(ctx, t.tx, b)
}
