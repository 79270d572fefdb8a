package sink

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/you/chatzzk/internal/core"
)

const pgSchema = `CREATE TABLE IF NOT EXISTS chat_logs (
  id          BIGSERIAL PRIMARY KEY,
  message_id  TEXT UNIQUE,
  streamer_id TEXT NOT NULL,
  user_id     TEXT,
  msg         TEXT NOT NULL,
  ts          TIMESTAMPTZ NOT NULL DEFAULT now(),
  raw         JSONB
);`

const pgIndex = `CREATE INDEX IF NOT EXISTS idx_chat_logs_streamer_ts
  ON chat_logs (streamer_id, ts DESC);`

const pgInsert = `INSERT INTO chat_logs (message_id, streamer_id, user_id, msg, ts, raw)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (message_id) DO NOTHING;`

// PostgresStore writes chat rows through a bounded pgx pool shared across all
// concurrent message handlers. Each insert borrows one connection and returns
// it unconditionally; pgxpool enforces that.
type PostgresStore struct {
	pool *pgxpool.Pool
}

type PostgresOptions struct {
	DSN      string
	MinConns int32
	MaxConns int32
}

func OpenPostgres(ctx context.Context, opts PostgresOptions) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "parse dsn")
	}
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "open pool")
	}

	for _, stmt := range []string{pgSchema, pgIndex} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "apply schema")
		}
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) InsertChat(ctx context.Context, row core.ChatRow) (bool, error) {
	var raw any
	if len(row.Raw) > 0 {
		raw = row.Raw
	}
	tag, err := s.pool.Exec(ctx, pgInsert,
		row.MessageID, row.StreamerID, row.UserID, row.Msg, row.Ts.UTC(), raw)
	if err != nil {
		return false, errors.Wrap(err, "insert chat")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
