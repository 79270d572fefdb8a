package sink

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/you/chatzzk/internal/core"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS chat_logs (
  message_id  TEXT PRIMARY KEY,
  streamer_id TEXT NOT NULL,
  user_id     TEXT,
  msg         TEXT NOT NULL,
  ts          TEXT NOT NULL,
  raw         TEXT NOT NULL DEFAULT ''
);`

const sqliteInsert = `INSERT INTO chat_logs (message_id, streamer_id, user_id, msg, ts, raw)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (message_id) DO NOTHING;`

// SQLiteStore is the single-file alternative to Postgres for local runs. The
// dedup contract is identical.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=wal;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set WAL")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) InsertChat(ctx context.Context, row core.ChatRow) (bool, error) {
	res, err := s.db.ExecContext(ctx, sqliteInsert,
		row.MessageID, row.StreamerID, row.UserID, row.Msg,
		row.Ts.UTC().Format(time.RFC3339Nano), string(row.Raw))
	if err != nil {
		return false, errors.Wrap(err, "insert chat")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
