// Package postgres stores checkpoints in PostgreSQL, one row per thread.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/becomeliminal/nim-graph/checkpoint"
	"github.com/becomeliminal/nim-graph/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS nimgraph_checkpoints (
	thread_id  TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	version    BIGINT NOT NULL,
	next_node  TEXT NOT NULL,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

// The update only applies to strictly newer versions. Zero affected rows
// means a replay or a stale writer, told apart by reading the stored version.
const upsert = `
INSERT INTO nimgraph_checkpoints (thread_id, user_id, version, next_node, data, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (thread_id) DO UPDATE SET
	user_id    = EXCLUDED.user_id,
	version    = EXCLUDED.version,
	next_node  = EXCLUDED.next_node,
	data       = EXCLUDED.data,
	updated_at = EXCLUDED.updated_at
WHERE nimgraph_checkpoints.version < EXCLUDED.version`

// DB is the subset of pgxpool.Pool used by the store.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db   DB
	pool *pgxpool.Pool
	log  *logger.Logger
}

var _ checkpoint.Store = (*Store)(nil)

// Open connects to dsn and creates the checkpoint table if needed.
func Open(ctx context.Context, dsn string, log *logger.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, checkpoint.IOError("open", "", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, checkpoint.IOError("open", "", err)
	}
	s := New(pool, log)
	s.pool = pool
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection.
func New(db DB, log *logger.Logger) *Store {
	return &Store{db: db, log: logger.OrNop(log).With("component", "checkpoint.postgres")}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return checkpoint.IOError("migrate", "", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	var data []byte
	err := s.db.QueryRow(ctx, `SELECT data FROM nimgraph_checkpoints WHERE thread_id = $1`, threadID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return checkpoint.New(threadID), nil
	}
	if err != nil {
		return nil, checkpoint.IOError("load", threadID, err)
	}
	cp, err := checkpoint.Decode(data)
	if err != nil {
		return nil, checkpoint.IOError("load", threadID, fmt.Errorf("decode: %w", err))
	}
	return cp, nil
}

func (s *Store) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	if checkpoint.Decide(0, cp.Version) != checkpoint.Write {
		// Version zero is the implicit initial state.
		return nil
	}
	rec := *cp
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	data, err := checkpoint.Encode(&rec)
	if err != nil {
		return checkpoint.IOError("save", cp.ThreadID, fmt.Errorf("encode: %w", err))
	}

	tag, err := s.db.Exec(ctx, upsert, rec.ThreadID, rec.UserID, rec.Version, string(rec.Next), data, rec.UpdatedAt)
	if err != nil {
		return checkpoint.IOError("save", cp.ThreadID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var stored int64
	err = s.db.QueryRow(ctx, `SELECT version FROM nimgraph_checkpoints WHERE thread_id = $1`, cp.ThreadID).Scan(&stored)
	if err != nil {
		return checkpoint.IOError("save", cp.ThreadID, err)
	}
	switch checkpoint.Decide(stored, cp.Version) {
	case checkpoint.Replay:
		s.log.Debug("ignored checkpoint replay", "thread_id", cp.ThreadID, "version", cp.Version)
		return nil
	case checkpoint.Stale:
		return checkpoint.StaleError(cp.ThreadID, stored, cp.Version)
	default:
		return checkpoint.IOError("save", cp.ThreadID, errors.New("upsert affected no rows"))
	}
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
