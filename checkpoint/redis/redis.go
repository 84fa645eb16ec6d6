// Package redis stores checkpoints in Redis and provides a Redis-backed
// per-thread lock for multi-process deployments.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/becomeliminal/nim-graph/checkpoint"
	"github.com/becomeliminal/nim-graph/logger"
)

// saveScript writes ARGV[2] under KEYS[1] when ARGV[1] is newer than the
// stored version. Returns 1 on write, 0 on replay, -1 with the stored version
// on a stale write.
var saveScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
local v = tonumber(ARGV[1])
if cur then
	cur = tonumber(cur)
	if v == cur then return {0, cur} end
	if v < cur then return {-1, cur} end
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'data', ARGV[2])
return {1, v}
`)

type Options struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces keys. Defaults to "nimgraph".
	Prefix string
}

type Store struct {
	client goredis.UniversalClient
	prefix string
	owned  bool
	log    *logger.Logger
}

var _ checkpoint.Store = (*Store)(nil)

// Dial connects to Redis.
func Dial(ctx context.Context, opts Options, log *logger.Logger) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, checkpoint.IOError("open", "", fmt.Errorf("ping redis %s: %w", opts.Addr, err))
	}
	s := New(client, opts.Prefix, log)
	s.owned = true
	return s, nil
}

// New wraps an existing client. The client is not closed by Close.
func New(client goredis.UniversalClient, prefix string, log *logger.Logger) *Store {
	if prefix == "" {
		prefix = "nimgraph"
	}
	return &Store{
		client: client,
		prefix: prefix,
		log:    logger.OrNop(log).With("component", "checkpoint.redis"),
	}
}

// Client exposes the underlying connection so a Locker can share it.
func (s *Store) Client() goredis.UniversalClient {
	return s.client
}

func (s *Store) key(threadID string) string {
	return s.prefix + ":checkpoint:" + threadID
}

func (s *Store) Load(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	data, err := s.client.HGet(ctx, s.key(threadID), "data").Bytes()
	if errors.Is(err, goredis.Nil) {
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

	res, err := saveScript.Run(ctx, s.client, []string{s.key(cp.ThreadID)}, cp.Version, data).Int64Slice()
	if err != nil {
		return checkpoint.IOError("save", cp.ThreadID, err)
	}
	if len(res) != 2 {
		return checkpoint.IOError("save", cp.ThreadID, fmt.Errorf("unexpected script reply %v", res))
	}
	switch res[0] {
	case 1:
		return nil
	case 0:
		s.log.Debug("ignored checkpoint replay", "thread_id", cp.ThreadID, "version", cp.Version)
		return nil
	default:
		return checkpoint.StaleError(cp.ThreadID, res[1], cp.Version)
	}
}

func (s *Store) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}
