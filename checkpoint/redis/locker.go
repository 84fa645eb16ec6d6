package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/becomeliminal/nim-graph/logger"
)

var (
	unlockScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)
	refreshScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)
)

// Locker serializes turns on one thread across processes. Each lock is a key
// holding a random token with a TTL that is refreshed while held, so a
// crashed holder releases it after at most TTL.
type Locker struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
	log    *logger.Logger
}

// NewLocker creates a locker. ttl defaults to 30s.
func NewLocker(client goredis.UniversalClient, prefix string, ttl time.Duration, log *logger.Logger) *Locker {
	if prefix == "" {
		prefix = "nimgraph"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		retry:  50 * time.Millisecond,
		log:    logger.OrNop(log).With("component", "checkpoint.redis.locker"),
	}
}

// Lock blocks until the thread lock is acquired or ctx is done.
func (l *Locker) Lock(ctx context.Context, threadID string) (func(), error) {
	key := l.prefix + ":lock:" + threadID
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock thread %s: %w", threadID, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock thread %s: %w", threadID, ctx.Err())
		case <-time.After(l.retry):
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(key, token, stop, done)

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-done
			// Release must happen even when the turn's context is cancelled.
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := unlockScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, goredis.Nil) {
				l.log.Warn("release thread lock failed", "thread_id", threadID, "error", err)
			}
		})
	}
	return release, nil
}

func (l *Locker) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			n, err := refreshScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.log.Warn("refresh thread lock failed", "key", key, "error", err)
			} else if n == 0 {
				l.log.Warn("thread lock lost", "key", key)
				return
			}
		}
	}
}
