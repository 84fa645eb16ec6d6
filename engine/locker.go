package engine

import (
	"context"
	"sync"
)

// Locker serializes turns per thread. Lock blocks until the thread is free or
// ctx is done, and returns the function that releases it.
type Locker interface {
	Lock(ctx context.Context, threadID string) (release func(), err error)
}

// localLocker is a keyed mutex for a single process. Entries are reference
// counted and dropped once no turn holds or waits for them.
type localLocker struct {
	mu      sync.Mutex
	threads map[string]*threadLock
}

type threadLock struct {
	ch   chan struct{}
	refs int
}

func newLocalLocker() *localLocker {
	return &localLocker{threads: make(map[string]*threadLock)}
}

func (l *localLocker) Lock(ctx context.Context, threadID string) (func(), error) {
	l.mu.Lock()
	tl, ok := l.threads[threadID]
	if !ok {
		tl = &threadLock{ch: make(chan struct{}, 1)}
		l.threads[threadID] = tl
	}
	tl.refs++
	l.mu.Unlock()

	select {
	case tl.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(threadID, tl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-tl.ch
			l.unref(threadID, tl)
		})
	}, nil
}

func (l *localLocker) unref(threadID string, tl *threadLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tl.refs--
	if tl.refs == 0 {
		delete(l.threads, threadID)
	}
}
