package lock

import (
	"context"
	"sync"
	"time"
)

const numShards = 128

// Sharded is the in-process Locker. Keys hash onto a fixed set of shards that
// guard the table of held keys; each key still has its own slot, so a holder
// may take a second, different key without blocking on itself.
type Sharded struct {
	shards  [numShards]shard
	timeout time.Duration
}

type shard struct {
	mu   sync.Mutex
	held map[string]*slot
}

// slot is one key's lock. refs counts the holder and waiters so the entry is
// dropped once nobody needs it.
type slot struct {
	ch   chan struct{}
	refs int
}

// NewSharded returns a Sharded locker whose waits are bounded by timeout when
// the caller sets no deadline.
func NewSharded(timeout time.Duration) *Sharded {
	s := &Sharded{timeout: timeout}
	for i := range s.shards {
		s.shards[i].held = make(map[string]*slot)
	}
	return s
}

func (s *Sharded) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return lockAborted(err)
	}
	ctx, cancel := withDefaultTimeout(ctx, s.timeout)
	defer cancel()

	sh := &s.shards[hashKey(key)%numShards]
	sl := sh.join(key)
	defer sh.leave(key, sl)

	select {
	case sl.ch <- struct{}{}:
	case <-ctx.Done():
		return lockAborted(ctx.Err())
	}
	defer func() { <-sl.ch }()

	// check again after acquiring
	if err := ctx.Err(); err != nil {
		return lockAborted(err)
	}
	return fn(ctx)
}

func (sh *shard) join(key string) *slot {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sl, ok := sh.held[key]
	if !ok {
		sl = &slot{ch: make(chan struct{}, 1)}
		sh.held[key] = sl
	}
	sl.refs++
	return sl
}

func (sh *shard) leave(key string, sl *slot) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sl.refs--
	if sl.refs == 0 {
		delete(sh.held, key)
	}
}

// hashKey is FNV-1a.
func hashKey(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
