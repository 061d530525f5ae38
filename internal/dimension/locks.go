package dimension

import (
	"context"
	"sync"

	"github.com/spaolacci/murmur3"
)

// KeyedLocks serializes work per key. Every key gets its own lock; the shard
// table only guards the bookkeeping, so distinct keys never block each other
// beyond a map lookup. Entries are reference counted and dropped when idle.
type KeyedLocks struct {
	shards []lockShard
}

type lockShard struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewKeyedLocks creates a lock table with n shards.
func NewKeyedLocks(n int) *KeyedLocks {
	if n < 1 {
		n = 1
	}
	kl := &KeyedLocks{shards: make([]lockShard, n)}
	for i := range kl.shards {
		kl.shards[i].locks = make(map[string]*keyLock)
	}
	return kl
}

func (kl *KeyedLocks) shard(key string) *lockShard {
	return &kl.shards[murmur3.Sum32([]byte(key))%uint32(len(kl.shards))]
}

// Lock acquires the lock for key, or returns ctx.Err() if ctx ends first.
// On success the returned func releases the lock.
func (kl *KeyedLocks) Lock(ctx context.Context, key string) (func(), error) {
	sh := kl.shard(key)

	sh.mu.Lock()
	l, ok := sh.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		sh.locks[key] = l
	}
	l.refs++
	sh.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		kl.unref(sh, key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			kl.unref(sh, key, l)
		})
	}, nil
}

func (kl *KeyedLocks) unref(sh *lockShard, key string, l *keyLock) {
	sh.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(sh.locks, key)
	}
	sh.mu.Unlock()
}

// Len returns the number of keys currently held or awaited.
func (kl *KeyedLocks) Len() int {
	n := 0
	for i := range kl.shards {
		sh := &kl.shards[i]
		sh.mu.Lock()
		n += len(sh.locks)
		sh.mu.Unlock()
	}
	return n
}
