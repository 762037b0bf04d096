package usecase

import (
	"context"
	"fmt"
	"sync"
)

// ThreadLocker serializes work per conversation thread. Two messages in the
// same thread are handled one after the other; different threads proceed
// in parallel.
type ThreadLocker struct {
	mu    sync.Mutex
	slots map[string]*threadSlot
}

type threadSlot struct {
	sem     chan struct{}
	waiters int
}

func NewThreadLocker() *ThreadLocker {
	return &ThreadLocker{slots: make(map[string]*threadSlot)}
}

// Lock blocks until key is free or ctx is done. The returned func releases
// the lock and must be called exactly once.
func (l *ThreadLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &threadSlot{sem: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.waiters++
	l.mu.Unlock()

	select {
	case slot.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-slot.sem
				l.release(key, slot)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, slot)
		return nil, fmt.Errorf("thread lock %s: %w", key, ctx.Err())
	}
}

func (l *ThreadLocker) release(key string, slot *threadSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.waiters--
	if slot.waiters == 0 {
		delete(l.slots, key)
	}
}

// Active returns the number of threads currently held or waited on.
func (l *ThreadLocker) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
