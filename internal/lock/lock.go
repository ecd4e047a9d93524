// Package lock provides exclusive per-key locks acquired in a fixed global
// order with a bounded wait.
package lock

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrTimeout is returned when a lock could not be acquired before the context ended.
var ErrTimeout = errors.New("lock wait timed out")

// Locker acquires exclusive access to a set of keys. Keys are locked in
// ascending order so two callers locking the same pair never deadlock.
// The returned release func is safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (release func(), err error)
}

// orderKeys sorts and de-duplicates keys.
func orderKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type slot struct {
	ch   chan struct{}
	refs int
}

// Memory is an in-process Locker. Slots are reference counted and dropped
// once no goroutine holds or waits on them.
type Memory struct {
	mu    sync.Mutex
	slots map[string]*slot
}

func NewMemory() *Memory {
	return &Memory{slots: make(map[string]*slot)}
}

func (m *Memory) Acquire(ctx context.Context, keys ...string) (func(), error) {
	ordered := orderKeys(keys)
	held := make([]string, 0, len(ordered))

	for _, k := range ordered {
		s := m.ref(k)
		select {
		case s.ch <- struct{}{}:
			held = append(held, k)
		case <-ctx.Done():
			m.unref(k)
			m.release(held)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrTimeout
			}
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() { once.Do(func() { m.release(held) }) }, nil
}

func (m *Memory) ref(key string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	return s
}

func (m *Memory) unref(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.slots[key]
	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
}

// release unlocks in reverse acquisition order.
func (m *Memory) release(held []string) {
	for i := len(held) - 1; i >= 0; i-- {
		m.mu.Lock()
		s := m.slots[held[i]]
		m.mu.Unlock()
		<-s.ch
		m.unref(held[i])
	}
}

// size is the number of live slots; used by tests.
func (m *Memory) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}
