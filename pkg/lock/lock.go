// Package lock serialises stock writers per (branch, material) key before
// their database transaction opens.
package lock

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotObtained is returned when a key stays held until ctx is done.
var ErrNotObtained = errors.New("lock not obtained")

// Locker acquires every key or none. Keys are taken in sorted order so two
// callers locking overlapping sets cannot deadlock. The returned release
// func is safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (func(), error)
}

// StockKey names the lock guarding one branch quantity cell.
func StockKey(branchID, materialID string) string {
	return "stock:" + branchID + ":" + materialID
}

func sortedUnique(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Local is an in-process keyed mutex. It only serialises writers inside
// one replica; use Redis when the service is scaled out.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocal creates an empty in-process locker
func NewLocal() *Local {
	return &Local{slots: map[string]*slot{}}
}

// Acquire implements Locker
func (l *Local) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = sortedUnique(keys)
	held := make([]string, 0, len(keys))

	for _, k := range keys {
		if err := l.lock(ctx, k); err != nil {
			l.unlockAll(held)
			return nil, err
		}
		held = append(held, k)
	}

	var once sync.Once
	return func() { once.Do(func() { l.unlockAll(held) }) }, nil
}

func (l *Local) lock(ctx context.Context, key string) error {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		l.drop(key, s)
		l.mu.Unlock()
		return ErrNotObtained
	}
}

func (l *Local) unlockAll(keys []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := len(keys) - 1; i >= 0; i-- {
		s := l.slots[keys[i]]
		<-s.ch
		l.drop(keys[i], s)
	}
}

// drop must be called with mu held.
func (l *Local) drop(key string, s *slot) {
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
