/**
 * @description
 * Per-key serialization for session mutations. Every externally triggered
 * operation on a party's session (inbound message, provider callback, retry,
 * sweeper compensation) runs under that party's lock, so concurrent triggers
 * for the same party execute one at a time while different parties proceed
 * in parallel.
 *
 * Locks are refcounted and dropped when the last holder releases, so the
 * registry never grows with the number of parties ever seen.
 *
 * @dependencies
 * - sync: Standard Go library.
 */

package app

import "sync"

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// keyedExecutor serializes functions per key.
type keyedExecutor struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

func newKeyedExecutor() *keyedExecutor {
	return &keyedExecutor{locks: make(map[string]*keyedLock)}
}

// Do runs fn while holding the lock for key. Nested Do calls for the same
// key deadlock; callers must acquire at most once per operation.
func (e *keyedExecutor) Do(key string, fn func()) {
	e.mu.Lock()
	lock, ok := e.locks[key]
	if !ok {
		lock = &keyedLock{}
		e.locks[key] = lock
	}
	lock.refs++
	e.mu.Unlock()

	lock.mu.Lock()
	defer func() {
		lock.mu.Unlock()
		e.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(e.locks, key)
		}
		e.mu.Unlock()
	}()

	fn()
}
