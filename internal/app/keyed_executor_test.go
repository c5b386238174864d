package app

import (
	"sync"
	"testing"
)

func TestKeyedExecutorSerializesSameKey(t *testing.T) {
	executor := newKeyedExecutor()

	// A plain int is safe only if Do serializes access per key.
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			executor.Do("party-a", func() {
				counter++
			})
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Fatalf("expected 100 serialized increments, got %d", counter)
	}
}

func TestKeyedExecutorAllowsDifferentKeysConcurrently(t *testing.T) {
	executor := newKeyedExecutor()

	release := make(chan struct{})
	firstRunning := make(chan struct{})
	go executor.Do("party-a", func() {
		close(firstRunning)
		<-release
	})
	<-firstRunning

	// A different key must not wait for party-a's lock.
	done := make(chan struct{})
	go executor.Do("party-b", func() {
		close(done)
	})
	<-done
	close(release)
}

func TestKeyedExecutorDropsIdleLocks(t *testing.T) {
	executor := newKeyedExecutor()

	executor.Do("party-a", func() {})
	executor.Do("party-b", func() {})

	executor.mu.Lock()
	remaining := len(executor.locks)
	executor.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected the lock registry to be empty, found %d entries", remaining)
	}
}
