package ledger

import (
	"sync"
	"testing"
	"time"
)

func TestKeyLocksSerializeSharedKeys(t *testing.T) {
	locks := newKeyLocks()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// every caller shares account:a, listed in different orders
			keys := []string{accountKey("a"), projectKey("p")}
			if i%2 == 0 {
				keys = []string{projectKey("p"), accountKey("a"), accountKey("a")}
			}
			unlock := locks.acquire(keys...)
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}(i)
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("holders of a shared key must not overlap; max concurrent=%d", maxSeen)
	}
	if n := locks.size(); n != 0 {
		t.Fatalf("released keys should be dropped; got=%d", n)
	}
}

func TestKeyLocksIndependentKeysDoNotBlock(t *testing.T) {
	locks := newKeyLocks()

	unlockA := locks.acquire(accountKey("a"))
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := locks.acquire(accountKey("b"))
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("acquiring an unrelated key blocked")
	}
}
