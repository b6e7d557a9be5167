package ledger

import (
	"sort"
	"sync"
)

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// keyLocks hands out one mutex per key (account, project or funding record)
// so that unrelated operations never wait on each other. Entries are dropped
// once no goroutine holds or waits for them.
type keyLocks struct {
	mapMu sync.Mutex // protects muMap itself
	muMap map[string]*keyLock
}

func newKeyLocks() *keyLocks {
	return &keyLocks{muMap: make(map[string]*keyLock)}
}

// acquire locks every key in sorted order to avoid deadlocks between
// operations that share more than one key. The returned func releases them.
func (l *keyLocks) acquire(keys ...string) func() {
	sorted := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	held := make([]*keyLock, 0, len(sorted))
	for _, k := range sorted {
		kl := l.ref(k)
		kl.mu.Lock()
		held = append(held, kl)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			l.unref(sorted[i])
		}
	}
}

func (l *keyLocks) ref(key string) *keyLock {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()

	kl, ok := l.muMap[key]
	if !ok {
		kl = &keyLock{}
		l.muMap[key] = kl
	}
	kl.refs++
	return kl
}

func (l *keyLocks) unref(key string) {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()

	kl := l.muMap[key]
	kl.refs--
	if kl.refs == 0 {
		delete(l.muMap, key)
	}
}

func (l *keyLocks) size() int {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()
	return len(l.muMap)
}

func accountKey(id string) string { return "account:" + id }
func projectKey(id string) string { return "project:" + id }
func fundingKey(id string) string { return "funding:" + id }
func requestKey(id string) string { return "request:" + id }
