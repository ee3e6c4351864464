package metadata

import "sync"

// keyLocks hands out one mutex per work item key.
// Entries are never evicted; a run touches a bounded set of keys.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*sync.Mutex)}
}

func (k *keyLocks) lock(key string) {
	k.get(key).Lock()
}

func (k *keyLocks) unlock(key string) {
	k.get(key).Unlock()
}

func (k *keyLocks) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()

	if mu, ok := k.locks[key]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	k.locks[key] = mu
	return mu
}
