// Package lock provides per-key in-process locking. The ledger does not rely
// on it for correctness; job runners use it to coalesce a firing that
// overlaps an instance already running in the same process.
package lock

import "sync"

// KeyLock provides one mutex per string key. Entries are never evicted, so
// keys should come from a bounded set such as registered job names.
type KeyLock struct {
	locks sync.Map // map[string]*sync.Mutex
}

// NewKeyLock creates a new KeyLock instance.
func NewKeyLock() *KeyLock {
	return &KeyLock{}
}

func (kl *KeyLock) mutex(key string) *sync.Mutex {
	if v, ok := kl.locks.Load(key); ok {
		return v.(*sync.Mutex)
	}
	actual, _ := kl.locks.LoadOrStore(key, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// TryLock attempts to acquire the lock for key without blocking.
func (kl *KeyLock) TryLock(key string) bool {
	return kl.mutex(key).TryLock()
}

// Unlock releases the lock for key. Unknown keys are a no-op; unlocking a
// known key that is not held panics like sync.Mutex.
func (kl *KeyLock) Unlock(key string) {
	if v, ok := kl.locks.Load(key); ok {
		v.(*sync.Mutex).Unlock()
	}
}

// WithTryLock runs fn only if the lock for key is free. The boolean reports
// whether fn ran.
func (kl *KeyLock) WithTryLock(key string, fn func() error) (bool, error) {
	if !kl.TryLock(key) {
		return false, nil
	}
	defer kl.Unlock(key)
	return true, fn()
}
