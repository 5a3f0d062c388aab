package usecase

import "sync"

// AccountLocker serializes work per mailbox account within this process.
type AccountLocker struct {
	mu     sync.Mutex
	locked map[string]struct{}
}

func NewAccountLocker() *AccountLocker {
	return &AccountLocker{locked: make(map[string]struct{})}
}

// TryLock takes the lock for id without waiting. The returned func releases it.
func (l *AccountLocker) TryLock(id string) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.locked[id]; held {
		return nil, false
	}
	l.locked[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.locked, id)
			l.mu.Unlock()
		})
	}, true
}
