package services

import "sync"

// jobLocks allows one orchestration per job id.
type jobLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newJobLocks() *jobLocks {
	return &jobLocks{held: make(map[string]struct{})}
}

func (l *jobLocks) TryLock(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[id]; ok {
		return false
	}
	l.held[id] = struct{}{}
	return true
}

func (l *jobLocks) Unlock(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, id)
}

func (l *jobLocks) Held(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[id]
	return ok
}
