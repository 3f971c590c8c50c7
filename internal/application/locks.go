package application

import (
	"sync"

	"github.com/polyhost/polyhost-server/internal/domain"
)

// InstanceLocks serializes operations per instance ID, so a stop and a
// concurrent restart of the same instance cannot interleave while
// operations on different instances proceed fully in parallel.
type InstanceLocks struct {
	mu    sync.Mutex
	locks map[domain.InstanceID]*sync.Mutex
}

func NewInstanceLocks() *InstanceLocks {
	return &InstanceLocks{locks: make(map[domain.InstanceID]*sync.Mutex)}
}

// Lock acquires the lock for an instance and returns its unlock func.
func (l *InstanceLocks) Lock(id domain.InstanceID) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
