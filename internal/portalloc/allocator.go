// Package portalloc finds free TCP ports for new instances. Allocation
// is reserve-then-commit: the free check and the reservation happen
// under one lock, so concurrent deployments can never be handed the
// same port between the check and the instance being recorded.
package portalloc

import (
	"fmt"
	"net"
	"sync"

	"github.com/polyhost/polyhost-server/internal/domain"
)

// maxAttempts bounds the scan from the preferred port.
const maxAttempts = 100

// Allocator implements [domain.PortAllocator]. Candidates are excluded
// when held by a live instance, already reserved by a concurrent
// allocation, or in use per the host socket table.
type Allocator struct {
	mu       sync.Mutex
	reserved map[int]bool

	// livePorts returns the ports currently held by live instances;
	// wired to the instance registry.
	livePorts func() map[int]bool

	// probe reports whether the host port is free. Overridable in tests.
	probe func(port int) bool
}

// New creates an allocator consulting livePorts for instance-held ports.
func New(livePorts func() map[int]bool) *Allocator {
	return &Allocator{
		reserved:  make(map[int]bool),
		livePorts: livePorts,
		probe:     probeListen,
	}
}

// Allocate returns the first free port at or above preferred and
// reserves it. The caller must Commit once the instance holding the
// port is recorded, or Release if the deployment fails first.
func (a *Allocator) Allocate(preferred int) (int, error) {
	if preferred <= 0 {
		return 0, fmt.Errorf("%w: preferred port %d", domain.ErrInvalidArgument, preferred)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	live := a.livePorts()
	for i := 0; i < maxAttempts; i++ {
		port := preferred + i
		if port > 65535 {
			break
		}
		if a.reserved[port] || live[port] {
			continue
		}
		if !a.probe(port) {
			continue
		}
		a.reserved[port] = true
		return port, nil
	}
	return 0, fmt.Errorf("%w: no free port in [%d, %d]", domain.ErrNoPortAvailable, preferred, preferred+maxAttempts-1)
}

// Commit drops the reservation for a port now held by a recorded
// instance. Committing an unreserved port is a no-op.
func (a *Allocator) Commit(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.reserved, port)
}

// Release drops the reservation for a port whose deployment failed
// before the instance reached running.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.reserved, port)
}

// Reserved reports whether a port is currently reserved.
func (a *Allocator) Reserved(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reserved[port]
}

func probeListen(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}
