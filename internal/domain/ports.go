package domain

import "context"

// RuntimeResolver resolves and installs runtime definitions.
type RuntimeResolver interface {
	// Resolve returns the definition for a (language, version) pair or
	// ErrRuntimeNotFound.
	Resolve(language, version string) (RuntimeDefinition, error)

	// EnsureInstalled makes the runtime usable and returns the updated
	// definition. Installation is idempotent: an already-installed
	// definition returns immediately with no side effects.
	EnsureInstalled(ctx context.Context, def RuntimeDefinition) (RuntimeDefinition, error)
}

// PortAllocator reserves TCP ports for new instances. Allocate inserts
// the returned port into a reserved set atomically with the free check,
// so two concurrent allocations can never race for the same port.
// Commit drops the reservation once the instance holding the port is
// recorded; Release drops it when the deployment fails first.
type PortAllocator interface {
	Allocate(preferred int) (int, error)
	Commit(port int)
	Release(port int)
}

// WorkspaceMaterializer creates the per-instance filesystem area.
type WorkspaceMaterializer interface {
	// Materialize writes the source payload and environment file for an
	// instance and returns the workspace path. Re-materializing an
	// existing instance overwrites, it does not duplicate.
	Materialize(id InstanceID, entrypoint string, source []byte, env map[string]string) (string, error)
}

// InstanceRegistry is the authoritative map of application instances.
// The in-memory view answers port-liveness queries for the allocator;
// writes flow through asynchronously to persistent storage.
type InstanceRegistry interface {
	Put(ctx context.Context, inst ApplicationInstance) error
	Get(id InstanceID) (ApplicationInstance, error)
	List() []ApplicationInstance
	ListByOwner(owner DomainID) []ApplicationInstance
	Remove(ctx context.Context, id InstanceID) error

	// LivePorts returns the ports held by instances in a live status
	// (building, running, stopping).
	LivePorts() map[int]bool
}
