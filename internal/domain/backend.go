package domain

import "context"

// Backend is an execution strategy that turns a workspace plus a runtime
// definition into a running instance. The backend is selected once at
// deploy time and its kind is stored with the instance, so a later stop
// always dispatches to the backend that actually started it even if
// engine availability changes in between.
type Backend interface {
	Kind() BackendKind

	// Build prepares the instance for launch: the container backend
	// builds an image tagged by instance ID, the native backend installs
	// application dependencies when a manifest is present.
	Build(ctx context.Context, def RuntimeDefinition, inst ApplicationInstance) (BackendHandle, error)

	// Start launches the instance and waits for readiness. It returns
	// the completed handle (container ID or process group).
	Start(ctx context.Context, def RuntimeDefinition, inst ApplicationInstance, h BackendHandle) (BackendHandle, error)

	// Stop terminates the instance referenced by its stored handle.
	Stop(ctx context.Context, inst ApplicationInstance) error

	// Logs returns up to lines recent log lines for the instance.
	Logs(ctx context.Context, inst ApplicationInstance, lines int) ([]string, error)
}

// ResourceUpdater is implemented by backends that can apply new resource
// caps to a running instance without a restart.
type ResourceUpdater interface {
	UpdateResources(ctx context.Context, inst ApplicationInstance, limits ResourceLimits) error
}

// EngineProber reports whether the container engine is reachable. The
// probe drives backend selection and the install strategy; an
// unreachable engine means native fallback, not failure.
type EngineProber interface {
	Probe(ctx context.Context) bool
}
