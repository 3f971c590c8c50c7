package domain

import "errors"

var (
	// ErrNotFound indicates that a requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that a resource with the same identity
	// already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates that a caller-provided value violates
	// a precondition.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrRuntimeNotFound indicates that no registered runtime matches the
	// requested language and version.
	ErrRuntimeNotFound = errors.New("runtime not found")

	// ErrInstallationFailed indicates that a runtime could not be
	// installed: the image pull or the host dependency install failed.
	ErrInstallationFailed = errors.New("installation failed")

	// ErrNoPortAvailable indicates that the port allocator exhausted its
	// attempts without finding a free port.
	ErrNoPortAvailable = errors.New("no port available")

	// ErrBuild indicates a backend build or start failure. The instance
	// exists and carries the error message.
	ErrBuild = errors.New("build failed")

	// ErrDeploymentTimeout indicates that a started instance did not
	// become ready within the readiness window.
	ErrDeploymentTimeout = errors.New("deployment timed out")

	// ErrInstanceRunning indicates an operation that requires a stopped
	// instance was attempted against a running one.
	ErrInstanceRunning = errors.New("instance is running")
)
