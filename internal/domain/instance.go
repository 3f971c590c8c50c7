package domain

import "time"

// InstanceID identifies a deployed application instance.
type InstanceID string

// DomainID references the owning domain. It is an opaque foreign key;
// this core performs no validation of domain existence.
type DomainID string

// InstanceStatus indicates where an instance is in its lifecycle.
type InstanceStatus string

const (
	InstanceStatusBuilding InstanceStatus = "building"
	InstanceStatusRunning  InstanceStatus = "running"
	InstanceStatusStopping InstanceStatus = "stopping"
	InstanceStatusStopped  InstanceStatus = "stopped"
	InstanceStatusError    InstanceStatus = "error"
)

// Live reports whether an instance in this status holds its port.
func (s InstanceStatus) Live() bool {
	switch s {
	case InstanceStatusBuilding, InstanceStatusRunning, InstanceStatusStopping:
		return true
	}
	return false
}

// BackendKind identifies the execution strategy that runs an instance.
type BackendKind string

const (
	BackendContainer BackendKind = "container"
	BackendNative    BackendKind = "native"
)

// ResourceLimits caps an instance's resource usage. Zero values mean
// unlimited.
type ResourceLimits struct {
	MemoryMB int
	CPUMilli int
	DiskMB   int
}

// BackendHandle references whatever the backend started: a container ID
// for the container backend, a process group for the native backend.
// The handle is set if and only if the instance is running or stopping,
// and stop always targets it directly.
type BackendHandle struct {
	Kind        BackendKind
	ImageTag    string
	ContainerID string
	PID         int

	// LogPath is set by the native backend: the workspace file the
	// detached process writes its output to.
	LogPath string
}

// Empty reports whether the handle references nothing startable.
func (h BackendHandle) Empty() bool {
	return h.ContainerID == "" && h.PID == 0
}

// ApplicationInstance is one deployed copy of a user's application.
// Instances are owned by the instance registry and mutated only through
// the deployment pipeline and the lifecycle service.
type ApplicationInstance struct {
	ID       InstanceID
	Owner    DomainID
	Language string
	Version  string
	Port     int
	Status   InstanceStatus
	Limits   ResourceLimits
	Env      map[string]string
	Backend  BackendKind

	WorkspacePath string
	LogPath       string
	Handle        BackendHandle
	LastError     string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DeploymentResult is the synchronous outcome of a deploy call. It is
// not persisted.
type DeploymentResult struct {
	Success    bool
	Message    string
	InstanceID InstanceID
	Port       int
}

// OperationResult is the outcome of a lifecycle operation.
type OperationResult struct {
	Success bool
	Message string
}
