package domain

import (
	"context"
	"fmt"
	"time"
)

// DeployInput is the input to the deployment pipeline. InstanceID is
// generated by the caller before the workflow starts so that replayed
// executions stay deterministic.
type DeployInput struct {
	InstanceID InstanceID
	Owner      DomainID
	Language   string
	Version    string
	Source     []byte
	Env        map[string]string
	Limits     ResourceLimits
}

// ResolveRuntimeInput identifies the runtime to resolve.
type ResolveRuntimeInput struct {
	Language string
	Version  string
}

// AllocatePortInput carries the preferred starting port.
type AllocatePortInput struct {
	Preferred int
}

// MaterializeInput describes the workspace to create.
type MaterializeInput struct {
	InstanceID InstanceID
	Entrypoint string
	Source     []byte
	Env        map[string]string
}

// ProvisionInput carries everything the backend needs to build and
// start an instance.
type ProvisionInput struct {
	Def      RuntimeDefinition
	Instance ApplicationInstance
}

// CommitInput records a successful provision.
type CommitInput struct {
	Instance ApplicationInstance
	Handle   BackendHandle
}

// FailInput records a failed provision.
type FailInput struct {
	Instance ApplicationInstance
	Reason   string
}

// DeployWorkflow is the provisioning pipeline: resolve the runtime,
// install it on demand, reserve a port, materialize the workspace,
// select a backend, and drive the instance from building to running.
// It is the single writer of instance status during provisioning; no
// other component transitions an instance out of building.
type DeployWorkflow struct {
	Runtimes   RuntimeResolver
	Ports      PortAllocator
	Workspaces WorkspaceMaterializer
	Instances  InstanceRegistry
	Backends   map[BackendKind]Backend
	Prober     EngineProber

	// Now is injectable for tests; nil means time.Now.
	Now func() time.Time
}

func (wf *DeployWorkflow) Name() string { return "deploy-instance" }

func (wf *DeployWorkflow) now() time.Time {
	if wf.Now != nil {
		return wf.Now()
	}
	return time.Now().UTC()
}

// ResolveRuntime looks the runtime up in the catalog.
func (wf *DeployWorkflow) ResolveRuntime() Activity[ResolveRuntimeInput, RuntimeDefinition] {
	return NewActivity("resolve-runtime", func(_ context.Context, in ResolveRuntimeInput) (RuntimeDefinition, error) {
		return wf.Runtimes.Resolve(in.Language, in.Version)
	})
}

// EnsureInstalled installs the runtime on demand and returns the
// updated definition. Idempotent.
func (wf *DeployWorkflow) EnsureInstalled() Activity[RuntimeDefinition, RuntimeDefinition] {
	return NewActivity("ensure-installed", func(ctx context.Context, def RuntimeDefinition) (RuntimeDefinition, error) {
		return wf.Runtimes.EnsureInstalled(ctx, def)
	})
}

// AllocatePort reserves a free port starting at the preferred one.
func (wf *DeployWorkflow) AllocatePort() Activity[AllocatePortInput, int] {
	return NewActivity("allocate-port", func(_ context.Context, in AllocatePortInput) (int, error) {
		return wf.Ports.Allocate(in.Preferred)
	})
}

// ReleasePort drops a reservation after a failure between allocation
// and the instance being recorded.
func (wf *DeployWorkflow) ReleasePort() Activity[int, struct{}] {
	return NewActivity("release-port", func(_ context.Context, port int) (struct{}, error) {
		wf.Ports.Release(port)
		return struct{}{}, nil
	})
}

// MaterializeWorkspace writes source and environment files.
func (wf *DeployWorkflow) MaterializeWorkspace() Activity[MaterializeInput, string] {
	return NewActivity("materialize-workspace", func(_ context.Context, in MaterializeInput) (string, error) {
		return wf.Workspaces.Materialize(in.InstanceID, in.Entrypoint, in.Source, in.Env)
	})
}

// SelectBackend picks the execution strategy: container when the engine
// is reachable, native otherwise. The choice is made once and stored on
// the instance.
func (wf *DeployWorkflow) SelectBackend() Activity[struct{}, BackendKind] {
	return NewActivity("select-backend", func(ctx context.Context, _ struct{}) (BackendKind, error) {
		if _, ok := wf.Backends[BackendContainer]; ok && wf.Prober != nil && wf.Prober.Probe(ctx) {
			return BackendContainer, nil
		}
		if _, ok := wf.Backends[BackendNative]; ok {
			return BackendNative, nil
		}
		return "", fmt.Errorf("%w: no execution backend configured", ErrBuild)
	})
}

// RecordBuilding registers the instance in building status and commits
// the port reservation, which the recorded instance now holds.
func (wf *DeployWorkflow) RecordBuilding() Activity[ApplicationInstance, ApplicationInstance] {
	return NewActivity("record-building", func(ctx context.Context, inst ApplicationInstance) (ApplicationInstance, error) {
		now := wf.now()
		inst.Status = InstanceStatusBuilding
		inst.CreatedAt = now
		inst.UpdatedAt = now
		if err := wf.Instances.Put(ctx, inst); err != nil {
			return ApplicationInstance{}, fmt.Errorf("record instance: %w", err)
		}
		wf.Ports.Commit(inst.Port)
		return inst, nil
	})
}

// ProvisionInstance runs the backend build and start steps.
func (wf *DeployWorkflow) ProvisionInstance() Activity[ProvisionInput, BackendHandle] {
	return NewActivity("provision-instance", func(ctx context.Context, in ProvisionInput) (BackendHandle, error) {
		backend, ok := wf.Backends[in.Instance.Backend]
		if !ok {
			return BackendHandle{}, fmt.Errorf("%w: backend %q not configured", ErrBuild, in.Instance.Backend)
		}
		h, err := backend.Build(ctx, in.Def, in.Instance)
		if err != nil {
			return BackendHandle{}, err
		}
		return backend.Start(ctx, in.Def, in.Instance, h)
	})
}

// CommitRunning transitions the instance to running with its handle.
func (wf *DeployWorkflow) CommitRunning() Activity[CommitInput, ApplicationInstance] {
	return NewActivity("commit-running", func(ctx context.Context, in CommitInput) (ApplicationInstance, error) {
		inst := in.Instance
		inst.Status = InstanceStatusRunning
		inst.Handle = in.Handle
		inst.LastError = ""
		if in.Handle.LogPath != "" {
			inst.LogPath = in.Handle.LogPath
		}
		inst.UpdatedAt = wf.now()
		if err := wf.Instances.Put(ctx, inst); err != nil {
			return ApplicationInstance{}, fmt.Errorf("commit instance: %w", err)
		}
		return inst, nil
	})
}

// FailInstance marks the instance with the provisioning error and frees
// its port.
func (wf *DeployWorkflow) FailInstance() Activity[FailInput, struct{}] {
	return NewActivity("fail-instance", func(ctx context.Context, in FailInput) (struct{}, error) {
		inst := in.Instance
		inst.Status = InstanceStatusError
		inst.Handle = BackendHandle{}
		inst.LastError = in.Reason
		inst.UpdatedAt = wf.now()
		if err := wf.Instances.Put(ctx, inst); err != nil {
			return struct{}{}, fmt.Errorf("mark instance failed: %w", err)
		}
		wf.Ports.Release(inst.Port)
		return struct{}{}, nil
	})
}

// Run executes the pipeline. Failures before the instance is recorded
// abort without side effects beyond a released reservation; failures
// after leave the instance in error status with its message retained.
func (wf *DeployWorkflow) Run(runner DurableRunner, in DeployInput) (DeploymentResult, error) {
	def, err := RunActivity(runner, wf.ResolveRuntime(), ResolveRuntimeInput{
		Language: in.Language,
		Version:  in.Version,
	})
	if err != nil {
		return failure(in.InstanceID, err), err
	}

	def, err = RunActivity(runner, wf.EnsureInstalled(), def)
	if err != nil {
		return failure(in.InstanceID, err), err
	}

	port, err := RunActivity(runner, wf.AllocatePort(), AllocatePortInput{Preferred: def.DefaultPort})
	if err != nil {
		return failure(in.InstanceID, err), err
	}

	path, err := RunActivity(runner, wf.MaterializeWorkspace(), MaterializeInput{
		InstanceID: in.InstanceID,
		Entrypoint: def.Entrypoint,
		Source:     in.Source,
		Env:        in.Env,
	})
	if err != nil {
		_, _ = RunActivity(runner, wf.ReleasePort(), port)
		return failure(in.InstanceID, err), err
	}

	kind, err := RunActivity(runner, wf.SelectBackend(), struct{}{})
	if err != nil {
		_, _ = RunActivity(runner, wf.ReleasePort(), port)
		return failure(in.InstanceID, err), err
	}

	inst := ApplicationInstance{
		ID:            in.InstanceID,
		Owner:         in.Owner,
		Language:      in.Language,
		Version:       in.Version,
		Port:          port,
		Limits:        in.Limits,
		Env:           in.Env,
		Backend:       kind,
		WorkspacePath: path,
	}

	inst, err = RunActivity(runner, wf.RecordBuilding(), inst)
	if err != nil {
		_, _ = RunActivity(runner, wf.ReleasePort(), port)
		return failure(in.InstanceID, err), err
	}

	handle, err := RunActivity(runner, wf.ProvisionInstance(), ProvisionInput{Def: def, Instance: inst})
	if err != nil {
		_, _ = RunActivity(runner, wf.FailInstance(), FailInput{Instance: inst, Reason: err.Error()})
		res := failure(in.InstanceID, err)
		res.Port = port
		return res, err
	}

	inst, err = RunActivity(runner, wf.CommitRunning(), CommitInput{Instance: inst, Handle: handle})
	if err != nil {
		_, _ = RunActivity(runner, wf.FailInstance(), FailInput{Instance: inst, Reason: err.Error()})
		return failure(in.InstanceID, err), err
	}

	return DeploymentResult{
		Success:    true,
		Message:    fmt.Sprintf("instance running on port %d (%s backend)", inst.Port, inst.Backend),
		InstanceID: inst.ID,
		Port:       inst.Port,
	}, nil
}

func failure(id InstanceID, err error) DeploymentResult {
	return DeploymentResult{Success: false, Message: err.Error(), InstanceID: id}
}
