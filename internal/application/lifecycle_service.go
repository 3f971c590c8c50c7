package application

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/polyhost/polyhost-server/internal/domain"
)

// WorkspaceStore is the slice of the workspace manager the lifecycle
// service needs: reading stored source for restart and removing the
// workspace on delete.
type WorkspaceStore interface {
	ReadSource(id domain.InstanceID, entrypoint string) ([]byte, error)
	Remove(id domain.InstanceID) error
}

// LifecycleService handles all follow-up operations against a
// previously deployed instance: stop, restart, delete, log retrieval,
// and resource updates.
type LifecycleService struct {
	Registry   domain.InstanceRegistry
	Backends   map[domain.BackendKind]domain.Backend
	Runtimes   domain.RuntimeResolver
	Workspaces WorkspaceStore
	Deployer   *DeployService
	Locks      *InstanceLocks
	Logger     *log.Logger
}

// Stop transitions a running instance through stopping to stopped,
// invoking the backend's stop on the stored handle. Stopping an
// instance that holds no live process is a no-op, not an error.
func (s *LifecycleService) Stop(ctx context.Context, id domain.InstanceID) (domain.OperationResult, error) {
	unlock := s.Locks.Lock(id)
	defer unlock()
	return s.stopLocked(ctx, id)
}

func (s *LifecycleService) stopLocked(ctx context.Context, id domain.InstanceID) (domain.OperationResult, error) {
	inst, err := s.Registry.Get(id)
	if err != nil {
		return domain.OperationResult{}, err
	}
	// An instance stuck in stopping with a handle is a previous stop
	// whose backend call failed; it must stay stoppable, or the process
	// behind the handle can never be reached again.
	stoppable := inst.Status == domain.InstanceStatusRunning || inst.Status == domain.InstanceStatusStopping
	if !stoppable || inst.Handle.Empty() {
		return domain.OperationResult{Success: true, Message: fmt.Sprintf("instance %s is not running", id)}, nil
	}

	inst.Status = domain.InstanceStatusStopping
	inst.UpdatedAt = time.Now().UTC()
	if err := s.Registry.Put(ctx, inst); err != nil {
		return domain.OperationResult{}, err
	}

	backend, ok := s.Backends[inst.Backend]
	if !ok {
		return domain.OperationResult{}, fmt.Errorf("backend %q not configured", inst.Backend)
	}
	if err := backend.Stop(ctx, inst); err != nil {
		// Stay in stopping and keep the handle: the process is still
		// live, and a later Stop retries against it.
		inst.LastError = err.Error()
		inst.UpdatedAt = time.Now().UTC()
		_ = s.Registry.Put(ctx, inst)
		return domain.OperationResult{}, fmt.Errorf("stop instance %s: %w", id, err)
	}

	inst.Status = domain.InstanceStatusStopped
	inst.Handle = domain.BackendHandle{}
	inst.UpdatedAt = time.Now().UTC()
	if err := s.Registry.Put(ctx, inst); err != nil {
		return domain.OperationResult{}, err
	}

	s.Logger.Info("instance stopped", "instance", id)
	return domain.OperationResult{Success: true, Message: fmt.Sprintf("instance %s stopped", id)}, nil
}

// Restart stops the instance and re-runs the deployment pipeline from
// the preserved workspace. Owner, runtime, and environment are carried
// over; the port may change.
func (s *LifecycleService) Restart(ctx context.Context, id domain.InstanceID) (domain.DeploymentResult, error) {
	unlock := s.Locks.Lock(id)
	defer unlock()

	inst, err := s.Registry.Get(id)
	if err != nil {
		return domain.DeploymentResult{}, err
	}
	// stopLocked is a no-op for instances that hold no live process.
	if _, err := s.stopLocked(ctx, id); err != nil {
		return domain.DeploymentResult{}, err
	}

	def, err := s.Runtimes.Resolve(inst.Language, inst.Version)
	if err != nil {
		return domain.DeploymentResult{}, err
	}
	source, err := s.Workspaces.ReadSource(id, def.Entrypoint)
	if err != nil {
		return domain.DeploymentResult{}, fmt.Errorf("restart %s: %w", id, err)
	}

	return s.Deployer.deploy(ctx, domain.DeployInput{
		InstanceID: inst.ID,
		Owner:      inst.Owner,
		Language:   inst.Language,
		Version:    inst.Version,
		Source:     source,
		Env:        inst.Env,
		Limits:     inst.Limits,
	})
}

// Delete removes a stopped instance: registry entry and workspace.
// Deleting a live instance is refused; callers must stop first.
func (s *LifecycleService) Delete(ctx context.Context, id domain.InstanceID) (domain.OperationResult, error) {
	unlock := s.Locks.Lock(id)
	defer unlock()

	inst, err := s.Registry.Get(id)
	if err != nil {
		return domain.OperationResult{}, err
	}
	if inst.Status.Live() {
		return domain.OperationResult{}, fmt.Errorf("delete instance %s: %w", id, domain.ErrInstanceRunning)
	}

	if err := s.Workspaces.Remove(id); err != nil {
		return domain.OperationResult{}, err
	}
	if err := s.Registry.Remove(ctx, id); err != nil {
		return domain.OperationResult{}, err
	}

	s.Logger.Info("instance deleted", "instance", id)
	return domain.OperationResult{Success: true, Message: fmt.Sprintf("instance %s deleted", id)}, nil
}

// UpdateResources stores new limits and, where the backend supports it,
// applies them to the live instance. The container backend applies caps
// through the engine immediately; the native backend cannot, so the
// limits only take effect on the next restart and the response says so.
func (s *LifecycleService) UpdateResources(ctx context.Context, id domain.InstanceID, limits domain.ResourceLimits) (domain.OperationResult, error) {
	unlock := s.Locks.Lock(id)
	defer unlock()

	inst, err := s.Registry.Get(id)
	if err != nil {
		return domain.OperationResult{}, err
	}

	applied := false
	if inst.Status == domain.InstanceStatusRunning {
		if updater, ok := s.Backends[inst.Backend].(domain.ResourceUpdater); ok {
			if err := updater.UpdateResources(ctx, inst, limits); err != nil {
				return domain.OperationResult{}, fmt.Errorf("update resources for %s: %w", id, err)
			}
			applied = true
		}
	}

	inst.Limits = limits
	inst.UpdatedAt = time.Now().UTC()
	if err := s.Registry.Put(ctx, inst); err != nil {
		return domain.OperationResult{}, err
	}

	msg := fmt.Sprintf("resource limits for %s stored; they take effect on the next restart", id)
	if applied {
		msg = fmt.Sprintf("resource limits for %s applied to the running instance", id)
	}
	// No backend enforces disk caps; say so rather than let the caller
	// assume the cap is active.
	if limits.DiskMB > 0 {
		msg += "; disk caps are recorded but not enforced"
	}
	return domain.OperationResult{Success: true, Message: msg}, nil
}

// Logs returns up to lines recent log lines for an instance.
func (s *LifecycleService) Logs(ctx context.Context, id domain.InstanceID, lines int) ([]string, error) {
	inst, err := s.Registry.Get(id)
	if err != nil {
		return nil, err
	}
	backend, ok := s.Backends[inst.Backend]
	if !ok {
		return nil, fmt.Errorf("backend %q not configured", inst.Backend)
	}
	return backend.Logs(ctx, inst, lines)
}
