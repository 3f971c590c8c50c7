// Package registry holds the authoritative in-memory map of application
// instances, with asynchronous write-through to persistent storage for
// durability across restarts.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/polyhost/polyhost-server/internal/domain"
)

// persistTimeout bounds each write-through operation.
const persistTimeout = 5 * time.Second

type persistJob struct {
	inst   domain.ApplicationInstance
	remove bool
}

// Registry implements [domain.InstanceRegistry]. The in-memory map is
// authoritative for lookups and port-liveness queries; every mutation
// is also queued for the write-through worker. A persistence failure
// does not roll back the in-memory state, but the affected instance is
// marked error rather than left silently untracked.
type Registry struct {
	mu        sync.RWMutex
	instances map[domain.InstanceID]domain.ApplicationInstance

	repo   domain.InstanceRepository
	logger *log.Logger

	jobs    chan persistJob
	pending sync.WaitGroup
	closed  bool
	once    sync.Once
}

// New creates a registry writing through to repo and starts its worker.
func New(repo domain.InstanceRepository, logger *log.Logger) *Registry {
	r := &Registry{
		instances: make(map[domain.InstanceID]domain.ApplicationInstance),
		repo:      repo,
		logger:    logger,
		jobs:      make(chan persistJob, 64),
	}
	go r.persistLoop()
	return r
}

// Load hydrates the in-memory map from storage. Instances that were
// live when the process last exited come back stopped: their backend
// handles reference processes and containers that no longer exist.
func (r *Registry) Load(ctx context.Context) error {
	stored, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("load instances: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inst := range stored {
		if inst.Status.Live() {
			inst.Status = domain.InstanceStatusStopped
			inst.Handle = domain.BackendHandle{}
		}
		r.instances[inst.ID] = inst
	}
	return nil
}

// Put stores an instance and queues it for persistence.
func (r *Registry) Put(_ context.Context, inst domain.ApplicationInstance) error {
	if inst.ID == "" {
		return fmt.Errorf("%w: instance ID is required", domain.ErrInvalidArgument)
	}

	r.mu.Lock()
	r.instances[inst.ID] = inst
	r.mu.Unlock()

	r.enqueue(persistJob{inst: inst})
	return nil
}

// Get returns an instance by ID.
func (r *Registry) Get(id domain.InstanceID) (domain.ApplicationInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.instances[id]
	if !ok {
		return domain.ApplicationInstance{}, fmt.Errorf("instance %q: %w", id, domain.ErrNotFound)
	}
	return inst, nil
}

// List returns all instances ordered by creation time.
func (r *Registry) List() []domain.ApplicationInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ApplicationInstance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	sortInstances(out)
	return out
}

// ListByOwner returns the instances belonging to one domain.
func (r *Registry) ListByOwner(owner domain.DomainID) []domain.ApplicationInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.ApplicationInstance
	for _, inst := range r.instances {
		if inst.Owner == owner {
			out = append(out, inst)
		}
	}
	sortInstances(out)
	return out
}

// Remove deletes an instance from the map and queues the delete.
func (r *Registry) Remove(_ context.Context, id domain.InstanceID) error {
	r.mu.Lock()
	inst, ok := r.instances[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("instance %q: %w", id, domain.ErrNotFound)
	}
	delete(r.instances, id)
	r.mu.Unlock()

	r.enqueue(persistJob{inst: inst, remove: true})
	return nil
}

// LivePorts returns the set of ports held by live instances. The
// allocator consults this set; it never owns instances itself.
func (r *Registry) LivePorts() map[int]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ports := make(map[int]bool)
	for _, inst := range r.instances {
		if inst.Status.Live() {
			ports[inst.Port] = true
		}
	}
	return ports
}

// Flush blocks until all queued writes have been attempted.
func (r *Registry) Flush() {
	r.pending.Wait()
}

// Close drains the queue and stops the worker. Mutations after Close
// still update the in-memory map but are no longer written through.
func (r *Registry) Close() {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		r.Flush()
		close(r.jobs)
	})
}

func (r *Registry) enqueue(job persistJob) {
	// closed and pending are coordinated under mu: any job that passes
	// this check is counted before Close's Flush can return, so the
	// worker consumes it before the channel closes.
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Warn("registry closed, dropping write-through", "instance", job.inst.ID)
		return
	}
	r.pending.Add(1)
	r.mu.Unlock()
	r.jobs <- job
}

func (r *Registry) persistLoop() {
	for job := range r.jobs {
		r.persist(job)
		r.pending.Done()
	}
}

func (r *Registry) persist(job persistJob) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	var err error
	if job.remove {
		err = r.repo.Delete(ctx, job.inst.ID)
	} else {
		err = r.repo.Put(ctx, job.inst)
	}
	if err == nil {
		return
	}

	r.logger.Error("instance write-through failed", "instance", job.inst.ID, "err", err)
	if job.remove {
		return
	}

	// The instance may be live but undurable; surface that as an error
	// state instead of leaving it untracked after a process restart.
	r.mu.Lock()
	if inst, ok := r.instances[job.inst.ID]; ok && inst.UpdatedAt.Equal(job.inst.UpdatedAt) {
		inst.Status = domain.InstanceStatusError
		inst.LastError = fmt.Sprintf("persistence failed: %v", err)
		r.instances[job.inst.ID] = inst
	}
	r.mu.Unlock()
}

func sortInstances(list []domain.ApplicationInstance) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}
