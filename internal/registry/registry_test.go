package registry_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/polyhost/polyhost-server/internal/domain"
	"github.com/polyhost/polyhost-server/internal/registry"
)

// memRepo is an in-memory InstanceRepository with injectable failures.
type memRepo struct {
	mu     sync.Mutex
	m      map[domain.InstanceID]domain.ApplicationInstance
	putErr error
}

func newMemRepo() *memRepo {
	return &memRepo{m: make(map[domain.InstanceID]domain.ApplicationInstance)}
}

func (r *memRepo) Create(_ context.Context, inst domain.ApplicationInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[inst.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.m[inst.ID] = inst
	return nil
}

func (r *memRepo) Put(_ context.Context, inst domain.ApplicationInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.putErr != nil {
		return r.putErr
	}
	r.m[inst.ID] = inst
	return nil
}

func (r *memRepo) Get(_ context.Context, id domain.InstanceID) (domain.ApplicationInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.m[id]
	if !ok {
		return domain.ApplicationInstance{}, domain.ErrNotFound
	}
	return inst, nil
}

func (r *memRepo) List(_ context.Context) ([]domain.ApplicationInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ApplicationInstance, 0, len(r.m))
	for _, inst := range r.m {
		out = append(out, inst)
	}
	return out, nil
}

func (r *memRepo) ListByOwner(_ context.Context, owner domain.DomainID) ([]domain.ApplicationInstance, error) {
	all, _ := r.List(context.Background())
	var out []domain.ApplicationInstance
	for _, inst := range all {
		if inst.Owner == owner {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (r *memRepo) Delete(_ context.Context, id domain.InstanceID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.m, id)
	return nil
}

func (r *memRepo) setPutErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putErr = err
}

func newTestRegistry(t *testing.T, repo domain.InstanceRepository) *registry.Registry {
	t.Helper()
	r := registry.New(repo, log.New(io.Discard))
	t.Cleanup(r.Close)
	return r
}

func sampleInstance(id domain.InstanceID, status domain.InstanceStatus, port int) domain.ApplicationInstance {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return domain.ApplicationInstance{
		ID:        id,
		Owner:     "dom1",
		Language:  "nodejs",
		Version:   "20",
		Port:      port,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestPut_WritesThroughToRepository(t *testing.T) {
	repo := newMemRepo()
	reg := newTestRegistry(t, repo)

	inst := sampleInstance("i1", domain.InstanceStatusRunning, 3000)
	if err := reg.Put(context.Background(), inst); err != nil {
		t.Fatalf("Put: %v", err)
	}
	reg.Flush()

	stored, err := repo.Get(context.Background(), "i1")
	if err != nil {
		t.Fatalf("repo.Get: %v", err)
	}
	if stored.Status != domain.InstanceStatusRunning {
		t.Errorf("stored Status = %q, want running", stored.Status)
	}
}

func TestPut_RequiresID(t *testing.T) {
	reg := newTestRegistry(t, newMemRepo())
	err := reg.Put(context.Background(), domain.ApplicationInstance{})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("Put: got %v, want ErrInvalidArgument", err)
	}
}

func TestPersistenceFailureMarksInstanceError(t *testing.T) {
	repo := newMemRepo()
	reg := newTestRegistry(t, repo)
	repo.setPutErr(errors.New("disk full"))

	inst := sampleInstance("i1", domain.InstanceStatusRunning, 3000)
	if err := reg.Put(context.Background(), inst); err != nil {
		t.Fatalf("Put: %v", err)
	}
	reg.Flush()

	got, err := reg.Get("i1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.InstanceStatusError {
		t.Errorf("Status = %q, want error after persistence failure", got.Status)
	}
	if got.LastError == "" {
		t.Error("LastError must record the persistence failure")
	}
}

func TestPersistenceFailureSkipsStalerWrites(t *testing.T) {
	repo := newMemRepo()
	reg := newTestRegistry(t, repo)
	repo.setPutErr(errors.New("disk full"))

	inst := sampleInstance("i1", domain.InstanceStatusRunning, 3000)
	if err := reg.Put(context.Background(), inst); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// A newer write lands before the failed persist is noticed; the
	// stale failure must not clobber it.
	repo.setPutErr(nil)
	newer := inst
	newer.Status = domain.InstanceStatusStopped
	newer.UpdatedAt = inst.UpdatedAt.Add(time.Second)
	if err := reg.Put(context.Background(), newer); err != nil {
		t.Fatalf("second Put: %v", err)
	}
	reg.Flush()

	got, _ := reg.Get("i1")
	if got.Status == domain.InstanceStatusError {
		t.Error("stale persistence failure must not override a newer write")
	}
}

func TestLoad_RehydratesLiveInstancesAsStopped(t *testing.T) {
	repo := newMemRepo()
	running := sampleInstance("i1", domain.InstanceStatusRunning, 3000)
	running.Handle = domain.BackendHandle{Kind: domain.BackendNative, PID: 4242}
	stopped := sampleInstance("i2", domain.InstanceStatusStopped, 3001)
	_ = repo.Put(context.Background(), running)
	_ = repo.Put(context.Background(), stopped)

	reg := newTestRegistry(t, repo)
	if err := reg.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	got, err := reg.Get("i1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.InstanceStatusStopped {
		t.Errorf("rehydrated live instance Status = %q, want stopped", got.Status)
	}
	if !got.Handle.Empty() {
		t.Error("rehydrated instance must not keep a stale handle")
	}

	if got, _ := reg.Get("i2"); got.Status != domain.InstanceStatusStopped {
		t.Errorf("stopped instance Status = %q, want stopped", got.Status)
	}
}

func TestLivePorts(t *testing.T) {
	reg := newTestRegistry(t, newMemRepo())
	ctx := context.Background()

	_ = reg.Put(ctx, sampleInstance("i1", domain.InstanceStatusRunning, 3000))
	_ = reg.Put(ctx, sampleInstance("i2", domain.InstanceStatusBuilding, 3001))
	_ = reg.Put(ctx, sampleInstance("i3", domain.InstanceStatusStopped, 3002))
	_ = reg.Put(ctx, sampleInstance("i4", domain.InstanceStatusError, 3003))

	ports := reg.LivePorts()
	if !ports[3000] || !ports[3001] {
		t.Errorf("LivePorts = %v, must include building and running ports", ports)
	}
	if ports[3002] || ports[3003] {
		t.Errorf("LivePorts = %v, must exclude stopped and error ports", ports)
	}
}

func TestRemove(t *testing.T) {
	repo := newMemRepo()
	reg := newTestRegistry(t, repo)
	ctx := context.Background()

	_ = reg.Put(ctx, sampleInstance("i1", domain.InstanceStatusStopped, 3000))
	reg.Flush()

	if err := reg.Remove(ctx, "i1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	reg.Flush()

	if _, err := reg.Get("i1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get after Remove: got %v, want ErrNotFound", err)
	}
	if _, err := repo.Get(ctx, "i1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("repo.Get after Remove: got %v, want ErrNotFound", err)
	}

	if err := reg.Remove(ctx, "i1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second Remove: got %v, want ErrNotFound", err)
	}
}

func TestMutationAfterCloseIsDropped(t *testing.T) {
	repo := newMemRepo()
	reg := registry.New(repo, log.New(io.Discard))
	ctx := context.Background()

	if err := reg.Put(ctx, sampleInstance("i1", domain.InstanceStatusStopped, 3000)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	reg.Close()

	// Mutations after Close must not panic; the in-memory map still
	// updates, the write-through is dropped.
	if err := reg.Put(ctx, sampleInstance("i2", domain.InstanceStatusStopped, 3001)); err != nil {
		t.Fatalf("Put after Close: %v", err)
	}
	if _, err := reg.Get("i2"); err != nil {
		t.Errorf("Get after Close: %v", err)
	}
	if _, err := repo.Get(ctx, "i2"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("repo.Get: got %v, want ErrNotFound for a dropped write", err)
	}

	if err := reg.Remove(ctx, "i1"); err != nil {
		t.Fatalf("Remove after Close: %v", err)
	}

	// Close is idempotent.
	reg.Close()
}

func TestList_OrderedByCreation(t *testing.T) {
	reg := newTestRegistry(t, newMemRepo())
	ctx := context.Background()

	second := sampleInstance("i2", domain.InstanceStatusStopped, 3001)
	second.CreatedAt = second.CreatedAt.Add(time.Minute)
	_ = reg.Put(ctx, second)
	_ = reg.Put(ctx, sampleInstance("i1", domain.InstanceStatusStopped, 3000))

	list := reg.List()
	if len(list) != 2 || list[0].ID != "i1" || list[1].ID != "i2" {
		t.Fatalf("List order = %v, want [i1 i2]", list)
	}
}
