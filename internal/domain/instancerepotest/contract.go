// Package instancerepotest provides contract tests for
// [domain.InstanceRepository] implementations.
package instancerepotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/polyhost/polyhost-server/internal/domain"
)

// Factory creates a fresh [domain.InstanceRepository] for each test.
type Factory func(t *testing.T) domain.InstanceRepository

// Run exercises the [domain.InstanceRepository] contract.
func Run(t *testing.T, factory Factory) {
	sampleInstance := func() domain.ApplicationInstance {
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		return domain.ApplicationInstance{
			ID:            "i1",
			Owner:         "dom1",
			Language:      "nodejs",
			Version:       "20",
			Port:          3000,
			Status:        domain.InstanceStatusBuilding,
			Limits:        domain.ResourceLimits{MemoryMB: 256, CPUMilli: 500},
			Env:           map[string]string{"NODE_ENV": "production"},
			Backend:       domain.BackendNative,
			WorkspacePath: "/data/workspaces/i1",
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		inst := sampleInstance()

		if err := repo.Create(ctx, inst); err != nil {
			t.Fatalf("Create: %v", err)
		}

		got, err := repo.Get(ctx, "i1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Owner != "dom1" {
			t.Errorf("Owner = %q, want dom1", got.Owner)
		}
		if got.Status != domain.InstanceStatusBuilding {
			t.Errorf("Status = %q, want building", got.Status)
		}
		if got.Limits.MemoryMB != 256 {
			t.Errorf("Limits.MemoryMB = %d, want 256", got.Limits.MemoryMB)
		}
		if got.Env["NODE_ENV"] != "production" {
			t.Errorf("Env = %v, want NODE_ENV=production", got.Env)
		}
		if !got.Handle.Empty() {
			t.Error("building instance must round-trip with an empty handle")
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Create(ctx, sampleInstance())
		err := repo.Create(ctx, sampleInstance())
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("second Create: got %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Get(context.Background(), "nonexistent")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get: got %v, want ErrNotFound", err)
		}
	})

	t.Run("PutUpserts", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		inst := sampleInstance()

		// Put on a fresh ID inserts.
		if err := repo.Put(ctx, inst); err != nil {
			t.Fatalf("Put (insert): %v", err)
		}

		// Put on an existing ID updates in place.
		inst.Status = domain.InstanceStatusRunning
		inst.Handle = domain.BackendHandle{Kind: domain.BackendNative, PID: 4242, LogPath: "/data/workspaces/i1/app.log"}
		inst.UpdatedAt = inst.UpdatedAt.Add(time.Second)
		if err := repo.Put(ctx, inst); err != nil {
			t.Fatalf("Put (update): %v", err)
		}

		got, err := repo.Get(ctx, "i1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status != domain.InstanceStatusRunning {
			t.Errorf("Status after Put = %q, want running", got.Status)
		}
		if got.Handle.PID != 4242 {
			t.Errorf("Handle.PID = %d, want 4242", got.Handle.PID)
		}
		list, _ := repo.List(ctx)
		if len(list) != 1 {
			t.Fatalf("List after double Put: got %d, want 1", len(list))
		}
	})

	t.Run("ListOrderedByCreation", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		first := sampleInstance()
		second := sampleInstance()
		second.ID = "i2"
		second.CreatedAt = first.CreatedAt.Add(time.Minute)
		second.UpdatedAt = second.CreatedAt
		_ = repo.Create(ctx, second)
		_ = repo.Create(ctx, first)

		got, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("List: got %d, want 2", len(got))
		}
		if got[0].ID != "i1" || got[1].ID != "i2" {
			t.Errorf("List order = [%s %s], want [i1 i2]", got[0].ID, got[1].ID)
		}
	})

	t.Run("ListByOwner", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		mine := sampleInstance()
		other := sampleInstance()
		other.ID = "i2"
		other.Owner = "dom2"
		_ = repo.Create(ctx, mine)
		_ = repo.Create(ctx, other)

		got, err := repo.ListByOwner(ctx, "dom1")
		if err != nil {
			t.Fatalf("ListByOwner: %v", err)
		}
		if len(got) != 1 || got[0].ID != "i1" {
			t.Fatalf("ListByOwner: got %v, want just i1", got)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Create(ctx, sampleInstance())
		if err := repo.Delete(ctx, "i1"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		_, err := repo.Get(ctx, "i1")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get after Delete: got %v, want ErrNotFound", err)
		}
	})

	t.Run("DeleteNotFound", func(t *testing.T) {
		repo := factory(t)
		err := repo.Delete(context.Background(), "nonexistent")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Delete: got %v, want ErrNotFound", err)
		}
	})
}
