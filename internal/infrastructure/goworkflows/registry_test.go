package goworkflows_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/cschleiden/go-workflows/backend"
	wfsqlite "github.com/cschleiden/go-workflows/backend/sqlite"
	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/worker"

	"github.com/polyhost/polyhost-server/internal/application"
	"github.com/polyhost/polyhost-server/internal/domain"
	"github.com/polyhost/polyhost-server/internal/infrastructure/goworkflows"
	"github.com/polyhost/polyhost-server/internal/infrastructure/sqlite"
	"github.com/polyhost/polyhost-server/internal/portalloc"
	"github.com/polyhost/polyhost-server/internal/registry"
	"github.com/polyhost/polyhost-server/internal/runtimes"
	"github.com/polyhost/polyhost-server/internal/workspace"
)

func startWorker(t *testing.T, b backend.Backend) *worker.Worker {
	t.Helper()
	w := worker.New(b, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = w.WaitForCompletion()
	})
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start worker: %v", err)
	}
	return w
}

// fakeBackend fabricates handles so the durable pipeline can run without
// a container engine or real processes.
type fakeBackend struct{}

func (fakeBackend) Kind() domain.BackendKind { return domain.BackendNative }

func (fakeBackend) Build(_ context.Context, _ domain.RuntimeDefinition, _ domain.ApplicationInstance) (domain.BackendHandle, error) {
	return domain.BackendHandle{Kind: domain.BackendNative}, nil
}

func (fakeBackend) Start(_ context.Context, _ domain.RuntimeDefinition, _ domain.ApplicationInstance, h domain.BackendHandle) (domain.BackendHandle, error) {
	h.PID = 4242
	return h, nil
}

func (fakeBackend) Stop(_ context.Context, _ domain.ApplicationInstance) error { return nil }

func (fakeBackend) Logs(_ context.Context, _ domain.ApplicationInstance, _ int) ([]string, error) {
	return nil, nil
}

func TestDeploy_GoWorkflows(t *testing.T) {
	b := wfsqlite.NewInMemoryBackend()
	w := startWorker(t, b)
	c := client.New(b)

	logger := log.New(io.Discard)
	db := sqlite.OpenTestDB(t)
	instReg := registry.New(&sqlite.InstanceRepo{DB: db}, logger)
	t.Cleanup(instReg.Close)

	runtimeReg := runtimes.New(runtimes.DefaultCatalog(), logger)
	for _, def := range runtimeReg.List() {
		runtimeReg.MarkInstalled(def.Language, def.Version)
	}

	wf := &domain.DeployWorkflow{
		Runtimes:   runtimeReg,
		Ports:      portalloc.New(instReg.LivePorts),
		Workspaces: workspace.New(t.TempDir()),
		Instances:  instReg,
		Backends:   map[domain.BackendKind]domain.Backend{domain.BackendNative: fakeBackend{}},
	}

	engine := &goworkflows.Engine{Worker: w, Client: c, Timeout: 10 * time.Second}
	runner, err := engine.DeployRunner(wf)
	if err != nil {
		t.Fatalf("DeployRunner: %v", err)
	}

	deploySvc := &application.DeployService{
		Runner:   runner,
		Registry: instReg,
		Locks:    application.NewInstanceLocks(),
		Logger:   logger,
	}

	result, err := deploySvc.Deploy(context.Background(), domain.DeployInput{
		Owner:    "dom1",
		Language: "nodejs",
		Version:  "20",
		Source:   []byte("console.log('hi')"),
	})
	if err != nil {
		t.Fatalf("Deploy: %v (%s)", err, result.Message)
	}
	if !result.Success {
		t.Fatalf("result.Success = false, message %q", result.Message)
	}

	inst, err := instReg.Get(result.InstanceID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if inst.Status != domain.InstanceStatusRunning {
		t.Errorf("Status = %q, want running", inst.Status)
	}
	if inst.Handle.PID != 4242 {
		t.Errorf("Handle.PID = %d, want 4242", inst.Handle.PID)
	}
}

func TestDeploy_GoWorkflows_Failure(t *testing.T) {
	b := wfsqlite.NewInMemoryBackend()
	w := startWorker(t, b)
	c := client.New(b)

	logger := log.New(io.Discard)
	db := sqlite.OpenTestDB(t)
	instReg := registry.New(&sqlite.InstanceRepo{DB: db}, logger)
	t.Cleanup(instReg.Close)

	wf := &domain.DeployWorkflow{
		Runtimes:   runtimes.New(nil, logger),
		Ports:      portalloc.New(instReg.LivePorts),
		Workspaces: workspace.New(t.TempDir()),
		Instances:  instReg,
		Backends:   map[domain.BackendKind]domain.Backend{domain.BackendNative: fakeBackend{}},
	}

	engine := &goworkflows.Engine{Worker: w, Client: c, Timeout: 10 * time.Second}
	runner, err := engine.DeployRunner(wf)
	if err != nil {
		t.Fatalf("DeployRunner: %v", err)
	}

	handle, err := runner.Run(context.Background(), domain.DeployInput{
		InstanceID: "i1",
		Language:   "nodejs",
		Version:    "20",
		Source:     []byte("x"),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The empty catalog cannot resolve any runtime; the durable engine
	// surfaces the failure as a workflow error.
	if _, err := handle.AwaitResult(context.Background()); err == nil {
		t.Fatal("AwaitResult: expected error for unknown runtime")
	}
	if got := instReg.List(); len(got) != 0 {
		t.Errorf("failed deploy must not record an instance, got %d", len(got))
	}
}
