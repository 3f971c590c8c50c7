package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	wfsqlite "github.com/cschleiden/go-workflows/backend/sqlite"
	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/worker"

	"github.com/polyhost/polyhost-server/internal/application"
	"github.com/polyhost/polyhost-server/internal/backend/dockerbackend"
	"github.com/polyhost/polyhost-server/internal/backend/nativebackend"
	"github.com/polyhost/polyhost-server/internal/config"
	"github.com/polyhost/polyhost-server/internal/domain"
	"github.com/polyhost/polyhost-server/internal/infrastructure/goworkflows"
	"github.com/polyhost/polyhost-server/internal/infrastructure/sqlite"
	"github.com/polyhost/polyhost-server/internal/infrastructure/syncworkflow"
	"github.com/polyhost/polyhost-server/internal/portalloc"
	"github.com/polyhost/polyhost-server/internal/registry"
	"github.com/polyhost/polyhost-server/internal/runtimes"
	"github.com/polyhost/polyhost-server/internal/workspace"
)

// app wires the orchestrator components together for the CLI. All
// registries are constructed here once and passed by reference.
type app struct {
	deploy    *application.DeployService
	lifecycle *application.LifecycleService
	instances *application.InstanceService

	db       *sql.DB
	registry *registry.Registry
	cancel   context.CancelFunc
	logger   *log.Logger
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "polyhost"})
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sqlite.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}

	repo := &sqlite.InstanceRepo{DB: db}
	instReg := registry.New(repo, logger)
	if err := instReg.Load(ctx); err != nil {
		db.Close()
		return nil, err
	}

	runtimeReg := runtimes.New(runtimes.DefaultCatalog(), logger)
	runtimeReg.Installer = &nativebackend.Installer{Logger: logger}

	backends := map[domain.BackendKind]domain.Backend{
		domain.BackendNative: nativebackend.New(logger),
	}
	var prober domain.EngineProber
	if docker, err := dockerbackend.New(logger); err != nil {
		logger.Warn("container engine client unavailable, native backend only", "err", err)
	} else {
		backends[domain.BackendContainer] = docker
		runtimeReg.Prober = docker
		runtimeReg.Puller = docker
		prober = docker
	}

	workspaces := workspace.New(cfg.WorkspaceDir())
	alloc := portalloc.New(instReg.LivePorts)

	wf := &domain.DeployWorkflow{
		Runtimes:   runtimeReg,
		Ports:      alloc,
		Workspaces: workspaces,
		Instances:  instReg,
		Backends:   backends,
		Prober:     prober,
	}

	engineCtx, cancel := context.WithCancel(context.Background())
	runner, err := buildRunner(engineCtx, cfg, wf)
	if err != nil {
		cancel()
		instReg.Close()
		db.Close()
		return nil, err
	}

	locks := application.NewInstanceLocks()
	deploySvc := &application.DeployService{
		Runner:   runner,
		Registry: instReg,
		Locks:    locks,
		Logger:   logger,
	}
	lifecycleSvc := &application.LifecycleService{
		Registry:   instReg,
		Backends:   backends,
		Runtimes:   runtimeReg,
		Workspaces: workspaces,
		Deployer:   deploySvc,
		Locks:      locks,
		Logger:     logger,
	}
	instanceSvc := &application.InstanceService{
		Registry: instReg,
		Runtimes: runtimeReg,
	}

	return &app{
		deploy:    deploySvc,
		lifecycle: lifecycleSvc,
		instances: instanceSvc,
		db:        db,
		registry:  instReg,
		cancel:    cancel,
		logger:    logger,
	}, nil
}

// buildRunner selects the workflow engine: synchronous in-process by
// default, go-workflows over a local store when durability is wanted.
func buildRunner(ctx context.Context, cfg config.Config, wf *domain.DeployWorkflow) (domain.DeployRunner, error) {
	if cfg.Engine == config.EngineSync {
		engine := &syncworkflow.Engine{}
		return engine.DeployRunner(wf)
	}

	b := wfsqlite.NewSqliteBackend(cfg.WorkflowStorePath())
	w := worker.New(b, nil)
	c := client.New(b)
	engine := &goworkflows.Engine{Worker: w, Client: c}
	runner, err := engine.DeployRunner(wf)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, fmt.Errorf("start workflow worker: %w", err)
	}
	return runner, nil
}

func (a *app) close() {
	a.cancel()
	a.registry.Close()
	a.db.Close()
}
