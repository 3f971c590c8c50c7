// Package dbosworkflows implements [domain.WorkflowEngine] using
// the DBOS Transact Go SDK.
package dbosworkflows

import (
	"context"
	"fmt"

	"github.com/dbos-inc/dbos-transact-golang/dbos"

	"github.com/polyhost/polyhost-server/internal/domain"
)

// activityInvoker calls RunAsStep with the correct concrete output type.
// Created at construction time when concrete types are known.
type activityInvoker func(ctx dbos.DBOSContext, in any) (any, error)

// Engine implements [domain.WorkflowEngine] backed by DBOS.
//
// The caller must call [dbos.Launch] after creating runners and before
// invoking them.
type Engine struct {
	DBOSCtx dbos.DBOSContext
}

func (e *Engine) DeployRunner(wf *domain.DeployWorkflow) (domain.DeployRunner, error) {
	invokers := make(map[string]activityInvoker)

	registerActivity(invokers, wf.ResolveRuntime())
	registerActivity(invokers, wf.EnsureInstalled())
	registerActivity(invokers, wf.AllocatePort())
	registerActivity(invokers, wf.ReleasePort())
	registerActivity(invokers, wf.MaterializeWorkspace())
	registerActivity(invokers, wf.SelectBackend())
	registerActivity(invokers, wf.RecordBuilding())
	registerActivity(invokers, wf.ProvisionInstance())
	registerActivity(invokers, wf.CommitRunning())
	registerActivity(invokers, wf.FailInstance())

	wfFunc := func(ctx dbos.DBOSContext, in domain.DeployInput) (domain.DeploymentResult, error) {
		runner := &durableRunner{ctx: ctx, invokers: invokers}
		return wf.Run(runner, in)
	}

	dbos.RegisterWorkflow(e.DBOSCtx, wfFunc, dbos.WithWorkflowName(wf.Name()))

	return &deployRunner{
		dbosCtx: e.DBOSCtx,
		wfFunc:  wfFunc,
	}, nil
}

// registerActivity creates a typed invoker that calls [dbos.RunAsStep]
// with the concrete output type O, ensuring correct JSON deserialization
// during workflow replay.
func registerActivity[I, O any](invokers map[string]activityInvoker, activity domain.Activity[I, O]) {
	invokers[activity.Name()] = func(ctx dbos.DBOSContext, in any) (any, error) {
		return dbos.RunAsStep(ctx, func(stepCtx context.Context) (O, error) {
			return activity.Run(stepCtx, in.(I))
		}, dbos.WithStepName(activity.Name()))
	}
}

type durableRunner struct {
	ctx      dbos.DBOSContext
	invokers map[string]activityInvoker
}

func (r *durableRunner) ID() string {
	id, _ := dbos.GetWorkflowID(r.ctx)
	return id
}

func (r *durableRunner) Context() context.Context {
	return r.ctx
}

func (r *durableRunner) Run(activity domain.Activity[any, any], in any) (any, error) {
	invoke, ok := r.invokers[activity.Name()]
	if !ok {
		return nil, fmt.Errorf("activity %q not registered", activity.Name())
	}
	return invoke(r.ctx, in)
}

type deployRunner struct {
	dbosCtx dbos.DBOSContext
	wfFunc  dbos.Workflow[domain.DeployInput, domain.DeploymentResult]
}

func (r *deployRunner) Run(ctx context.Context, in domain.DeployInput) (domain.WorkflowHandle[domain.DeploymentResult], error) {
	handle, err := dbos.RunWorkflow(r.dbosCtx, r.wfFunc, in)
	if err != nil {
		return nil, fmt.Errorf("run DBOS workflow: %w", err)
	}
	return &workflowHandle{handle: handle}, nil
}

type workflowHandle struct {
	handle dbos.WorkflowHandle[domain.DeploymentResult]
}

func (h *workflowHandle) WorkflowID() string {
	return h.handle.GetWorkflowID()
}

func (h *workflowHandle) AwaitResult(_ context.Context) (domain.DeploymentResult, error) {
	return h.handle.GetResult()
}
