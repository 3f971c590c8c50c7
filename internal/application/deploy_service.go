package application

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/polyhost/polyhost-server/internal/domain"
)

// DeployService turns deployment requests into running instances by
// driving the deployment workflow through the configured engine.
type DeployService struct {
	Runner   domain.DeployRunner
	Registry domain.InstanceRegistry
	Locks    *InstanceLocks
	Logger   *log.Logger
}

// Deploy validates the request, assigns an instance ID, and runs the
// deployment pipeline. The per-instance lock is held for the duration
// so concurrent operations against the same ID serialize; there is no
// global lock, and distinct deployments run in parallel.
func (s *DeployService) Deploy(ctx context.Context, in domain.DeployInput) (domain.DeploymentResult, error) {
	if in.Language == "" || in.Version == "" {
		return domain.DeploymentResult{}, fmt.Errorf("%w: language and version are required", domain.ErrInvalidArgument)
	}
	if len(in.Source) == 0 {
		return domain.DeploymentResult{}, fmt.Errorf("%w: source payload is required", domain.ErrInvalidArgument)
	}
	if in.InstanceID == "" {
		in.InstanceID = domain.InstanceID(uuid.NewString())
	}

	unlock := s.Locks.Lock(in.InstanceID)
	defer unlock()
	return s.deploy(ctx, in)
}

// deploy runs the pipeline without taking the instance lock; the
// lifecycle service calls it while already holding the lock (restart).
func (s *DeployService) deploy(ctx context.Context, in domain.DeployInput) (domain.DeploymentResult, error) {
	handle, err := s.Runner.Run(ctx, in)
	if err != nil {
		return domain.DeploymentResult{}, fmt.Errorf("start deploy workflow: %w", err)
	}

	result, err := handle.AwaitResult(ctx)
	if err != nil {
		s.Logger.Warn("deploy failed", "instance", in.InstanceID, "language", in.Language, "version", in.Version, "err", err)
		if result.Message == "" {
			result = domain.DeploymentResult{Success: false, Message: err.Error(), InstanceID: in.InstanceID}
		}
		return result, err
	}

	s.Logger.Info("deploy succeeded", "instance", result.InstanceID, "port", result.Port)
	return result, nil
}
