package application

import (
	"github.com/polyhost/polyhost-server/internal/domain"
)

// RuntimeLister exposes the runtime catalog.
type RuntimeLister interface {
	List() []domain.RuntimeDefinition
}

// InstanceService answers instance and runtime queries for callers
// (REST layer, CLI, or test harness).
type InstanceService struct {
	Registry domain.InstanceRegistry
	Runtimes RuntimeLister
}

// Get returns an instance by ID or ErrNotFound.
func (s *InstanceService) Get(id domain.InstanceID) (domain.ApplicationInstance, error) {
	return s.Registry.Get(id)
}

// List returns all instances.
func (s *InstanceService) List() []domain.ApplicationInstance {
	return s.Registry.List()
}

// ListByOwner returns the instances belonging to one domain.
func (s *InstanceService) ListByOwner(owner domain.DomainID) []domain.ApplicationInstance {
	return s.Registry.ListByOwner(owner)
}

// ListRuntimes returns the runtime catalog.
func (s *InstanceService) ListRuntimes() []domain.RuntimeDefinition {
	return s.Runtimes.List()
}
