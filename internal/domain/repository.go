package domain

import "context"

// InstanceRepository persists and retrieves application instances. The
// registry's write-through worker is its primary caller; failure to
// persist does not roll back a started instance, but the registry marks
// it with the error instead of leaving it silently untracked.
type InstanceRepository interface {
	Create(ctx context.Context, inst ApplicationInstance) error
	Get(ctx context.Context, id InstanceID) (ApplicationInstance, error)
	List(ctx context.Context) ([]ApplicationInstance, error)
	ListByOwner(ctx context.Context, owner DomainID) ([]ApplicationInstance, error)

	// Put inserts or updates by instance ID.
	Put(ctx context.Context, inst ApplicationInstance) error

	Delete(ctx context.Context, id InstanceID) error
}
