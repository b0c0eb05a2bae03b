package persistence

import (
	"context"

	cluster "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
)

// ClusterUpdate announces a change to a stored member cluster
type ClusterUpdate struct {
	Name    string
	Removed bool
}

// UpdateHandler receives cluster update notifications
type UpdateHandler func(ctx context.Context, update ClusterUpdate)

// Store defines the interface for the member cluster store
type Store interface {
	// PutCluster stores or replaces a member cluster and announces the change
	PutCluster(ctx context.Context, c *cluster.Cluster) error

	// GetCluster returns the stored cluster or ErrNotFound
	GetCluster(ctx context.Context, name string) (*cluster.Cluster, error)

	// DeleteCluster removes a member cluster and announces the removal.
	// Returns ErrNotFound if nothing was stored under name.
	DeleteCluster(ctx context.Context, name string) error

	// ListClusterNames returns the names of all stored clusters, sorted
	ListClusterNames(ctx context.Context) ([]string, error)

	// SubscribeToClusterUpdates delivers update notifications to handler until ctx is
	// cancelled or the returned stop function is called. It returns once the
	// subscription is active.
	SubscribeToClusterUpdates(ctx context.Context, handler UpdateHandler) (stop func(), err error)

	// Close cleans up resources used by the store
	Close() error
}
