package xds

import (
	"errors"

	cluster "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"

	"github.com/williamhogman/aggregate-lb/aggregator/internal/clustermanager"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/upstream"
)

// Reconciler applies Envoy cluster resources to the cluster manager
type Reconciler struct {
	manager       *clustermanager.Manager
	opts          upstream.Options
	defaultFactor uint32
}

func NewReconciler(manager *clustermanager.Manager, opts upstream.Options, defaultFactor uint32) *Reconciler {
	return &Reconciler{
		manager:       manager,
		opts:          opts,
		defaultFactor: defaultFactor,
	}
}

// Apply makes the manager hold c. A live cluster balanced by the same policy gets its
// hosts replaced in place, anything else is translated and swapped in. A resource that
// cannot be translated removes the cluster.
func (r *Reconciler) Apply(c *cluster.Cluster) (replaced bool, err error) {
	if existing, ok := r.manager.Get(c.GetName()); ok && SamePolicy(existing, c) {
		if err := ApplyLoadAssignment(existing, c.GetLoadAssignment(), r.defaultFactor); err != nil {
			return false, errors.Join(err, r.Remove(c.GetName()))
		}
		return false, nil
	}

	member, err := TranslateCluster(c, r.opts, r.defaultFactor)
	if err != nil {
		if c.GetName() == "" {
			return false, err
		}
		return false, errors.Join(err, r.Remove(c.GetName()))
	}
	if err := r.manager.AddOrUpdateCluster(member); err != nil {
		return false, err
	}
	return true, nil
}

// Remove drops the cluster from the manager. Unknown clusters are already absent.
func (r *Reconciler) Remove(name string) error {
	err := r.manager.RemoveCluster(name)
	if errors.Is(err, clustermanager.ErrClusterNotFound) {
		return nil
	}
	return err
}
