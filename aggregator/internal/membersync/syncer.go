package membersync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/williamhogman/aggregate-lb/aggregator/internal/clustermanager"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/persistence"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/upstream"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/xds"
)

// Syncer mirrors the member clusters of the store into the cluster manager
type Syncer struct {
	store      persistence.Store
	reconciler *xds.Reconciler
	logger     *zap.Logger

	// mu serializes updates so a lookup and the following mutation see the same cluster
	mu sync.Mutex
}

// NewSyncer creates a syncer. defaultFactor applies to load assignments without an
// overprovisioning factor.
func NewSyncer(store persistence.Store, manager *clustermanager.Manager, opts upstream.Options, defaultFactor uint32, logger *zap.Logger) *Syncer {
	return &Syncer{
		store:      store,
		reconciler: xds.NewReconciler(manager, opts, defaultFactor),
		logger:     logger.Named("member-sync"),
	}
}

// Run subscribes to store notifications and then loads every stored cluster. The
// returned function stops the subscription.
func (s *Syncer) Run(ctx context.Context) (func(), error) {
	stop, err := s.store.SubscribeToClusterUpdates(ctx, s.handle)
	if err != nil {
		return nil, err
	}

	if err := s.LoadInitial(ctx); err != nil {
		stop()
		return nil, err
	}
	return stop, nil
}

// LoadInitial applies every cluster currently in the store
func (s *Syncer) LoadInitial(ctx context.Context) error {
	names, err := s.store.ListClusterNames(ctx)
	if err != nil {
		return fmt.Errorf("failed to load member clusters: %w", err)
	}

	s.logger.Info("Loading member clusters from store", zap.Strings("clusters", names))
	for _, name := range names {
		s.handle(ctx, persistence.ClusterUpdate{Name: name})
	}
	return nil
}

func (s *Syncer) handle(ctx context.Context, update persistence.ClusterUpdate) {
	if err := s.HandleUpdate(ctx, update); err != nil {
		s.logger.Error("Failed to apply cluster update",
			zap.String("cluster", update.Name),
			zap.Bool("removed", update.Removed),
			zap.Error(err))
	}
}

// HandleUpdate applies one store notification to the cluster manager. Clusters that are
// missing from the store or cannot be translated are removed from the manager.
func (s *Syncer) HandleUpdate(ctx context.Context, update persistence.ClusterUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if update.Removed {
		s.logger.Info("Removing member cluster", zap.String("cluster", update.Name))
		return s.reconciler.Remove(update.Name)
	}

	resource, err := s.store.GetCluster(ctx, update.Name)
	if errors.Is(err, persistence.ErrNotFound) {
		return s.reconciler.Remove(update.Name)
	}
	if err != nil {
		return err
	}

	replaced, err := s.reconciler.Apply(resource)
	if err != nil {
		return err
	}
	if replaced {
		s.logger.Info("Added member cluster", zap.String("cluster", update.Name))
	} else {
		s.logger.Debug("Updated member cluster hosts", zap.String("cluster", update.Name))
	}
	return nil
}
