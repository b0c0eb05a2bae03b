package clustermanager

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/williamhogman/aggregate-lb/aggregator/internal/upstream"
)

var (
	// ErrClusterNotFound is returned when removing a cluster that is not registered
	ErrClusterNotFound = errors.New("cluster not found")
)

// ClusterUpdateCallbacks observes clusters entering and leaving the registry
type ClusterUpdateCallbacks interface {
	// OnClusterAddOrUpdate is called after cluster is visible through Get
	OnClusterAddOrUpdate(cluster *upstream.Cluster)
	// OnClusterRemoval is called while the cluster is still visible through Get
	OnClusterRemoval(name string)
}

// CallbackHandle unregisters callbacks added with AddClusterUpdateCallbacks
type CallbackHandle struct {
	manager *Manager
	id      uint64
}

// Remove stops further notifications. It is safe to call more than once.
func (h *CallbackHandle) Remove() {
	h.manager.mu.Lock()
	defer h.manager.mu.Unlock()
	delete(h.manager.callbacks, h.id)
}

// Manager is the registry of live clusters. Mutations and their notifications are
// serialized, so callbacks observe changes in the order they were made. Callbacks must
// not add or remove clusters themselves.
type Manager struct {
	logger *zap.Logger

	// opMu serializes mutations together with their callbacks
	opMu sync.Mutex

	mu        sync.RWMutex
	clusters  map[string]*upstream.Cluster
	callbacks map[uint64]ClusterUpdateCallbacks
	nextID    uint64
}

// New creates an empty cluster manager
func New(logger *zap.Logger) *Manager {
	return &Manager{
		logger:    logger.Named("cluster-manager"),
		clusters:  make(map[string]*upstream.Cluster),
		callbacks: make(map[uint64]ClusterUpdateCallbacks),
	}
}

// AddOrUpdateCluster registers cluster, replacing any cluster with the same name
func (m *Manager) AddOrUpdateCluster(cluster *upstream.Cluster) error {
	if cluster == nil {
		return fmt.Errorf("add cluster: %w", upstream.ErrEmptyClusterName)
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	_, existed := m.clusters[cluster.Name()]
	m.clusters[cluster.Name()] = cluster
	m.mu.Unlock()

	m.logger.Info("Cluster added or updated",
		zap.String("cluster", cluster.Name()),
		zap.Bool("existed", existed),
		zap.String("policy", string(cluster.LoadBalancer().Policy())))

	for _, cb := range m.snapshotCallbacks() {
		cb.OnClusterAddOrUpdate(cluster)
	}
	return nil
}

// RemoveCluster notifies callbacks and then drops the cluster from the registry
func (m *Manager) RemoveCluster(name string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if _, ok := m.Get(name); !ok {
		return fmt.Errorf("remove %s: %w", name, ErrClusterNotFound)
	}

	for _, cb := range m.snapshotCallbacks() {
		cb.OnClusterRemoval(name)
	}

	m.mu.Lock()
	delete(m.clusters, name)
	m.mu.Unlock()

	m.logger.Info("Cluster removed", zap.String("cluster", name))
	return nil
}

// Get resolves a cluster name to its live handle
func (m *Manager) Get(name string) (*upstream.Cluster, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clusters[name]
	return c, ok
}

// Names returns the registered cluster names in sorted order
func (m *Manager) Names() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.clusters))
	for name := range m.clusters {
		names = append(names, name)
	}
	m.mu.RUnlock()

	sort.Strings(names)
	return names
}

// AddClusterUpdateCallbacks registers cb for every later add, update and removal. It
// waits for an in-flight mutation to finish, so a cluster Get resolves after it returns
// either stays registered or is reported to cb when it goes. It must not be called from
// a callback.
func (m *Manager) AddClusterUpdateCallbacks(cb ClusterUpdateCallbacks) *CallbackHandle {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.callbacks[id] = cb
	return &CallbackHandle{manager: m, id: id}
}

// snapshotCallbacks returns the registered callbacks in registration order
func (m *Manager) snapshotCallbacks() []ClusterUpdateCallbacks {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]uint64, 0, len(m.callbacks))
	for id := range m.callbacks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	cbs := make([]ClusterUpdateCallbacks, len(ids))
	for i, id := range ids {
		cbs[i] = m.callbacks[id]
	}
	return cbs
}
