package aggregate

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/williamhogman/aggregate-lb/aggregator/internal/clustermanager"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/threadlocal"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/upstream"
)

// InitializePhase orders cluster initialization
type InitializePhase int

const (
	InitializePhasePrimary InitializePhase = iota
	// InitializePhaseSecondary clusters initialize after the clusters they depend on
	InitializePhaseSecondary
)

// ClusterRegistry resolves member clusters and reports their arrival and removal
type ClusterRegistry interface {
	Get(name string) (*upstream.Cluster, bool)
	AddClusterUpdateCallbacks(cb clustermanager.ClusterUpdateCallbacks) *clustermanager.CallbackHandle
}

// Options configures an aggregate cluster
type Options struct {
	Name string
	// Members in failover order
	Members []string
	Random  upstream.RandomGenerator
	Stats   Stats
}

func (o Options) validate() error {
	if len(o.Members) == 0 {
		return ErrNoMembers
	}
	seen := make(map[string]struct{}, len(o.Members))
	for _, m := range o.Members {
		if m == o.Name {
			return fmt.Errorf("%w: %s", ErrSelfMember, m)
		}
		if _, ok := seen[m]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateMember, m)
		}
		seen[m] = struct{}{}
	}
	return nil
}

// Cluster is the control-plane side of an aggregate cluster. It relinearizes the member
// clusters on every topology change and publishes the result to the load balancer of
// every worker.
type Cluster struct {
	name      string
	members   []string
	memberSet map[string]struct{}
	registry  ClusterRegistry
	random    upstream.RandomGenerator
	stats     Stats
	logger    *zap.Logger

	tls      *threadlocal.Slot[LoadBalancer]
	threadLB *ThreadAwareLoadBalancer
	current  atomic.Pointer[PriorityContext]

	// mu serializes refreshes and guards the fields below
	mu            sync.Mutex
	version       uint64
	subscriptions map[string]func()
	observers     []func(*PriorityContext)
	handle        *clustermanager.CallbackHandle
}

var _ clustermanager.ClusterUpdateCallbacks = (*Cluster)(nil)

// NewCluster creates the aggregate cluster and a load balancer slot on every worker of
// instance. Nothing is selectable before Initialize.
func NewCluster(opts Options, registry ClusterRegistry, instance *threadlocal.Instance, logger *zap.Logger) (*Cluster, error) {
	if opts.Name == "" {
		return nil, upstream.ErrEmptyClusterName
	}
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("aggregate cluster %s: %w", opts.Name, err)
	}
	if opts.Stats == nil {
		opts.Stats = NopStats{}
	}

	c := &Cluster{
		name:          opts.Name,
		members:       append([]string(nil), opts.Members...),
		memberSet:     make(map[string]struct{}, len(opts.Members)),
		registry:      registry,
		random:        opts.Random,
		stats:         opts.Stats,
		logger:        logger.Named("aggregate").With(zap.String("aggregate", opts.Name)),
		tls:           threadlocal.NewSlot[LoadBalancer](instance),
		subscriptions: make(map[string]func()),
	}
	for _, m := range c.members {
		c.memberSet[m] = struct{}{}
	}
	c.current.Store(newPriorityContext(0))
	c.threadLB = &ThreadAwareLoadBalancer{factory: &LoadBalancerFactory{cluster: c}}

	factory := c.threadLB.Factory()
	c.tls.Set(func(*threadlocal.Dispatcher) *LoadBalancer {
		return factory.Create()
	})
	return c, nil
}

// Name returns the aggregate cluster name
func (c *Cluster) Name() string {
	return c.name
}

// Members returns the configured member clusters in failover order
func (c *Cluster) Members() []string {
	return append([]string(nil), c.members...)
}

// InitializePhase is secondary: the aggregate depends on its member clusters
func (c *Cluster) InitializePhase() InitializePhase {
	return InitializePhaseSecondary
}

// ThreadAwareLoadBalancer returns the handle workers use to build their load balancers
func (c *Cluster) ThreadAwareLoadBalancer() *ThreadAwareLoadBalancer {
	return c.threadLB
}

// Context returns the most recently published priority context
func (c *Cluster) Context() *PriorityContext {
	return c.current.Load()
}

// WorkerLoadBalancer returns the load balancer owned by worker d, or nil before the
// worker has created it. Only d's goroutine may use the result for selection.
func (c *Cluster) WorkerLoadBalancer(d *threadlocal.Dispatcher) *LoadBalancer {
	return c.tls.Get(d)
}

// OnPublish registers fn to receive every published context, in publication order. fn
// runs on the refreshing goroutine and must not trigger a refresh.
func (c *Cluster) OnPublish(fn func(*PriorityContext)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Initialize subscribes to topology changes, publishes the first context and then calls
// onDone. An empty merged set still completes initialization. It must not be called from
// a registry callback.
func (c *Cluster) Initialize(onDone func()) {
	c.mu.Lock()
	registered := c.handle != nil
	c.mu.Unlock()
	if !registered {
		// Registration waits out an in-flight removal, so every member resolved below
		// is either still registered or gets reported to OnClusterRemoval later.
		handle := c.registry.AddClusterUpdateCallbacks(c)
		c.mu.Lock()
		if c.handle == nil {
			c.handle = handle
		} else {
			handle.Remove()
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	for _, name := range c.members {
		if member, ok := c.registry.Get(name); ok {
			c.subscribeLocked(member)
		}
	}
	c.refreshLocked(skipNone)
	c.mu.Unlock()

	c.logger.Info("Aggregate cluster initialized",
		zap.Strings("members", c.members),
		zap.Int("priorities", c.Context().Len()))
	if onDone != nil {
		onDone()
	}
}

// Shutdown drops every subscription. Worker load balancers keep their last context.
func (c *Cluster) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle != nil {
		c.handle.Remove()
		c.handle = nil
	}
	for name, remove := range c.subscriptions {
		remove()
		delete(c.subscriptions, name)
	}
}

// OnClusterAddOrUpdate implements clustermanager.ClusterUpdateCallbacks
func (c *Cluster) OnClusterAddOrUpdate(cluster *upstream.Cluster) {
	if !c.isMember(cluster.Name()) {
		return
	}
	c.logger.Debug("Member cluster added or updated", zap.String("member", cluster.Name()))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribeLocked(cluster)
	c.refreshLocked(skipNone)
}

// OnClusterRemoval implements clustermanager.ClusterUpdateCallbacks. The registry still
// resolves name at this point, so it is skipped explicitly.
func (c *Cluster) OnClusterRemoval(name string) {
	if !c.isMember(name) {
		return
	}
	c.logger.Debug("Member cluster removed", zap.String("member", name))

	c.mu.Lock()
	defer c.mu.Unlock()
	if remove, ok := c.subscriptions[name]; ok {
		remove()
		delete(c.subscriptions, name)
	}
	c.refreshLocked(skipOnly(name))
}

func (c *Cluster) isMember(name string) bool {
	_, ok := c.memberSet[name]
	return ok
}

// subscribeLocked relinearizes whenever the member's priority set changes
func (c *Cluster) subscribeLocked(member *upstream.Cluster) {
	if remove, ok := c.subscriptions[member.Name()]; ok {
		remove()
	}
	name := member.Name()
	c.subscriptions[name] = member.PrioritySet().AddPriorityUpdateCallback(
		func(priority uint32, added, removed []*upstream.Host) {
			c.logger.Debug("Member priority updated",
				zap.String("member", name),
				zap.Uint32("priority", priority),
				zap.Int("added", len(added)),
				zap.Int("removed", len(removed)))
			c.refresh()
		})
}

func (c *Cluster) refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked(skipNone)
}

// refreshLocked builds a new context and posts it to every worker. Workers install it
// on their next task; the version check in Refresh drops it if a newer one won.
func (c *Cluster) refreshLocked(skip SkipFunc) {
	c.version++
	pc := Linearize(c.version, c.members, c.registry.Get, skip)
	c.current.Store(pc)

	c.tls.RunOnAllThreads(func(_ *threadlocal.Dispatcher, lb *LoadBalancer) {
		lb.Refresh(pc)
	}, nil)

	c.stats.ContextPublished(c.name, pc.Version(), pc.Len())
	c.logger.Debug("Published priority context",
		zap.Uint64("version", pc.Version()),
		zap.Int("priorities", pc.Len()))

	for _, fn := range c.observers {
		fn(pc)
	}
}
