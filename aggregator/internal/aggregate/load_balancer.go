package aggregate

import (
	"sync/atomic"

	"github.com/williamhogman/aggregate-lb/aggregator/internal/upstream"
)

type workerState struct {
	context *PriorityContext
	// nil while the merged priority set is empty
	selector *upstream.PrioritySelector
}

// LoadBalancer is the per-worker load balancer of an aggregate cluster. It picks a
// linearized priority over the merged set and hands the host choice to the member
// cluster owning that priority.
type LoadBalancer struct {
	aggregate string
	random    upstream.RandomGenerator
	stats     Stats
	state     atomic.Pointer[workerState]
}

var _ upstream.LoadBalancer = (*LoadBalancer)(nil)

// NewLoadBalancer creates a worker load balancer seeded with pc, which may be nil
func NewLoadBalancer(aggregate string, pc *PriorityContext, random upstream.RandomGenerator, stats Stats) *LoadBalancer {
	if stats == nil {
		stats = NopStats{}
	}
	lb := &LoadBalancer{
		aggregate: aggregate,
		random:    random,
		stats:     stats,
	}
	if pc == nil {
		pc = newPriorityContext(0)
	}
	lb.state.Store(lb.newState(pc))
	return lb
}

func (lb *LoadBalancer) newState(pc *PriorityContext) *workerState {
	st := &workerState{context: pc}
	if !pc.Empty() {
		st.selector = upstream.NewPrioritySelector(lb.random)
	}
	return st
}

// Refresh installs pc unless the load balancer already holds a context at least as new.
// It reports whether pc was installed.
func (lb *LoadBalancer) Refresh(pc *PriorityContext) bool {
	if pc == nil {
		return false
	}
	next := lb.newState(pc)
	for {
		cur := lb.state.Load()
		if pc.version <= cur.context.version {
			return false
		}
		if lb.state.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// Context returns the installed priority context
func (lb *LoadBalancer) Context() *PriorityContext {
	return lb.state.Load().context
}

// ChooseHost implements upstream.LoadBalancer. It returns nil when the merged set is
// empty or the chosen member has no host at that priority.
func (lb *LoadBalancer) ChooseHost(ctx upstream.LoadBalancerContext) *upstream.Host {
	st := lb.state.Load()
	if st.selector == nil {
		lb.stats.NoHost(lb.aggregate)
		return nil
	}
	pc := st.context

	linearized, availability, ok := pinnedPriority(pc, ctx)
	if !ok {
		var p int
		p, availability, ok = st.selector.ChooseHostSet(ctx, pc.hostSets)
		if !ok {
			lb.stats.NoHost(lb.aggregate)
			return nil
		}
		linearized = uint32(p)
	}

	member := pc.members[linearized]
	host := member.LoadBalancer.ChooseHostAtPriority(ctx, member.Priority, availability)
	if host == nil {
		lb.stats.NoHost(lb.aggregate)
		return nil
	}
	lb.stats.HostChosen(lb.aggregate, member.Cluster)
	return host
}

// pinnedPriority resolves the override host of ctx to the linearized priority of its
// member cluster and priority, skipping hosts that cannot take traffic.
func pinnedPriority(pc *PriorityContext, ctx upstream.LoadBalancerContext) (uint32, upstream.HostAvailability, bool) {
	if ctx == nil {
		return 0, upstream.AvailabilityHealthy, false
	}
	host := ctx.OverrideHost()
	if host == nil {
		return 0, upstream.AvailabilityHealthy, false
	}

	availability := upstream.AvailabilityHealthy
	switch host.Health() {
	case upstream.Unhealthy:
		return 0, availability, false
	case upstream.Degraded:
		availability = upstream.AvailabilityDegraded
	}

	// the override may name a host the member has since dropped or moved
	linearized, ok := pc.Linearized(host.Cluster(), host.Priority())
	if !ok || !pc.hostSets[linearized].Contains(host) {
		return 0, availability, false
	}
	return linearized, availability, true
}
