package upstream

// HostAvailability names which bucket of a host set a selection draws from
type HostAvailability int

const (
	AvailabilityHealthy HostAvailability = iota
	AvailabilityDegraded
)

func (a HostAvailability) String() string {
	if a == AvailabilityDegraded {
		return "degraded"
	}
	return "healthy"
}

// PriorityLoad is the percentage of traffic, per priority, summing to 100 across
// the healthy and degraded loads together.
type PriorityLoad []uint32

// HealthyAndDegradedLoad splits the priority load between healthy and degraded hosts
type HealthyAndDegradedLoad struct {
	Healthy  PriorityLoad
	Degraded PriorityLoad
}

// LoadBalancerContext carries per-request hints into host selection. A nil context is valid
// everywhere a LoadBalancerContext is accepted.
type LoadBalancerContext interface {
	// DeterminePriorityLoad may rewrite the load computed for hostSets, e.g. to steer retries
	DeterminePriorityLoad(hostSets []*HostSet, original HealthyAndDegradedLoad) HealthyAndDegradedLoad

	// OverrideHost returns a host the request should stick to, or nil
	OverrideHost() *Host
}

// DefaultContext leaves the priority load untouched and pins nothing. Embed it to
// override a single method.
type DefaultContext struct{}

func (DefaultContext) DeterminePriorityLoad(_ []*HostSet, original HealthyAndDegradedLoad) HealthyAndDegradedLoad {
	return original
}

func (DefaultContext) OverrideHost() *Host {
	return nil
}

type overrideContext struct {
	DefaultContext
	host *Host
}

func (c overrideContext) OverrideHost() *Host {
	return c.host
}

// WithOverrideHost returns a context pinning selection to host
func WithOverrideHost(host *Host) LoadBalancerContext {
	return overrideContext{host: host}
}

func overrideHostOf(ctx LoadBalancerContext) *Host {
	if ctx == nil {
		return nil
	}
	return ctx.OverrideHost()
}

func determinePriorityLoad(ctx LoadBalancerContext, hostSets []*HostSet, load HealthyAndDegradedLoad) HealthyAndDegradedLoad {
	if ctx == nil {
		return load
	}
	return ctx.DeterminePriorityLoad(hostSets, load)
}
