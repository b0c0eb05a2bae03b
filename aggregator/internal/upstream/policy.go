package upstream

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// LbPolicy names a member cluster's host selection strategy
type LbPolicy string

const (
	PolicyRoundRobin   LbPolicy = "ROUND_ROBIN"
	PolicyLeastRequest LbPolicy = "LEAST_REQUEST"
	PolicyRandom       LbPolicy = "RANDOM"
)

// LoadBalancer chooses a host across every priority of a priority set
type LoadBalancer interface {
	// ChooseHost returns nil when no host can be selected
	ChooseHost(ctx LoadBalancerContext) *Host
}

// PriorityLoadBalancer picks one host within a single priority level. It is the capability
// an aggregate cluster delegates to once it has decided which member and priority to use.
type PriorityLoadBalancer interface {
	ChooseHostAtPriority(ctx LoadBalancerContext, priority uint32, availability HostAvailability) *Host
}

// Options tunes a PolicyLoadBalancer
type Options struct {
	// PanicThreshold in percent; zero means DefaultPanicThreshold
	PanicThreshold uint32
	// PanicDisabled turns panic mode off, so only healthy or degraded hosts are picked
	PanicDisabled bool
	// Random defaults to DefaultRandom
	Random RandomGenerator
}

type picker interface {
	pick(priority uint32, candidates []*Host) *Host
}

// PolicyLoadBalancer is a member cluster's load balancer: priority choice through a
// PrioritySelector, host choice through the configured policy.
// It is safe for concurrent use; per-priority policy state lives in atomics.
type PolicyLoadBalancer struct {
	policy         LbPolicy
	prioritySet    *PrioritySet
	panicThreshold uint32
	selector       *PrioritySelector
	picker         picker
}

var (
	_ LoadBalancer         = (*PolicyLoadBalancer)(nil)
	_ PriorityLoadBalancer = (*PolicyLoadBalancer)(nil)
)

// NewLoadBalancer creates the load balancer for policy over prioritySet
func NewLoadBalancer(policy LbPolicy, prioritySet *PrioritySet, opts Options) (*PolicyLoadBalancer, error) {
	if opts.Random == nil {
		opts.Random = DefaultRandom()
	}
	switch {
	case opts.PanicDisabled:
		opts.PanicThreshold = 0
	case opts.PanicThreshold == 0:
		opts.PanicThreshold = DefaultPanicThreshold
	}

	var p picker
	switch policy {
	case PolicyRoundRobin, "":
		policy = PolicyRoundRobin
		p = &roundRobin{}
	case PolicyLeastRequest:
		p = &leastRequest{random: opts.Random}
	case PolicyRandom:
		p = &weightedRandom{random: opts.Random}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPolicy, policy)
	}

	return &PolicyLoadBalancer{
		policy:         policy,
		prioritySet:    prioritySet,
		panicThreshold: opts.PanicThreshold,
		selector:       NewPrioritySelector(opts.Random),
		picker:         p,
	}, nil
}

// Policy returns the configured policy
func (b *PolicyLoadBalancer) Policy() LbPolicy {
	return b.policy
}

// ChooseHost implements LoadBalancer
func (b *PolicyLoadBalancer) ChooseHost(ctx LoadBalancerContext) *Host {
	priority, availability, ok := b.selector.ChooseHostSet(ctx, b.prioritySet.HostSetsPerPriority())
	if !ok {
		return nil
	}
	return b.ChooseHostAtPriority(ctx, uint32(priority), availability)
}

// ChooseHostAtPriority implements PriorityLoadBalancer
func (b *PolicyLoadBalancer) ChooseHostAtPriority(ctx LoadBalancerContext, priority uint32, availability HostAvailability) *Host {
	hs := b.prioritySet.HostSet(priority)
	if hs == nil {
		return nil
	}

	if h := overrideHostOf(ctx); h != nil && h.Health() != Unhealthy && hs.Contains(h) {
		return h
	}

	var candidates []*Host
	switch {
	case InPanic(hs, b.panicThreshold):
		candidates = hs.Hosts()
	case availability == AvailabilityDegraded:
		candidates = hs.DegradedHosts()
	default:
		candidates = hs.HealthyHosts()
	}
	if len(candidates) == 0 {
		return nil
	}
	return b.picker.pick(priority, candidates)
}

// roundRobin keeps one rotating index per priority
type roundRobin struct {
	indexes sync.Map // uint32 -> *atomic.Uint64
}

func (r *roundRobin) pick(priority uint32, candidates []*Host) *Host {
	v, _ := r.indexes.LoadOrStore(priority, new(atomic.Uint64))
	next := v.(*atomic.Uint64).Add(1) - 1
	return candidates[next%uint64(len(candidates))]
}

// leastRequest uses power-of-two-choices over active request counts
type leastRequest struct {
	random RandomGenerator
}

func (l *leastRequest) pick(_ uint32, candidates []*Host) *Host {
	if len(candidates) == 1 {
		return candidates[0]
	}
	n := uint64(len(candidates))
	first := candidates[l.random.Random()%n]
	second := candidates[l.random.Random()%n]
	if second.ActiveRequests() < first.ActiveRequests() {
		return second
	}
	return first
}

// weightedRandom picks proportionally to host weight
type weightedRandom struct {
	random RandomGenerator
}

func (w *weightedRandom) pick(_ uint32, candidates []*Host) *Host {
	var total uint64
	for _, h := range candidates {
		total += uint64(h.Weight())
	}

	point := w.random.Random() % total
	var current uint64
	for _, h := range candidates {
		current += uint64(h.Weight())
		if point < current {
			return h
		}
	}
	return candidates[0]
}
