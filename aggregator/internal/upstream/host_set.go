package upstream

import (
	"sort"
	"sync"
	"sync/atomic"
)

// DefaultOverprovisioningFactor is the overprovisioning factor, in percent, used when a
// host set does not specify one. A priority with 100/140 (~71%) healthy hosts still
// takes all of its traffic.
const DefaultOverprovisioningFactor uint32 = 140

// hostSetState is an immutable view of a host set at one point in time
type hostSetState struct {
	hosts                  []*Host
	healthy                []*Host
	degraded               []*Host
	overprovisioningFactor uint32
}

// HostSet is the group of hosts of one cluster at one priority level.
// Readers always see a consistent state; Update swaps in a new one.
type HostSet struct {
	priority uint32
	state    atomic.Pointer[hostSetState]
}

func newHostSet(priority uint32) *HostSet {
	hs := &HostSet{priority: priority}
	hs.state.Store(&hostSetState{overprovisioningFactor: DefaultOverprovisioningFactor})
	return hs
}

// Priority returns the priority of the host set within its own cluster
func (hs *HostSet) Priority() uint32 {
	return hs.priority
}

// Hosts returns all hosts regardless of health
func (hs *HostSet) Hosts() []*Host {
	return hs.state.Load().hosts
}

// HealthyHosts returns the hosts that were healthy at the last update
func (hs *HostSet) HealthyHosts() []*Host {
	return hs.state.Load().healthy
}

// DegradedHosts returns the hosts that were degraded at the last update
func (hs *HostSet) DegradedHosts() []*Host {
	return hs.state.Load().degraded
}

// OverprovisioningFactor returns the factor, in percent, applied when computing priority load
func (hs *HostSet) OverprovisioningFactor() uint32 {
	return hs.state.Load().overprovisioningFactor
}

// Contains reports whether host is currently part of the set
func (hs *HostSet) Contains(host *Host) bool {
	for _, h := range hs.state.Load().hosts {
		if h == host {
			return true
		}
	}
	return false
}

// Update replaces the host list and recomputes the health buckets from each host's current status
func (hs *HostSet) Update(hosts []*Host, overprovisioningFactor uint32) {
	if overprovisioningFactor == 0 {
		overprovisioningFactor = DefaultOverprovisioningFactor
	}

	next := &hostSetState{
		hosts:                  append([]*Host(nil), hosts...),
		overprovisioningFactor: overprovisioningFactor,
	}
	for _, h := range next.hosts {
		switch h.Health() {
		case Healthy:
			next.healthy = append(next.healthy, h)
		case Degraded:
			next.degraded = append(next.degraded, h)
		}
	}
	hs.state.Store(next)
}

// PriorityUpdateCallback is invoked after the hosts of one priority change
type PriorityUpdateCallback func(priority uint32, added, removed []*Host)

// PrioritySet holds one HostSet per priority level, densely indexed from 0.
type PrioritySet struct {
	mu        sync.Mutex
	hostSets  atomic.Pointer[[]*HostSet]
	callbacks map[uint64]PriorityUpdateCallback
	nextID    uint64
}

// NewPrioritySet creates an empty priority set
func NewPrioritySet() *PrioritySet {
	ps := &PrioritySet{callbacks: make(map[uint64]PriorityUpdateCallback)}
	empty := []*HostSet{}
	ps.hostSets.Store(&empty)
	return ps
}

// HostSetsPerPriority returns the host sets indexed by priority. The returned slice must not be modified.
func (ps *PrioritySet) HostSetsPerPriority() []*HostSet {
	return *ps.hostSets.Load()
}

// HostSet returns the host set at priority, or nil if the priority does not exist
func (ps *PrioritySet) HostSet(priority uint32) *HostSet {
	sets := ps.HostSetsPerPriority()
	if int(priority) >= len(sets) {
		return nil
	}
	return sets[priority]
}

// UpdateHosts replaces the hosts at priority, creating that priority (and any lower
// missing ones) if needed, then notifies the registered callbacks.
func (ps *PrioritySet) UpdateHosts(priority uint32, hosts []*Host, overprovisioningFactor uint32) {
	ps.mu.Lock()
	sets := ps.HostSetsPerPriority()
	if int(priority) >= len(sets) {
		grown := make([]*HostSet, priority+1)
		copy(grown, sets)
		for p := len(sets); p <= int(priority); p++ {
			grown[p] = newHostSet(uint32(p))
		}
		ps.hostSets.Store(&grown)
		sets = grown
	}

	hs := sets[priority]
	added, removed := diffHosts(hs.Hosts(), hosts)
	hs.Update(hosts, overprovisioningFactor)

	callbacks := make([]PriorityUpdateCallback, 0, len(ps.callbacks))
	ids := make([]uint64, 0, len(ps.callbacks))
	for id := range ps.callbacks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		callbacks = append(callbacks, ps.callbacks[id])
	}
	ps.mu.Unlock()

	for _, cb := range callbacks {
		cb(priority, added, removed)
	}
}

// AddPriorityUpdateCallback registers cb and returns a function that unregisters it
func (ps *PrioritySet) AddPriorityUpdateCallback(cb PriorityUpdateCallback) (remove func()) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	id := ps.nextID
	ps.nextID++
	ps.callbacks[id] = cb

	return func() {
		ps.mu.Lock()
		defer ps.mu.Unlock()
		delete(ps.callbacks, id)
	}
}

func diffHosts(old, next []*Host) (added, removed []*Host) {
	before := make(map[*Host]struct{}, len(old))
	for _, h := range old {
		before[h] = struct{}{}
	}
	after := make(map[*Host]struct{}, len(next))
	for _, h := range next {
		after[h] = struct{}{}
		if _, ok := before[h]; !ok {
			added = append(added, h)
		}
	}
	for _, h := range old {
		if _, ok := after[h]; !ok {
			removed = append(removed, h)
		}
	}
	return added, removed
}
