package aggregate

import (
	"github.com/williamhogman/aggregate-lb/aggregator/internal/upstream"
)

// ClusterAndPriority names one priority level of one member cluster
type ClusterAndPriority struct {
	Cluster  string
	Priority uint32
}

// Member is the reverse-map entry of a linearized priority: which member cluster owns it,
// the member's own priority, and the member policy that picks hosts there.
type Member struct {
	ClusterAndPriority
	LoadBalancer upstream.PriorityLoadBalancer
}

// PriorityContext is an immutable view of the merged priority set. The host sets are the
// member clusters' own objects, so host health changes show through without a rebuild.
type PriorityContext struct {
	version    uint64
	hostSets   []*upstream.HostSet
	members    []Member
	linearized map[ClusterAndPriority]uint32
}

func newPriorityContext(version uint64) *PriorityContext {
	return &PriorityContext{
		version:    version,
		linearized: make(map[ClusterAndPriority]uint32),
	}
}

// add appends hs as the next linearized priority
func (pc *PriorityContext) add(cluster *upstream.Cluster, hs *upstream.HostSet) {
	key := ClusterAndPriority{Cluster: cluster.Name(), Priority: hs.Priority()}
	pc.linearized[key] = uint32(len(pc.hostSets))
	pc.hostSets = append(pc.hostSets, hs)
	pc.members = append(pc.members, Member{
		ClusterAndPriority: key,
		LoadBalancer:       cluster.LoadBalancer(),
	})
}

// Version orders contexts published by one controller; later contexts have larger versions
func (pc *PriorityContext) Version() uint64 {
	return pc.version
}

// Len returns the number of linearized priorities
func (pc *PriorityContext) Len() int {
	return len(pc.hostSets)
}

// Empty reports whether no member contributes a priority
func (pc *PriorityContext) Empty() bool {
	return len(pc.hostSets) == 0
}

// HostSets returns the merged priority set indexed by linearized priority. Callers must not modify it.
func (pc *PriorityContext) HostSets() []*upstream.HostSet {
	return pc.hostSets
}

// Member maps a linearized priority back to its member cluster and original priority
func (pc *PriorityContext) Member(linearized uint32) (Member, bool) {
	if int(linearized) >= len(pc.members) {
		return Member{}, false
	}
	return pc.members[linearized], true
}

// Linearized maps a member cluster's priority to its place in the merged set
func (pc *PriorityContext) Linearized(cluster string, priority uint32) (uint32, bool) {
	l, ok := pc.linearized[ClusterAndPriority{Cluster: cluster, Priority: priority}]
	return l, ok
}
