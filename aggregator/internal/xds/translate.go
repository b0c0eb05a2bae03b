package xds

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	cluster "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	core "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	endpoint "github.com/envoyproxy/go-control-plane/envoy/config/endpoint/v3"

	"github.com/williamhogman/aggregate-lb/aggregator/internal/upstream"
)

// ErrInvalidCluster is returned for cluster resources that cannot become member clusters
var ErrInvalidCluster = errors.New("invalid cluster resource")

var policies = map[cluster.Cluster_LbPolicy]upstream.LbPolicy{
	cluster.Cluster_ROUND_ROBIN:   upstream.PolicyRoundRobin,
	cluster.Cluster_LEAST_REQUEST: upstream.PolicyLeastRequest,
	cluster.Cluster_RANDOM:        upstream.PolicyRandom,
}

// TranslateCluster turns an Envoy cluster with an inline load assignment into a member
// cluster. defaultFactor applies when the assignment carries no overprovisioning factor.
func TranslateCluster(c *cluster.Cluster, opts upstream.Options, defaultFactor uint32) (*upstream.Cluster, error) {
	if c.GetName() == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCluster, upstream.ErrEmptyClusterName)
	}
	if IsAggregate(c) {
		return nil, fmt.Errorf("%w: %s: nested aggregate clusters are not supported", ErrInvalidCluster, c.GetName())
	}

	policy, ok := policies[c.GetLbPolicy()]
	if !ok {
		return nil, fmt.Errorf("%w: %s: %w: %s", ErrInvalidCluster, c.GetName(), upstream.ErrUnsupportedPolicy, c.GetLbPolicy())
	}

	member, err := upstream.NewCluster(c.GetName(), policy, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCluster, err)
	}
	if err := ApplyLoadAssignment(member, c.GetLoadAssignment(), defaultFactor); err != nil {
		return nil, err
	}
	return member, nil
}

// SamePolicy reports whether c would be balanced the same way as member
func SamePolicy(member *upstream.Cluster, c *cluster.Cluster) bool {
	return policies[c.GetLbPolicy()] == member.LoadBalancer().Policy()
}

// ApplyLoadAssignment replaces the hosts of member with those in cla. Hosts whose address
// is unchanged keep their identity, so policy state such as active requests survives.
// Priorities missing from cla are emptied.
func ApplyLoadAssignment(member *upstream.Cluster, cla *endpoint.ClusterLoadAssignment, defaultFactor uint32) error {
	factor := defaultFactor
	if f := cla.GetPolicy().GetOverprovisioningFactor(); f != nil {
		factor = f.GetValue()
	}

	byPriority := make(map[uint32][]*upstream.Host)
	var maxPriority uint32
	for _, locality := range cla.GetEndpoints() {
		p := locality.GetPriority()
		if p > maxPriority {
			maxPriority = p
		}
		existing := indexByAddress(member.PrioritySet().HostSet(p))
		for _, lbe := range locality.GetLbEndpoints() {
			host, err := hostFor(member.Name(), p, lbe, existing)
			if err != nil {
				return err
			}
			byPriority[p] = append(byPriority[p], host)
		}
	}

	ps := member.PrioritySet()
	next := uint32(0)
	if len(byPriority) > 0 {
		for p := uint32(0); p <= maxPriority; p++ {
			ps.UpdateHosts(p, byPriority[p], factor)
		}
		next = maxPriority + 1
	}
	for p := next; int(p) < len(ps.HostSetsPerPriority()); p++ {
		if len(ps.HostSet(p).Hosts()) > 0 {
			ps.UpdateHosts(p, nil, factor)
		}
	}
	return nil
}

func indexByAddress(hs *upstream.HostSet) map[string]*upstream.Host {
	if hs == nil {
		return nil
	}
	out := make(map[string]*upstream.Host, len(hs.Hosts()))
	for _, h := range hs.Hosts() {
		out[h.Address()] = h
	}
	return out
}

func hostFor(clusterName string, priority uint32, lbe *endpoint.LbEndpoint, existing map[string]*upstream.Host) (*upstream.Host, error) {
	sa := lbe.GetEndpoint().GetAddress().GetSocketAddress()
	if sa == nil || sa.GetAddress() == "" {
		return nil, fmt.Errorf("%w: %s: endpoint without socket address", ErrInvalidCluster, clusterName)
	}
	addr := net.JoinHostPort(sa.GetAddress(), strconv.FormatUint(uint64(sa.GetPortValue()), 10))

	weight := uint32(1)
	if w := lbe.GetLoadBalancingWeight(); w != nil {
		weight = w.GetValue()
	}

	host, ok := existing[addr]
	if !ok || host.Weight() != max(weight, 1) {
		host = upstream.NewHost(clusterName, addr, priority, weight)
	}
	host.SetHealth(healthFromProto(lbe.GetHealthStatus()))
	return host, nil
}

func healthFromProto(status core.HealthStatus) upstream.HealthStatus {
	switch status {
	case core.HealthStatus_UNKNOWN, core.HealthStatus_HEALTHY:
		return upstream.Healthy
	case core.HealthStatus_DEGRADED:
		return upstream.Degraded
	default:
		return upstream.Unhealthy
	}
}

func healthToProto(status upstream.HealthStatus) core.HealthStatus {
	switch status {
	case upstream.Healthy:
		return core.HealthStatus_HEALTHY
	case upstream.Degraded:
		return core.HealthStatus_DEGRADED
	default:
		return core.HealthStatus_UNHEALTHY
	}
}
