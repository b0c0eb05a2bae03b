package xds

import (
	"fmt"
	"net"
	"strconv"
	"time"

	cluster "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	core "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	endpoint "github.com/envoyproxy/go-control-plane/envoy/config/endpoint/v3"
	aggregatev3 "github.com/envoyproxy/go-control-plane/envoy/extensions/clusters/aggregate/v3"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/williamhogman/aggregate-lb/aggregator/internal/aggregate"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/upstream"
)

// AggregateClusterType is the Envoy extension name of aggregate clusters
const AggregateClusterType = "envoy.clusters.aggregate"

var lbPolicies = map[upstream.LbPolicy]cluster.Cluster_LbPolicy{
	upstream.PolicyRoundRobin:   cluster.Cluster_ROUND_ROBIN,
	upstream.PolicyLeastRequest: cluster.Cluster_LEAST_REQUEST,
	upstream.PolicyRandom:       cluster.Cluster_RANDOM,
}

// AggregateCluster builds the Envoy resource of an aggregate cluster over members
func AggregateCluster(name string, members []string) (*cluster.Cluster, error) {
	typedConfig, err := anypb.New(&aggregatev3.ClusterConfig{Clusters: members})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal aggregate cluster config: %w", err)
	}

	return &cluster.Cluster{
		Name:           name,
		ConnectTimeout: durationpb.New(1 * time.Second),
		LbPolicy:       cluster.Cluster_CLUSTER_PROVIDED,
		ClusterDiscoveryType: &cluster.Cluster_ClusterType{
			ClusterType: &cluster.Cluster_CustomClusterType{
				Name:        AggregateClusterType,
				TypedConfig: typedConfig,
			},
		},
	}, nil
}

// IsAggregate reports whether c is an aggregate cluster
func IsAggregate(c *cluster.Cluster) bool {
	return c.GetClusterType().GetName() == AggregateClusterType
}

// DecodeAggregateConfig returns the member clusters of an aggregate cluster resource in order
func DecodeAggregateConfig(c *cluster.Cluster) ([]string, error) {
	if !IsAggregate(c) {
		return nil, fmt.Errorf("%w: %s is not an aggregate cluster", ErrInvalidCluster, c.GetName())
	}

	var cfg aggregatev3.ClusterConfig
	if err := c.GetClusterType().GetTypedConfig().UnmarshalTo(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidCluster, c.GetName(), err)
	}
	if len(cfg.GetClusters()) == 0 {
		return nil, fmt.Errorf("%w: %s has no member clusters", ErrInvalidCluster, c.GetName())
	}
	return cfg.GetClusters(), nil
}

// MemberCluster builds the EDS cluster resource of a member cluster
func MemberCluster(member *upstream.Cluster) *cluster.Cluster {
	return &cluster.Cluster{
		Name:                 member.Name(),
		ConnectTimeout:       durationpb.New(1 * time.Second),
		ClusterDiscoveryType: &cluster.Cluster_Type{Type: cluster.Cluster_EDS},
		LbPolicy:             lbPolicies[member.LoadBalancer().Policy()],
		EdsClusterConfig: &cluster.Cluster_EdsClusterConfig{
			EdsConfig: &core.ConfigSource{
				ResourceApiVersion: core.ApiVersion_V3,
				ConfigSourceSpecifier: &core.ConfigSource_Ads{
					Ads: &core.AggregatedConfigSource{},
				},
			},
		},
	}
}

// MemberLoadAssignment builds the endpoints of a member cluster, one locality per priority
func MemberLoadAssignment(member *upstream.Cluster) *endpoint.ClusterLoadAssignment {
	cla := &endpoint.ClusterLoadAssignment{ClusterName: member.Name()}
	sets := member.PrioritySet().HostSetsPerPriority()
	for _, hs := range sets {
		cla.Endpoints = append(cla.Endpoints, &endpoint.LocalityLbEndpoints{
			Priority:    hs.Priority(),
			LbEndpoints: lbEndpoints(hs.Hosts()),
		})
	}
	if len(sets) > 0 {
		cla.Policy = &endpoint.ClusterLoadAssignment_Policy{
			OverprovisioningFactor: wrapperspb.UInt32(sets[0].OverprovisioningFactor()),
		}
	}
	return cla
}

// ContextLoadAssignment renders the merged priority set of pc. Each locality carries
// the linearized priority, its member cluster as sub zone and the member's own
// priority as zone.
func ContextLoadAssignment(name string, pc *aggregate.PriorityContext) *endpoint.ClusterLoadAssignment {
	cla := &endpoint.ClusterLoadAssignment{ClusterName: name}
	for l, hs := range pc.HostSets() {
		m, _ := pc.Member(uint32(l))
		cla.Endpoints = append(cla.Endpoints, &endpoint.LocalityLbEndpoints{
			Priority: uint32(l),
			Locality: &core.Locality{
				Zone:    strconv.FormatUint(uint64(m.Priority), 10),
				SubZone: m.Cluster,
			},
			LbEndpoints: lbEndpoints(hs.Hosts()),
		})
	}
	return cla
}

func lbEndpoints(hosts []*upstream.Host) []*endpoint.LbEndpoint {
	out := make([]*endpoint.LbEndpoint, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, LbEndpoint(h))
	}
	return out
}

// LbEndpoint renders one host
func LbEndpoint(h *upstream.Host) *endpoint.LbEndpoint {
	host, port := splitAddress(h.Address())
	return &endpoint.LbEndpoint{
		HostIdentifier: &endpoint.LbEndpoint_Endpoint{
			Endpoint: &endpoint.Endpoint{
				Address: &core.Address{
					Address: &core.Address_SocketAddress{
						SocketAddress: &core.SocketAddress{
							Protocol: core.SocketAddress_TCP,
							Address:  host,
							PortSpecifier: &core.SocketAddress_PortValue{
								PortValue: port,
							},
						},
					},
				},
			},
		},
		HealthStatus:        healthToProto(h.Health()),
		LoadBalancingWeight: wrapperspb.UInt32(h.Weight()),
	}
}

func splitAddress(addr string) (string, uint32) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, err := strconv.ParseUint(portStr, 10, 32)
	if err != nil {
		return host, 0
	}
	return host, uint32(port)
}
