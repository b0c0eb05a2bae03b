package xds

import (
	"testing"

	cluster "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	core "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	endpoint "github.com/envoyproxy/go-control-plane/envoy/config/endpoint/v3"
	"github.com/envoyproxy/go-control-plane/pkg/resource/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/williamhogman/aggregate-lb/aggregator/internal/aggregate"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/clustermanager"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/threadlocal"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/upstream"
)

func lbEndpoint(addr string, port uint32, status core.HealthStatus) *endpoint.LbEndpoint {
	return &endpoint.LbEndpoint{
		HostIdentifier: &endpoint.LbEndpoint_Endpoint{
			Endpoint: &endpoint.Endpoint{
				Address: &core.Address{
					Address: &core.Address_SocketAddress{
						SocketAddress: &core.SocketAddress{
							Address:       addr,
							PortSpecifier: &core.SocketAddress_PortValue{PortValue: port},
						},
					},
				},
			},
		},
		HealthStatus: status,
	}
}

func clusterResource(name string, policy cluster.Cluster_LbPolicy, localities ...*endpoint.LocalityLbEndpoints) *cluster.Cluster {
	return &cluster.Cluster{
		Name:     name,
		LbPolicy: policy,
		LoadAssignment: &endpoint.ClusterLoadAssignment{
			ClusterName: name,
			Endpoints:   localities,
		},
	}
}

func TestTranslateCluster(t *testing.T) {
	c := clusterResource("primary", cluster.Cluster_LEAST_REQUEST,
		&endpoint.LocalityLbEndpoints{
			Priority: 0,
			LbEndpoints: []*endpoint.LbEndpoint{
				lbEndpoint("10.0.0.1", 80, core.HealthStatus_HEALTHY),
				lbEndpoint("10.0.0.2", 80, core.HealthStatus_DEGRADED),
				lbEndpoint("10.0.0.3", 80, core.HealthStatus_DRAINING),
			},
		},
		&endpoint.LocalityLbEndpoints{
			Priority:    2,
			LbEndpoints: []*endpoint.LbEndpoint{lbEndpoint("10.0.1.1", 8080, core.HealthStatus_UNKNOWN)},
		},
	)
	c.LoadAssignment.Endpoints[1].LbEndpoints[0].LoadBalancingWeight = wrapperspb.UInt32(5)

	member, err := TranslateCluster(c, upstream.Options{}, 140)
	require.NoError(t, err)
	assert.Equal(t, "primary", member.Name())
	assert.Equal(t, upstream.PolicyLeastRequest, member.LoadBalancer().Policy())

	sets := member.PrioritySet().HostSetsPerPriority()
	require.Len(t, sets, 3)
	assert.Len(t, sets[0].Hosts(), 3)
	assert.Len(t, sets[0].HealthyHosts(), 1)
	assert.Len(t, sets[0].DegradedHosts(), 1)
	assert.Empty(t, sets[1].Hosts())
	require.Len(t, sets[2].Hosts(), 1)

	h := sets[2].Hosts()[0]
	assert.Equal(t, "10.0.1.1:8080", h.Address())
	assert.Equal(t, uint32(5), h.Weight())
	assert.Equal(t, uint32(2), h.Priority())
	assert.Equal(t, "primary", h.Cluster())
	assert.Equal(t, uint32(140), sets[2].OverprovisioningFactor())
}

func TestTranslateCluster_Invalid(t *testing.T) {
	_, err := TranslateCluster(&cluster.Cluster{}, upstream.Options{}, 0)
	assert.ErrorIs(t, err, ErrInvalidCluster)

	_, err = TranslateCluster(clusterResource("x", cluster.Cluster_MAGLEV), upstream.Options{}, 0)
	assert.ErrorIs(t, err, ErrInvalidCluster)
	assert.ErrorIs(t, err, upstream.ErrUnsupportedPolicy)

	noAddress := clusterResource("x", cluster.Cluster_ROUND_ROBIN, &endpoint.LocalityLbEndpoints{
		LbEndpoints: []*endpoint.LbEndpoint{{}},
	})
	_, err = TranslateCluster(noAddress, upstream.Options{}, 0)
	assert.ErrorIs(t, err, ErrInvalidCluster)

	nested, err := AggregateCluster("nested", []string{"a"})
	require.NoError(t, err)
	_, err = TranslateCluster(nested, upstream.Options{}, 0)
	assert.ErrorIs(t, err, ErrInvalidCluster)
}

func TestApplyLoadAssignment_KeepsHostIdentity(t *testing.T) {
	c := clusterResource("m", cluster.Cluster_ROUND_ROBIN,
		&endpoint.LocalityLbEndpoints{Priority: 0, LbEndpoints: []*endpoint.LbEndpoint{
			lbEndpoint("10.0.0.1", 80, core.HealthStatus_HEALTHY),
			lbEndpoint("10.0.0.2", 80, core.HealthStatus_HEALTHY),
		}},
		&endpoint.LocalityLbEndpoints{Priority: 1, LbEndpoints: []*endpoint.LbEndpoint{
			lbEndpoint("10.0.1.1", 80, core.HealthStatus_HEALTHY),
		}},
	)
	member, err := TranslateCluster(c, upstream.Options{}, 0)
	require.NoError(t, err)
	kept := member.PrioritySet().HostSet(0).Hosts()[0]

	update := &endpoint.ClusterLoadAssignment{
		Endpoints: []*endpoint.LocalityLbEndpoints{{Priority: 0, LbEndpoints: []*endpoint.LbEndpoint{
			lbEndpoint("10.0.0.1", 80, core.HealthStatus_UNHEALTHY),
		}}},
		Policy: &endpoint.ClusterLoadAssignment_Policy{OverprovisioningFactor: wrapperspb.UInt32(100)},
	}
	require.NoError(t, ApplyLoadAssignment(member, update, 140))

	p0 := member.PrioritySet().HostSet(0)
	require.Len(t, p0.Hosts(), 1)
	assert.Same(t, kept, p0.Hosts()[0])
	assert.Equal(t, upstream.Unhealthy, kept.Health())
	assert.Empty(t, p0.HealthyHosts())
	assert.Equal(t, uint32(100), p0.OverprovisioningFactor())
	assert.Empty(t, member.PrioritySet().HostSet(1).Hosts())
}

func TestAggregateConfig(t *testing.T) {
	c, err := AggregateCluster("agg", []string{"primary", "secondary"})
	require.NoError(t, err)
	assert.True(t, IsAggregate(c))
	assert.Equal(t, cluster.Cluster_CLUSTER_PROVIDED, c.GetLbPolicy())

	members, err := DecodeAggregateConfig(c)
	require.NoError(t, err)
	assert.Equal(t, []string{"primary", "secondary"}, members)

	_, err = DecodeAggregateConfig(clusterResource("plain", cluster.Cluster_ROUND_ROBIN))
	assert.ErrorIs(t, err, ErrInvalidCluster)

	empty, err := AggregateCluster("agg", nil)
	require.NoError(t, err)
	_, err = DecodeAggregateConfig(empty)
	assert.ErrorIs(t, err, ErrInvalidCluster)
}

func TestMemberResources(t *testing.T) {
	member, err := upstream.NewCluster("m", upstream.PolicyRandom, upstream.Options{})
	require.NoError(t, err)
	member.PrioritySet().UpdateHosts(0, []*upstream.Host{
		upstream.NewHost("m", "10.0.0.1:80", 0, 3),
		upstream.NewHost("m", "10.0.0.2:80", 0, 1).WithHealth(upstream.Degraded),
	}, 120)

	c := MemberCluster(member)
	assert.Equal(t, "m", c.GetName())
	assert.Equal(t, cluster.Cluster_RANDOM, c.GetLbPolicy())
	assert.Equal(t, cluster.Cluster_EDS, c.GetType())

	cla := MemberLoadAssignment(member)
	require.Len(t, cla.GetEndpoints(), 1)
	eps := cla.GetEndpoints()[0].GetLbEndpoints()
	require.Len(t, eps, 2)
	assert.Equal(t, "10.0.0.1", eps[0].GetEndpoint().GetAddress().GetSocketAddress().GetAddress())
	assert.Equal(t, uint32(80), eps[0].GetEndpoint().GetAddress().GetSocketAddress().GetPortValue())
	assert.Equal(t, uint32(3), eps[0].GetLoadBalancingWeight().GetValue())
	assert.Equal(t, core.HealthStatus_DEGRADED, eps[1].GetHealthStatus())
	assert.Equal(t, uint32(120), cla.GetPolicy().GetOverprovisioningFactor().GetValue())

	// the rendered assignment translates back to the same hosts
	back, err := TranslateCluster(&cluster.Cluster{Name: "m", LbPolicy: c.GetLbPolicy(), LoadAssignment: cla}, upstream.Options{}, 0)
	require.NoError(t, err)
	assert.Len(t, back.PrioritySet().HostSet(0).HealthyHosts(), 1)
	assert.Len(t, back.PrioritySet().HostSet(0).DegradedHosts(), 1)
}

func newAggregate(t *testing.T, members ...string) (*aggregate.Cluster, *clustermanager.Manager) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	manager := clustermanager.New(logger)
	c, err := aggregate.NewCluster(aggregate.Options{Name: "agg", Members: members}, manager, threadlocal.NewInstance(1), logger)
	require.NoError(t, err)
	return c, manager
}

func TestContextLoadAssignment(t *testing.T) {
	agg, manager := newAggregate(t, "a", "b")
	for _, c := range []*cluster.Cluster{
		clusterResource("a", cluster.Cluster_ROUND_ROBIN,
			&endpoint.LocalityLbEndpoints{Priority: 0, LbEndpoints: []*endpoint.LbEndpoint{lbEndpoint("10.0.0.1", 80, core.HealthStatus_HEALTHY)}},
			&endpoint.LocalityLbEndpoints{Priority: 1, LbEndpoints: []*endpoint.LbEndpoint{lbEndpoint("10.0.0.2", 80, core.HealthStatus_HEALTHY)}},
		),
		clusterResource("b", cluster.Cluster_ROUND_ROBIN,
			&endpoint.LocalityLbEndpoints{Priority: 0, LbEndpoints: []*endpoint.LbEndpoint{lbEndpoint("10.0.1.1", 80, core.HealthStatus_HEALTHY)}},
		),
	} {
		member, err := TranslateCluster(c, upstream.Options{}, 0)
		require.NoError(t, err)
		require.NoError(t, manager.AddOrUpdateCluster(member))
	}
	agg.Initialize(nil)

	cla := ContextLoadAssignment("agg", agg.Context())
	require.Len(t, cla.GetEndpoints(), 3)
	for i, want := range []struct{ zone, subZone, addr string }{
		{"0", "a", "10.0.0.1"},
		{"1", "a", "10.0.0.2"},
		{"0", "b", "10.0.1.1"},
	} {
		loc := cla.GetEndpoints()[i]
		assert.Equal(t, uint32(i), loc.GetPriority())
		assert.Equal(t, want.zone, loc.GetLocality().GetZone())
		assert.Equal(t, want.subZone, loc.GetLocality().GetSubZone())
		assert.Equal(t, want.addr, loc.GetLbEndpoints()[0].GetEndpoint().GetAddress().GetSocketAddress().GetAddress())
	}
}

func TestService_UpdateSnapshotOnPublish(t *testing.T) {
	agg, manager := newAggregate(t, "a", "b")
	svc := NewService("node", 0, manager, agg, zaptest.NewLogger(t))

	agg.Initialize(nil)
	snap, err := svc.Snapshot()
	require.NoError(t, err)
	clusters := snap.GetResources(resource.ClusterType)
	assert.Len(t, clusters, 1)
	assert.Contains(t, clusters, "agg")
	firstVersion := snap.GetVersion(resource.ClusterType)

	member, err := TranslateCluster(clusterResource("b", cluster.Cluster_ROUND_ROBIN,
		&endpoint.LocalityLbEndpoints{LbEndpoints: []*endpoint.LbEndpoint{lbEndpoint("10.0.1.1", 80, core.HealthStatus_HEALTHY)}},
	), upstream.Options{}, 0)
	require.NoError(t, err)
	require.NoError(t, manager.AddOrUpdateCluster(member))

	snap, err = svc.Snapshot()
	require.NoError(t, err)
	clusters = snap.GetResources(resource.ClusterType)
	assert.Len(t, clusters, 2)
	assert.Contains(t, clusters, "b")
	assert.Contains(t, snap.GetResources(resource.EndpointType), "b")
	assert.NotEqual(t, firstVersion, snap.GetVersion(resource.ClusterType))

	members, err := DecodeAggregateConfig(clusters["agg"].(*cluster.Cluster))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, members)
}
