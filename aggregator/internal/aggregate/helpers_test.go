package aggregate

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/williamhogman/aggregate-lb/aggregator/internal/clustermanager"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/threadlocal"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/upstream"
)

func hosts(cluster string, priority uint32, n int) []*upstream.Host {
	out := make([]*upstream.Host, n)
	for i := range out {
		out[i] = upstream.NewHost(cluster, fmt.Sprintf("%s-p%d-%d:80", cluster, priority, i), priority, 1)
	}
	return out
}

// member creates a round robin cluster with sizes[p] healthy hosts at priority p
func member(t *testing.T, name string, sizes ...int) *upstream.Cluster {
	t.Helper()
	c, err := upstream.NewCluster(name, upstream.PolicyRoundRobin, upstream.Options{})
	require.NoError(t, err)
	for p, n := range sizes {
		c.PrioritySet().UpdateHosts(uint32(p), hosts(name, uint32(p), n), 0)
	}
	return c
}

func resolverOf(clusters ...*upstream.Cluster) Resolver {
	byName := make(map[string]*upstream.Cluster, len(clusters))
	for _, c := range clusters {
		byName[c.Name()] = c
	}
	return func(name string) (*upstream.Cluster, bool) {
		c, ok := byName[name]
		return c, ok
	}
}

// steerContext sends all load to one linearized priority
type steerContext struct {
	upstream.DefaultContext
	to int
}

func (s steerContext) DeterminePriorityLoad(hostSets []*upstream.HostSet, _ upstream.HealthyAndDegradedLoad) upstream.HealthyAndDegradedLoad {
	load := upstream.HealthyAndDegradedLoad{
		Healthy:  make(upstream.PriorityLoad, len(hostSets)),
		Degraded: make(upstream.PriorityLoad, len(hostSets)),
	}
	load.Healthy[s.to] = 100
	return load
}

type recordingStats struct {
	mu        sync.Mutex
	published []uint64
	chosen    []string
	noHost    int
}

func (r *recordingStats) ContextPublished(_ string, version uint64, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, version)
}

func (r *recordingStats) HostChosen(_ string, member string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chosen = append(r.chosen, member)
}

func (r *recordingStats) NoHost(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.noHost++
}

type fixture struct {
	manager  *clustermanager.Manager
	instance *threadlocal.Instance
	cluster  *Cluster
	stats    *recordingStats
}

// newFixture builds an aggregate over members with workers that are not running;
// drain runs whatever has been posted to them.
func newFixture(t *testing.T, workers int, members ...string) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	f := &fixture{
		manager:  clustermanager.New(logger),
		instance: threadlocal.NewInstance(workers),
		stats:    &recordingStats{},
	}
	c, err := NewCluster(Options{
		Name:    "aggregate",
		Members: members,
		Random:  upstream.FixedRandom(0),
		Stats:   f.stats,
	}, f.manager, f.instance, logger)
	require.NoError(t, err)
	f.cluster = c
	return f
}

func (f *fixture) drain() {
	for _, d := range f.instance.Dispatchers() {
		d.RunPending()
	}
}

func (f *fixture) worker(i int) *LoadBalancer {
	return f.cluster.WorkerLoadBalancer(f.instance.Dispatchers()[i])
}
