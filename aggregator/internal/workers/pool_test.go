package workers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/williamhogman/aggregate-lb/aggregator/internal/aggregate"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/clustermanager"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/threadlocal"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/upstream"
)

func setupPool(t *testing.T, workers int, timeout time.Duration) (*Pool, *clustermanager.Manager, *threadlocal.Instance) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	manager := clustermanager.New(logger)
	instance := threadlocal.NewInstance(workers)

	cluster, err := aggregate.NewCluster(aggregate.Options{
		Name:    "agg",
		Members: []string{"primary", "fallback"},
	}, manager, instance, logger)
	require.NoError(t, err)
	cluster.Initialize(nil)

	return NewPool(instance, cluster, timeout, logger), manager, instance
}

func addMember(t *testing.T, manager *clustermanager.Manager, name string, n int) []*upstream.Host {
	t.Helper()
	c, err := upstream.NewCluster(name, upstream.PolicyRoundRobin, upstream.Options{})
	require.NoError(t, err)
	hosts := make([]*upstream.Host, n)
	for i := range hosts {
		hosts[i] = upstream.NewHost(name, name+"-"+string(rune('a'+i))+":80", 0, 1)
	}
	c.PrioritySet().UpdateHosts(0, hosts, 0)
	require.NoError(t, manager.AddOrUpdateCluster(c))
	return hosts
}

func TestPool_ChooseHost(t *testing.T) {
	pool, manager, instance := setupPool(t, 3, time.Second)
	instance.Start()
	defer instance.Shutdown()

	primary := addMember(t, manager, "primary", 2)
	addMember(t, manager, "fallback", 1)

	require.Eventually(t, func() bool {
		h, err := pool.ChooseHost(context.Background(), nil)
		return err == nil && h.Cluster() == "primary"
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 3, pool.Size())
	for i := 0; i < 6; i++ {
		h, err := pool.ChooseHost(context.Background(), nil)
		require.NoError(t, err)
		assert.Contains(t, primary, h)
	}
}

func TestPool_NoHealthyUpstream(t *testing.T) {
	pool, _, instance := setupPool(t, 2, time.Second)
	instance.Start()
	defer instance.Shutdown()

	_, err := pool.ChooseHost(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoHealthyUpstream)
}

func TestPool_WaitsOnContext(t *testing.T) {
	// workers never run, so the request cannot complete
	pool, _, _ := setupPool(t, 1, 20*time.Millisecond)

	_, err := pool.ChooseHost(context.Background(), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pool.timeout = 0
	_, err = pool.ChooseHost(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPool_Closed(t *testing.T) {
	pool, _, instance := setupPool(t, 2, time.Second)
	instance.Start()
	instance.Shutdown()

	_, err := pool.ChooseHost(context.Background(), nil)
	assert.ErrorIs(t, err, ErrPoolClosed)
}
