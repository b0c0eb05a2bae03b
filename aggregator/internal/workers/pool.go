package workers

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/williamhogman/aggregate-lb/aggregator/internal/aggregate"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/threadlocal"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/upstream"
)

var (
	// ErrNoHealthyUpstream is returned when the aggregate cluster chose no host
	ErrNoHealthyUpstream = errors.New("no healthy upstream")

	// ErrPoolClosed is returned once the workers have been shut down
	ErrPoolClosed = errors.New("worker pool closed")
)

// Pool runs host selection on the aggregate cluster's workers. Each call is handed to
// one worker in turn and uses only that worker's load balancer.
type Pool struct {
	instance *threadlocal.Instance
	cluster  *aggregate.Cluster
	timeout  time.Duration
	logger   *zap.Logger
	next     atomic.Uint64
}

// NewPool creates a pool over the workers of instance. A zero timeout waits on ctx only.
func NewPool(instance *threadlocal.Instance, cluster *aggregate.Cluster, timeout time.Duration, logger *zap.Logger) *Pool {
	return &Pool{
		instance: instance,
		cluster:  cluster,
		timeout:  timeout,
		logger:   logger.Named("workers"),
	}
}

// Size returns the number of workers
func (p *Pool) Size() int {
	return len(p.instance.Dispatchers())
}

// ChooseHost selects a host of the aggregate cluster on the next worker
func (p *Pool) ChooseHost(ctx context.Context, lbCtx upstream.LoadBalancerContext) (*upstream.Host, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	dispatchers := p.instance.Dispatchers()
	d := dispatchers[(p.next.Add(1)-1)%uint64(len(dispatchers))]

	result := make(chan *upstream.Host, 1)
	posted := d.Post(func() {
		var host *upstream.Host
		if lb := p.cluster.WorkerLoadBalancer(d); lb != nil {
			host = lb.ChooseHost(lbCtx)
		}
		result <- host
	})
	if !posted {
		return nil, ErrPoolClosed
	}

	select {
	case host := <-result:
		if host == nil {
			return nil, fmt.Errorf("cluster %s: %w", p.cluster.Name(), ErrNoHealthyUpstream)
		}
		return host, nil
	case <-ctx.Done():
		p.logger.Warn("Host selection did not complete",
			zap.Int("worker", d.ID()),
			zap.Error(ctx.Err()))
		return nil, ctx.Err()
	}
}
