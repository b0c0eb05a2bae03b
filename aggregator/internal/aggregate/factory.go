package aggregate

// LoadBalancerFactory builds worker load balancers for one aggregate cluster
type LoadBalancerFactory struct {
	cluster *Cluster
}

// Create returns a load balancer seeded with the latest published context. It may be
// called from any worker.
func (f *LoadBalancerFactory) Create() *LoadBalancer {
	c := f.cluster
	return NewLoadBalancer(c.name, c.Context(), c.random, c.stats)
}

// ThreadAwareLoadBalancer is the handle a worker bootstrap uses to obtain its own load
// balancer for the aggregate cluster.
type ThreadAwareLoadBalancer struct {
	factory *LoadBalancerFactory
}

// Factory returns the worker load balancer factory
func (t *ThreadAwareLoadBalancer) Factory() *LoadBalancerFactory {
	return t.factory
}

// Initialize does nothing; topology arrives through cluster update notifications
func (t *ThreadAwareLoadBalancer) Initialize() error {
	return nil
}
