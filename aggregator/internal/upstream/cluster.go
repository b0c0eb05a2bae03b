package upstream

import "fmt"

// Cluster is the live handle of one upstream cluster: its hosts per priority and the
// load balancer configured for it. The cluster manager owns its lifecycle.
type Cluster struct {
	name        string
	prioritySet *PrioritySet
	lb          *PolicyLoadBalancer
}

// NewCluster creates an empty cluster balanced with policy
func NewCluster(name string, policy LbPolicy, opts Options) (*Cluster, error) {
	if name == "" {
		return nil, ErrEmptyClusterName
	}

	ps := NewPrioritySet()
	lb, err := NewLoadBalancer(policy, ps, opts)
	if err != nil {
		return nil, fmt.Errorf("cluster %s: %w", name, err)
	}

	return &Cluster{
		name:        name,
		prioritySet: ps,
		lb:          lb,
	}, nil
}

// Name returns the cluster name
func (c *Cluster) Name() string {
	return c.name
}

// PrioritySet returns the cluster's hosts grouped by priority
func (c *Cluster) PrioritySet() *PrioritySet {
	return c.prioritySet
}

// LoadBalancer returns the cluster's own load balancer
func (c *Cluster) LoadBalancer() *PolicyLoadBalancer {
	return c.lb
}
