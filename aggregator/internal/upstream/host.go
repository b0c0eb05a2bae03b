package upstream

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// HealthStatus is the coarse health of a host as seen by load balancing
type HealthStatus int32

const (
	// Healthy hosts receive the priority's healthy share of traffic
	Healthy HealthStatus = iota
	// Degraded hosts only receive traffic once healthy capacity runs out
	Degraded
	// Unhealthy hosts are skipped unless the host set is in panic mode
	Unhealthy
)

// String returns the lower-case name of the status
func (s HealthStatus) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Host is a single upstream endpoint owned by one member cluster.
// Health and the active request counter may change after construction; everything else is fixed.
type Host struct {
	cluster  string
	address  string
	priority uint32
	weight   uint32

	health         atomic.Int32
	activeRequests atomic.Int64
}

// NewHost creates a healthy host belonging to cluster at the given priority
func NewHost(cluster, address string, priority, weight uint32) *Host {
	if weight == 0 {
		weight = 1
	}
	return &Host{
		cluster:  cluster,
		address:  address,
		priority: priority,
		weight:   weight,
	}
}

// Cluster returns the name of the member cluster that owns the host
func (h *Host) Cluster() string {
	return h.cluster
}

// Address returns the host's "ip:port" or "name:port" address
func (h *Host) Address() string {
	return h.address
}

// Priority returns the priority level of the host within its own cluster
func (h *Host) Priority() uint32 {
	return h.priority
}

// Weight returns the load balancing weight, never zero
func (h *Host) Weight() uint32 {
	return h.weight
}

// Health returns the current health status
func (h *Host) Health() HealthStatus {
	return HealthStatus(h.health.Load())
}

// SetHealth changes the health status. The owning host set must be refreshed with
// HostSet.Update for the change to be reflected in its healthy/degraded buckets.
func (h *Host) SetHealth(status HealthStatus) {
	h.health.Store(int32(status))
}

// WithHealth sets the health status and returns the host, for construction chains
func (h *Host) WithHealth(status HealthStatus) *Host {
	h.SetHealth(status)
	return h
}

// AcquireRequest records a request in flight against the host
func (h *Host) AcquireRequest() {
	h.activeRequests.Add(1)
}

// ReleaseRequest records the completion of a request started with AcquireRequest
func (h *Host) ReleaseRequest() {
	h.activeRequests.Add(-1)
}

// ActiveRequests returns the number of requests currently in flight
func (h *Host) ActiveRequests() int64 {
	return h.activeRequests.Load()
}

// ZapField returns the host as a structured log field
func (h *Host) ZapField() zap.Field {
	if h == nil {
		return zap.Skip()
	}
	return zap.String("host", h.cluster+"/"+h.address)
}
