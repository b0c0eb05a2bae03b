package k8ssource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	cluster "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	core "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	endpoint "github.com/envoyproxy/go-control-plane/envoy/config/endpoint/v3"
	"go.uber.org/zap"
	discoveryv1 "k8s.io/api/discovery/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/kubernetes"
	discoverylisters "k8s.io/client-go/listers/discovery/v1"
	"k8s.io/client-go/tools/cache"

	"github.com/williamhogman/aggregate-lb/aggregator/internal/clustermanager"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/upstream"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/xds"
)

// Labels read from EndpointSlices
const (
	// PriorityLabel places the slice's endpoints at a priority of the member cluster
	PriorityLabel = "aggregator.io/priority"
	// PolicyLabel names the Envoy LB policy of the member cluster, ROUND_ROBIN by default
	PolicyLabel = "aggregator.io/lb-policy"
)

// ErrAlreadyStarted is returned when Start is called twice
var ErrAlreadyStarted = errors.New("endpoint slice source already started")

// Source turns the EndpointSlices of each Service in a namespace into a member cluster
// named after the Service
type Source struct {
	client     kubernetes.Interface
	namespace  string
	resync     time.Duration
	reconciler *xds.Reconciler
	logger     *zap.Logger

	mu      sync.Mutex
	factory informers.SharedInformerFactory
	lister  discoverylisters.EndpointSliceLister
	stopCh  chan struct{}
}

func NewSource(client kubernetes.Interface, namespace string, resync time.Duration, manager *clustermanager.Manager, opts upstream.Options, defaultFactor uint32, logger *zap.Logger) *Source {
	return &Source{
		client:     client,
		namespace:  namespace,
		resync:     resync,
		reconciler: xds.NewReconciler(manager, opts, defaultFactor),
		logger:     logger.Named("endpointslice-source").With(zap.String("namespace", namespace)),
	}
}

// Start runs the informer and returns once its cache has synced
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.factory = informers.NewSharedInformerFactoryWithOptions(s.client, s.resync, informers.WithNamespace(s.namespace))
	slices := s.factory.Discovery().V1().EndpointSlices()
	s.lister = slices.Lister()
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	_, err := slices.Informer().AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc:    s.onEvent,
		UpdateFunc: func(_, obj interface{}) { s.onEvent(obj) },
		DeleteFunc: s.onEvent,
	})
	if err != nil {
		return fmt.Errorf("failed to register endpoint slice handler: %w", err)
	}

	s.factory.Start(s.stopCh)
	for typ, ok := range s.factory.WaitForCacheSync(ctx.Done()) {
		if !ok {
			return fmt.Errorf("failed to sync informer cache for %v", typ)
		}
	}

	s.logger.Info("EndpointSlice source started")
	return nil
}

// Stop shuts the informer down
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	s.factory.Shutdown()
	s.stopCh = nil
}

func (s *Source) onEvent(obj interface{}) {
	if tombstone, ok := obj.(cache.DeletedFinalStateUnknown); ok {
		obj = tombstone.Obj
	}
	slice, ok := obj.(*discoveryv1.EndpointSlice)
	if !ok {
		return
	}

	service := slice.Labels[discoveryv1.LabelServiceName]
	if service == "" {
		return
	}
	if err := s.sync(service); err != nil {
		s.logger.Error("Failed to sync member cluster", zap.String("cluster", service), zap.Error(err))
	}
}

// sync rebuilds the member cluster of service from every slice the informer holds
func (s *Source) sync(service string) error {
	selector := labels.SelectorFromSet(labels.Set{discoveryv1.LabelServiceName: service})
	slices, err := s.lister.EndpointSlices(s.namespace).List(selector)
	if err != nil {
		return fmt.Errorf("failed to list endpoint slices: %w", err)
	}

	if len(slices) == 0 {
		s.logger.Info("Removing member cluster", zap.String("cluster", service))
		return s.reconciler.Remove(service)
	}

	replaced, err := s.reconciler.Apply(BuildCluster(service, slices))
	if err != nil {
		return err
	}
	if replaced {
		s.logger.Info("Added member cluster", zap.String("cluster", service), zap.Int("slices", len(slices)))
	}
	return nil
}

// BuildCluster renders the EndpointSlices of a Service as an Envoy cluster with an
// inline load assignment, one locality per priority
func BuildCluster(service string, slices []*discoveryv1.EndpointSlice) *cluster.Cluster {
	sorted := append([]*discoveryv1.EndpointSlice(nil), slices...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	policy := cluster.Cluster_ROUND_ROBIN
	byPriority := make(map[uint32][]*endpoint.LbEndpoint)
	seen := make(map[uint32]map[string]struct{})

	for i, slice := range sorted {
		if i == 0 {
			if v, ok := cluster.Cluster_LbPolicy_value[slice.Labels[PolicyLabel]]; ok {
				policy = cluster.Cluster_LbPolicy(v)
			}
		}

		priority := slicePriority(slice)
		if seen[priority] == nil {
			seen[priority] = make(map[string]struct{})
		}
		port := slicePort(slice)
		for _, ep := range slice.Endpoints {
			status := healthStatus(ep.Conditions)
			for _, addr := range ep.Addresses {
				key := addr + ":" + strconv.FormatUint(uint64(port), 10)
				if _, dup := seen[priority][key]; dup {
					continue
				}
				seen[priority][key] = struct{}{}
				byPriority[priority] = append(byPriority[priority], lbEndpoint(addr, port, status))
			}
		}
	}

	priorities := make([]uint32, 0, len(byPriority))
	for p := range byPriority {
		priorities = append(priorities, p)
	}
	sort.Slice(priorities, func(i, j int) bool { return priorities[i] < priorities[j] })

	cla := &endpoint.ClusterLoadAssignment{ClusterName: service}
	for _, p := range priorities {
		cla.Endpoints = append(cla.Endpoints, &endpoint.LocalityLbEndpoints{
			Priority:    p,
			LbEndpoints: byPriority[p],
		})
	}

	return &cluster.Cluster{
		Name:           service,
		LbPolicy:       policy,
		LoadAssignment: cla,
	}
}

func slicePriority(slice *discoveryv1.EndpointSlice) uint32 {
	v, ok := slice.Labels[PriorityLabel]
	if !ok {
		return 0
	}
	p, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(p)
}

func slicePort(slice *discoveryv1.EndpointSlice) uint32 {
	for _, port := range slice.Ports {
		if port.Port != nil {
			return uint32(*port.Port)
		}
	}
	return 0
}

// healthStatus maps endpoint conditions. A nil ready condition counts as ready.
func healthStatus(c discoveryv1.EndpointConditions) core.HealthStatus {
	switch {
	case c.Ready == nil || *c.Ready:
		return core.HealthStatus_HEALTHY
	case isTrue(c.Serving) && isTrue(c.Terminating):
		return core.HealthStatus_DEGRADED
	default:
		return core.HealthStatus_UNHEALTHY
	}
}

func isTrue(b *bool) bool {
	return b != nil && *b
}

func lbEndpoint(addr string, port uint32, status core.HealthStatus) *endpoint.LbEndpoint {
	return &endpoint.LbEndpoint{
		HostIdentifier: &endpoint.LbEndpoint_Endpoint{
			Endpoint: &endpoint.Endpoint{
				Address: &core.Address{
					Address: &core.Address_SocketAddress{
						SocketAddress: &core.SocketAddress{
							Protocol: core.SocketAddress_TCP,
							Address:  addr,
							PortSpecifier: &core.SocketAddress_PortValue{
								PortValue: port,
							},
						},
					},
				},
			},
		},
		HealthStatus: status,
	}
}
