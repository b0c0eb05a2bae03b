package xds

import (
	"context"
	"fmt"
	"net"

	discovery "github.com/envoyproxy/go-control-plane/envoy/service/discovery/v3"
	"github.com/envoyproxy/go-control-plane/pkg/cache/types"
	"github.com/envoyproxy/go-control-plane/pkg/cache/v3"
	"github.com/envoyproxy/go-control-plane/pkg/resource/v3"
	"github.com/envoyproxy/go-control-plane/pkg/server/v3"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/williamhogman/aggregate-lb/aggregator/internal/aggregate"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/config"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/upstream"
)

// MemberResolver resolves member clusters by name
type MemberResolver interface {
	Get(name string) (*upstream.Cluster, bool)
}

// ServiceParams contains dependencies for the XDS service
type ServiceParams struct {
	fx.In

	Config    *config.Config
	Resolver  MemberResolver
	Cluster   *aggregate.Cluster
	Logger    *zap.Logger
	Lifecycle fx.Lifecycle
}

// Service publishes the aggregate cluster and its members to Envoy over ADS
type Service struct {
	nodeID        string
	port          int
	resolver      MemberResolver
	cluster       *aggregate.Cluster
	logger        *zap.Logger
	server        server.Server
	snapshotCache cache.SnapshotCache
	grpcServer    *grpc.Server
}

// wrapper to adapt zap logger to xDS logger interface
type logWrapper struct {
	logger *zap.Logger
}

func (l logWrapper) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l logWrapper) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l logWrapper) Warnf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l logWrapper) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

// NewService creates the service and subscribes it to the aggregate cluster's published contexts
func NewService(nodeID string, port int, resolver MemberResolver, cluster *aggregate.Cluster, logger *zap.Logger) *Service {
	srv := &Service{
		nodeID:   nodeID,
		port:     port,
		resolver: resolver,
		cluster:  cluster,
		logger:   logger.Named("xds-service"),
	}

	srv.snapshotCache = cache.NewSnapshotCache(false, cache.IDHash{}, logWrapper{logger: srv.logger})
	srv.server = server.NewServer(context.Background(), srv.snapshotCache, nil)

	srv.grpcServer = grpc.NewServer()
	discovery.RegisterAggregatedDiscoveryServiceServer(srv.grpcServer, srv.server)

	cluster.OnPublish(srv.publish)
	return srv
}

// New creates the XDS service and serves ADS for the app's lifetime
func New(params ServiceParams) *Service {
	srv := NewService(params.Config.XDS.NodeID, params.Config.XDS.Port, params.Resolver, params.Cluster, params.Logger)

	params.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			address := fmt.Sprintf("0.0.0.0:%d", srv.port)
			listener, err := net.Listen("tcp", address)
			if err != nil {
				return fmt.Errorf("failed to listen for XDS gRPC server: %w", err)
			}

			srv.logger.Info("Starting XDS gRPC server", zap.String("address", address))
			go func() {
				if err := srv.grpcServer.Serve(listener); err != nil {
					srv.logger.Error("XDS gRPC server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.grpcServer.GracefulStop()
			return nil
		},
	})

	return srv
}

func (s *Service) publish(pc *aggregate.PriorityContext) {
	if err := s.UpdateSnapshot(pc); err != nil {
		s.logger.Error("Failed to update snapshot", zap.Error(err))
	}
}

// UpdateSnapshot replaces the node's snapshot with the aggregate cluster and the members present in pc
func (s *Service) UpdateSnapshot(pc *aggregate.PriorityContext) error {
	var (
		clusters  []types.Resource
		endpoints []types.Resource
	)

	aggregateCluster, err := AggregateCluster(s.cluster.Name(), s.cluster.Members())
	if err != nil {
		return err
	}
	clusters = append(clusters, aggregateCluster)

	seen := make(map[string]struct{})
	for l := 0; l < pc.Len(); l++ {
		m, _ := pc.Member(uint32(l))
		if _, ok := seen[m.Cluster]; ok {
			continue
		}
		seen[m.Cluster] = struct{}{}

		member, ok := s.resolver.Get(m.Cluster)
		if !ok {
			continue
		}
		clusters = append(clusters, MemberCluster(member))
		endpoints = append(endpoints, MemberLoadAssignment(member))
	}

	s.logger.Info("Updating XDS snapshot",
		zap.Uint64("context_version", pc.Version()),
		zap.Int("members", len(seen)),
		zap.Int("priorities", pc.Len()))

	snapshot, err := cache.NewSnapshot(
		uuid.NewString(),
		map[resource.Type][]types.Resource{
			resource.ClusterType:  clusters,
			resource.EndpointType: endpoints,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}

	if err := s.snapshotCache.SetSnapshot(context.Background(), s.nodeID, snapshot); err != nil {
		return fmt.Errorf("failed to set snapshot: %w", err)
	}
	return nil
}

// Snapshot returns the snapshot currently served to the node
func (s *Service) Snapshot() (cache.ResourceSnapshot, error) {
	return s.snapshotCache.GetSnapshot(s.nodeID)
}
