package transport

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"
	endpointv3 "github.com/envoyproxy/go-control-plane/envoy/config/endpoint/v3"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/williamhogman/aggregate-lb/aggregator/internal/aggregate"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/upstream"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/workers"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/xds"
)

// Admin service procedures
const (
	AdminServiceName        = "aggregator.admin.v1.AdminService"
	ChooseHostProcedure     = "/" + AdminServiceName + "/ChooseHost"
	DumpPrioritiesProcedure = "/" + AdminServiceName + "/DumpPriorities"

	// RequestIDHeader carries the request id, generated when the caller sends none
	RequestIDHeader = "X-Request-Id"
)

// HostChooser selects hosts of the aggregate cluster
type HostChooser interface {
	ChooseHost(ctx context.Context, lbCtx upstream.LoadBalancerContext) (*upstream.Host, error)
}

// AdminServer implements the admin service
type AdminServer struct {
	chooser HostChooser
	cluster *aggregate.Cluster
	logger  *zap.Logger
}

// NewAdminServer creates a new instance of AdminServer
func NewAdminServer(chooser HostChooser, cluster *aggregate.Cluster, logger *zap.Logger) *AdminServer {
	return &AdminServer{
		chooser: chooser,
		cluster: cluster,
		logger:  logger,
	}
}

// ChooseHost selects a host of the aggregate cluster on a worker. A non-empty request
// value pins selection to the host with that address when it is available.
func (s *AdminServer) ChooseHost(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[endpointv3.LbEndpoint], error) {
	var lbCtx upstream.LoadBalancerContext = upstream.DefaultContext{}
	if addr := req.Msg.GetValue(); addr != "" {
		host := findHost(s.cluster.Context(), addr)
		if host == nil {
			return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("no host with address %s in %s", addr, s.cluster.Name()))
		}
		lbCtx = upstream.WithOverrideHost(host)
	}

	host, err := s.chooser.ChooseHost(ctx, lbCtx)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(xds.LbEndpoint(host)), nil
}

// DumpPriorities returns the merged priority set of the aggregate cluster
func (s *AdminServer) DumpPriorities(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[endpointv3.ClusterLoadAssignment], error) {
	pc := s.cluster.Context()
	resp := connect.NewResponse(xds.ContextLoadAssignment(s.cluster.Name(), pc))
	resp.Header().Set("X-Context-Version", fmt.Sprint(pc.Version()))
	return resp, nil
}

func findHost(pc *aggregate.PriorityContext, addr string) *upstream.Host {
	for _, hs := range pc.HostSets() {
		for _, h := range hs.Hosts() {
			if h.Address() == addr {
				return h
			}
		}
	}
	return nil
}

func connectError(err error) error {
	switch {
	case errors.Is(err, workers.ErrNoHealthyUpstream), errors.Is(err, workers.ErrPoolClosed):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

// requestIDInterceptor echoes the caller's request id, or a fresh one, on every response
func requestIDInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			id := req.Header().Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}

			resp, err := next(ctx, req)
			if err != nil {
				var connectErr *connect.Error
				if errors.As(err, &connectErr) {
					connectErr.Meta().Set(RequestIDHeader, id)
				}
				return nil, err
			}
			resp.Header().Set(RequestIDHeader, id)
			return resp, nil
		}
	}
}
