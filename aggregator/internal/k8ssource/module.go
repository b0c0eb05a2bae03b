package k8ssource

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/williamhogman/aggregate-lb/aggregator/internal/clustermanager"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/config"
	"github.com/williamhogman/aggregate-lb/aggregator/internal/upstream"
)

// SourceParams contains dependencies for the EndpointSlice source
type SourceParams struct {
	fx.In

	Config    *config.Config
	Manager   *clustermanager.Manager
	Logger    *zap.Logger
	Lifecycle fx.Lifecycle
}

// NewClientset creates a Kubernetes clientset from the kubeconfig, or from the
// in-cluster config when none is set
func NewClientset(cfg config.KubernetesConfig) (kubernetes.Interface, error) {
	var (
		restConfig *rest.Config
		err        error
	)
	if cfg.Kubeconfig != "" {
		restConfig, err = clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
	} else {
		restConfig, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}
	return clientset, nil
}

// RunSource watches EndpointSlices for the app's lifetime when enabled
func RunSource(params SourceParams) error {
	cfg := params.Config
	if !cfg.Kubernetes.Enabled {
		params.Logger.Info("Kubernetes EndpointSlice source disabled")
		return nil
	}

	client, err := NewClientset(cfg.Kubernetes)
	if err != nil {
		return err
	}

	opts := upstream.Options{
		PanicThreshold: cfg.LB.PanicThreshold,
		PanicDisabled:  cfg.LB.PanicDisabled,
	}
	source := NewSource(client, cfg.Kubernetes.Namespace, cfg.Kubernetes.ResyncPeriod, params.Manager, opts, cfg.LB.OverprovisioningFactor, params.Logger)

	params.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return source.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			source.Stop()
			return nil
		},
	})
	return nil
}

// Module wires the EndpointSlice source into the fx container
var Module = fx.Options(
	fx.Invoke(RunSource),
)
