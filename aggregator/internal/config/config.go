package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration for the aggregator service
type Config struct {
	// Aggregate cluster settings
	Cluster ClusterConfig `envconfig:"CLUSTER"`

	// Worker pool settings
	Workers WorkersConfig `envconfig:"WORKERS"`

	// Member load balancer settings
	LB LBConfig `envconfig:"LB"`

	// Admin server settings
	Server ServerConfig `envconfig:"SERVER"`

	// xDS control plane settings
	XDS XDSConfig `envconfig:"XDS"`

	// Member cluster store settings
	Redis RedisConfig `envconfig:"REDIS"`

	// EndpointSlice source settings
	Kubernetes KubernetesConfig `envconfig:"KUBERNETES"`

	// Logging settings
	Logging LoggingConfig `envconfig:"LOGGING"`
}

// ClusterConfig names the aggregate cluster and its members in failover order
type ClusterConfig struct {
	Name    string   `envconfig:"NAME" default:"aggregate_cluster"`
	Members []string `envconfig:"MEMBERS"`
}

// WorkersConfig contains worker pool configuration
type WorkersConfig struct {
	Count          int           `envconfig:"COUNT" default:"4"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"1s"`
}

// LBConfig contains defaults applied to member clusters
type LBConfig struct {
	OverprovisioningFactor uint32 `envconfig:"OVERPROVISIONING_FACTOR" default:"140"`
	PanicThreshold         uint32 `envconfig:"PANIC_THRESHOLD" default:"50"`
	PanicDisabled          bool   `envconfig:"PANIC_DISABLED" default:"false"` // Zero PanicThreshold means the default, not off
}

// ServerConfig contains admin server configuration
type ServerConfig struct {
	Port int `envconfig:"PORT" default:"8080"`
}

// XDSConfig contains ADS server configuration
type XDSConfig struct {
	Port   int    `envconfig:"PORT" default:"18000"`
	NodeID string `envconfig:"NODE_ID" default:"envoy-node"`
}

// RedisConfig contains member cluster store configuration
type RedisConfig struct {
	Enabled   bool   `envconfig:"ENABLED" default:"false"`
	URI       string `envconfig:"URI" default:"redis://localhost:6379/0"`
	KeyPrefix string `envconfig:"KEY_PREFIX" default:"aggregator:"`
}

// KubernetesConfig contains EndpointSlice source configuration
type KubernetesConfig struct {
	Enabled      bool          `envconfig:"ENABLED" default:"false"`
	Namespace    string        `envconfig:"NAMESPACE" default:"default"`
	Kubeconfig   string        `envconfig:"KUBECONFIG"` // Empty means in-cluster config
	ResyncPeriod time.Duration `envconfig:"RESYNC_PERIOD" default:"30s"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Development bool `envconfig:"DEV" default:"false"` // Whether to use development logger (more verbose)
}

// Module provides configuration to the fx container
var Module = fx.Options(
	fx.Provide(LoadConfig),
)

// LoadConfig loads configuration from environment variables using envconfig
func LoadConfig() (*Config, error) {
	var config Config

	// Process environment variables with "AGGREGATOR" prefix
	if err := envconfig.Process("AGGREGATOR", &config); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the aggregate cluster definition and the worker pool size
func (c *Config) Validate() error {
	if c.Cluster.Name == "" {
		return fmt.Errorf("%w: cluster name is empty", ErrInvalidConfig)
	}
	if len(c.Cluster.Members) == 0 {
		return fmt.Errorf("%w: no member clusters", ErrInvalidConfig)
	}

	seen := make(map[string]struct{}, len(c.Cluster.Members))
	for _, m := range c.Cluster.Members {
		switch {
		case m == "":
			return fmt.Errorf("%w: empty member cluster name", ErrInvalidConfig)
		case m == c.Cluster.Name:
			return fmt.Errorf("%w: %s lists itself as a member", ErrInvalidConfig, m)
		}
		if _, ok := seen[m]; ok {
			return fmt.Errorf("%w: member %s listed twice", ErrInvalidConfig, m)
		}
		seen[m] = struct{}{}
	}

	if c.Workers.Count < 1 {
		return fmt.Errorf("%w: worker count must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// LogFields summarizes the configuration for the startup log line
func (c *Config) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("cluster", c.Cluster.Name),
		zap.Strings("members", c.Cluster.Members),
		zap.Int("workers", c.Workers.Count),
		zap.Int("server_port", c.Server.Port),
		zap.Int("xds_port", c.XDS.Port),
		zap.Bool("redis_enabled", c.Redis.Enabled),
		zap.Bool("kubernetes_enabled", c.Kubernetes.Enabled),
		zap.Bool("development_logging", c.Logging.Development),
	}
}
