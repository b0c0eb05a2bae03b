package upstream

import "errors"

var (
	// ErrUnsupportedPolicy is returned for load balancing policies this package does not implement
	ErrUnsupportedPolicy = errors.New("unsupported load balancing policy")

	// ErrEmptyClusterName is returned when a cluster is created without a name
	ErrEmptyClusterName = errors.New("cluster name cannot be empty")
)
