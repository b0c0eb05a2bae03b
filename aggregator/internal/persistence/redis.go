package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	cluster "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
)

const (
	defaultKeyPrefix = "aggregator:"

	opPut    = "put"
	opDelete = "del"
)

// redisStore implements the Store interface using Redis. Clusters are stored as
// protojson documents, their names in a set, and every change is published on an
// updates channel.
type redisStore struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// newRedisClient creates a Redis client from a redis:// URI
func newRedisClient(redisURI string) (*redis.Client, error) {
	if redisURI == "" {
		return nil, errors.New("redis URI is required")
	}

	opts, err := redis.ParseURL(redisURI)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URI: %w", err)
	}

	return redis.NewClient(opts), nil
}

// newRedisStore creates a new Redis-backed cluster store
func newRedisStore(client *redis.Client, keyPrefix string, logger *zap.Logger) (*redisStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}

	return &redisStore{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger.Named("cluster-store"),
	}, nil
}

// NewRedisStore creates a cluster store on client. Keys are namespaced by keyPrefix.
func NewRedisStore(client *redis.Client, keyPrefix string, logger *zap.Logger) (Store, error) {
	store, err := newRedisStore(client, keyPrefix, logger)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// formClusterKey creates a Redis key for a cluster document
func (r *redisStore) formClusterKey(name string) string {
	return r.keyPrefix + "cluster:" + name
}

// formNamesKey creates the Redis key of the cluster name set
func (r *redisStore) formNamesKey() string {
	return r.keyPrefix + "clusters"
}

// formUpdatesChannel creates the pub/sub channel for cluster updates
func (r *redisStore) formUpdatesChannel() string {
	return r.keyPrefix + "updates"
}

// PutCluster stores or replaces a member cluster and announces the change
func (r *redisStore) PutCluster(ctx context.Context, c *cluster.Cluster) error {
	if c.GetName() == "" {
		return errors.New("cluster name is required")
	}

	data, err := protojson.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal cluster %s: %w", c.GetName(), err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.formClusterKey(c.GetName()), data, 0)
	pipe.SAdd(ctx, r.formNamesKey(), c.GetName())

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store cluster %s: %w", c.GetName(), err)
	}

	update := encodeUpdate(ClusterUpdate{Name: c.GetName()})
	if err := r.client.Publish(ctx, r.formUpdatesChannel(), update).Err(); err != nil {
		return fmt.Errorf("failed to announce cluster %s: %w", c.GetName(), err)
	}
	return nil
}

// GetCluster returns the stored cluster or ErrNotFound
func (r *redisStore) GetCluster(ctx context.Context, name string) (*cluster.Cluster, error) {
	data, err := r.client.Get(ctx, r.formClusterKey(name)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get cluster %s: %w", name, err)
	}

	var c cluster.Cluster
	if err := protojson.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode cluster %s: %w", name, err)
	}
	return &c, nil
}

// DeleteCluster removes a member cluster and announces the removal
func (r *redisStore) DeleteCluster(ctx context.Context, name string) error {
	pipe := r.client.TxPipeline()
	del := pipe.Del(ctx, r.formClusterKey(name))
	pipe.SRem(ctx, r.formNamesKey(), name)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete cluster %s: %w", name, err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}

	update := encodeUpdate(ClusterUpdate{Name: name, Removed: true})
	if err := r.client.Publish(ctx, r.formUpdatesChannel(), update).Err(); err != nil {
		return fmt.Errorf("failed to announce removal of cluster %s: %w", name, err)
	}
	return nil
}

// ListClusterNames returns the names of all stored clusters, sorted
func (r *redisStore) ListClusterNames(ctx context.Context) ([]string, error) {
	names, err := r.client.SMembers(ctx, r.formNamesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// SubscribeToClusterUpdates delivers update notifications to handler
func (r *redisStore) SubscribeToClusterUpdates(ctx context.Context, handler UpdateHandler) (func(), error) {
	pubsub := r.client.Subscribe(ctx, r.formUpdatesChannel())

	// Wait for confirmation so no update published after this call is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to cluster updates: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				update, err := decodeUpdate(msg.Payload)
				if err != nil {
					r.logger.Warn("Ignoring cluster update", zap.String("payload", msg.Payload), zap.Error(err))
					continue
				}
				handler(ctx, update)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

// Close closes the Redis client connection
func (r *redisStore) Close() error {
	return r.client.Close()
}

func encodeUpdate(u ClusterUpdate) string {
	if u.Removed {
		return opDelete + ":" + u.Name
	}
	return opPut + ":" + u.Name
}

func decodeUpdate(payload string) (ClusterUpdate, error) {
	op, name, ok := strings.Cut(payload, ":")
	if !ok || name == "" {
		return ClusterUpdate{}, ErrInvalidUpdate
	}
	switch op {
	case opPut:
		return ClusterUpdate{Name: name}, nil
	case opDelete:
		return ClusterUpdate{Name: name, Removed: true}, nil
	default:
		return ClusterUpdate{}, fmt.Errorf("%w: unknown operation %q", ErrInvalidUpdate, op)
	}
}
