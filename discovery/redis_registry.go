package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
)

// RedisRegistry is the shared worker registry. Entries carry a TTL and are
// refreshed by heartbeats; a worker that stops heartbeating disappears from
// lookups without any cleanup pass.
type RedisRegistry struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	logger    core.Logger
}

// NewRedisRegistry connects to the Redis backend named by url.
func NewRedisRegistry(url string, ttl time.Duration, logger core.Logger) (*RedisRegistry, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", core.ErrInvalidConfiguration)
	}
	opt.PoolSize = 10
	opt.MaxRetries = 3
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 5 * time.Second
	opt.WriteTimeout = 5 * time.Second

	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", core.ErrServiceUnavailable)
	}

	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &RedisRegistry{
		client:    client,
		namespace: "promptdial",
		ttl:       ttl,
		logger:    logger,
	}, nil
}

func (r *RedisRegistry) workerKey(id string) string {
	return fmt.Sprintf("%s:workers:%s", r.namespace, id)
}

func (r *RedisRegistry) serviceKey(service string) string {
	return fmt.Sprintf("%s:services:%s", r.namespace, service)
}

// Register stores the worker record and indexes it by service, atomically.
func (r *RedisRegistry) Register(ctx context.Context, info *WorkerInfo) error {
	if info.ID == "" || info.Service == "" {
		return fmt.Errorf("worker registration needs id and service: %w", core.ErrInvalidConfiguration)
	}
	info.LastSeen = time.Now()
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal worker %s: %w", info.ID, err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.workerKey(info.ID), data, r.ttl)
	pipe.SAdd(ctx, r.serviceKey(info.Service), info.ID)
	pipe.Expire(ctx, r.serviceKey(info.Service), r.ttl*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to register worker %s: %w", info.ID, err)
	}

	r.logger.Info("Worker registered", map[string]interface{}{
		"operation": "register",
		"worker_id": info.ID,
		"service":   info.Service,
		"address":   info.Address,
		"port":      info.Port,
		"ttl":       r.ttl.String(),
	})
	return nil
}

// Unregister removes the worker record and its index entry.
func (r *RedisRegistry) Unregister(ctx context.Context, id string) error {
	data, err := r.client.Get(ctx, r.workerKey(id)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load worker %s: %w", id, err)
	}
	var info WorkerInfo
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		return fmt.Errorf("corrupt worker record %s: %w", id, err)
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.workerKey(id))
	pipe.SRem(ctx, r.serviceKey(info.Service), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to unregister worker %s: %w", id, err)
	}
	return nil
}

// Heartbeat refreshes the record's TTL and last-seen stamp.
func (r *RedisRegistry) Heartbeat(ctx context.Context, id string) error {
	data, err := r.client.Get(ctx, r.workerKey(id)).Result()
	if err == redis.Nil {
		return fmt.Errorf("heartbeat for unknown worker %s: %w", id, core.ErrServiceUnavailable)
	}
	if err != nil {
		return fmt.Errorf("failed to load worker %s: %w", id, err)
	}
	var info WorkerInfo
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		return fmt.Errorf("corrupt worker record %s: %w", id, err)
	}
	info.LastSeen = time.Now()
	refreshed, err := json.Marshal(&info)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.workerKey(id), refreshed, r.ttl).Err()
}

// Lookup returns the live workers for a service. Expired index members are
// skipped; their record key has already lapsed.
func (r *RedisRegistry) Lookup(ctx context.Context, service string) ([]*WorkerInfo, error) {
	ids, err := r.client.SMembers(ctx, r.serviceKey(service)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to list %s workers: %w", service, err)
	}

	var out []*WorkerInfo
	for _, id := range ids {
		data, err := r.client.Get(ctx, r.workerKey(id)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load worker %s: %w", id, err)
		}
		var info WorkerInfo
		if err := json.Unmarshal([]byte(data), &info); err != nil {
			r.logger.Warn("Skipping corrupt worker record", map[string]interface{}{
				"operation": "lookup",
				"worker_id": id,
				"error":     err.Error(),
			})
			continue
		}
		out = append(out, &info)
	}
	return out, nil
}

// StartHeartbeat refreshes the worker's registration on the given interval
// until ctx is cancelled.
func (r *RedisRegistry) StartHeartbeat(ctx context.Context, id string, interval time.Duration) {
	if interval <= 0 {
		interval = r.ttl / 3
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Heartbeat(ctx, id); err != nil {
				r.logger.Warn("Worker heartbeat failed", map[string]interface{}{
					"operation": "heartbeat",
					"worker_id": id,
					"error":     err.Error(),
				})
			}
		}
	}
}
