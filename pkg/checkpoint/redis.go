package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis checkpoint backend.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address string

	// Password for Redis authentication (optional)
	Password string

	// Database number to use (default: 0)
	Database int

	// Prefix is prepended to all checkpoint keys
	Prefix string

	// TTL is the time-to-live for checkpoint keys (0 = no expiration)
	TTL time.Duration

	// Timeout for Redis operations
	Timeout time.Duration

	// PoolSize is the maximum number of connections
	PoolSize int

	// MinIdleConns is the minimum number of idle connections
	MinIdleConns int
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address:      address,
		Prefix:       "mastflow:checkpoints:",
		TTL:          24 * time.Hour,
		Timeout:      5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// RedisBackend stores checkpoints in Redis for low-latency access and
// provides job leases so two runs pointed at the same source do not
// execute the same job twice.
type RedisBackend struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedisBackend creates a new Redis checkpoint backend.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	opts := &redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisBackend{
		cfg:    cfg,
		client: client,
	}, nil
}

// key returns the Redis key for a checkpoint ID.
func (b *RedisBackend) key(id string) string {
	return b.cfg.Prefix + id
}

// sourceIndexKey returns the key for the source index.
func (b *RedisBackend) sourceIndexKey(source string) string {
	return b.cfg.Prefix + "index:source:" + sanitizeKey(source)
}

// incompleteSetKey returns the key for the incomplete checkpoints set.
func (b *RedisBackend) incompleteSetKey() string {
	return b.cfg.Prefix + "incomplete"
}

// sanitizeKey removes characters that may cause issues in Redis keys.
func sanitizeKey(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, ":", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}

// Save persists a checkpoint to Redis.
func (b *RedisBackend) Save(ctx context.Context, cp *Checkpoint) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	// Pipeline keeps the data, index, and incomplete-set writes together
	pipe := b.client.Pipeline()

	pipe.Set(ctx, b.key(cp.ID), data, b.cfg.TTL)
	pipe.Set(ctx, b.sourceIndexKey(cp.Source), cp.ID, b.cfg.TTL)

	if cp.Phase != PhaseComplete {
		pipe.SAdd(ctx, b.incompleteSetKey(), cp.ID)
	} else {
		pipe.SRem(ctx, b.incompleteSetKey(), cp.ID)
	}

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint to Redis: %w", err)
	}

	return nil
}

// Load retrieves a checkpoint from Redis.
func (b *RedisBackend) Load(ctx context.Context, id string) (*Checkpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := b.client.Get(ctx, b.key(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("failed to load checkpoint from Redis: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}

	return &cp, nil
}

// Delete removes a checkpoint from Redis.
func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	// Load first so the source index can be cleaned up
	cp, err := b.Load(ctx, id)
	if err != nil && err != os.ErrNotExist {
		return err
	}

	pipe := b.client.Pipeline()
	pipe.Del(ctx, b.key(id))
	pipe.SRem(ctx, b.incompleteSetKey(), id)
	if cp != nil {
		pipe.Del(ctx, b.sourceIndexKey(cp.Source))
	}

	_, err = pipe.Exec(ctx)
	return err
}

// ListIncomplete returns all checkpoints that haven't completed.
func (b *RedisBackend) ListIncomplete(ctx context.Context) ([]*Checkpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	ids, err := b.client.SMembers(ctx, b.incompleteSetKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get incomplete checkpoints: %w", err)
	}

	var checkpoints []*Checkpoint
	for _, id := range ids {
		cp, err := b.Load(ctx, id)
		if err != nil {
			// Drop stale set entries
			b.client.SRem(ctx, b.incompleteSetKey(), id)
			continue
		}
		if cp.Phase != PhaseComplete {
			checkpoints = append(checkpoints, cp)
		} else {
			b.client.SRem(ctx, b.incompleteSetKey(), id)
		}
	}

	return checkpoints, nil
}

// FindBySource finds an incomplete checkpoint for the given source.
func (b *RedisBackend) FindBySource(ctx context.Context, source string) (*Checkpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	id, err := b.client.Get(ctx, b.sourceIndexKey(source)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("failed to find checkpoint by source: %w", err)
	}

	cp, err := b.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	if cp.Phase == PhaseComplete {
		return nil, os.ErrNotExist
	}

	return cp, nil
}

// Name returns "redis".
func (b *RedisBackend) Name() string {
	return "redis"
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// Ping checks the Redis connection.
func (b *RedisBackend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	return b.client.Ping(ctx).Err()
}

// --- Job Leases ---

// Lease is a distributed lease on a unit of work.
type Lease struct {
	backend *RedisBackend
	key     string
	value   string
	ttl     time.Duration
}

// AcquireLease attempts to lease a unit of work, typically a job
// source. A second run asking for the same item is refused until the
// lease expires or is released.
func (b *RedisBackend) AcquireLease(ctx context.Context, item string, ttl time.Duration) (*Lease, error) {
	leaseKey := b.cfg.Prefix + "lease:" + sanitizeKey(item)
	leaseValue := fmt.Sprintf("%d", time.Now().UnixNano())

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	ok, err := b.client.SetNX(ctx, leaseKey, leaseValue, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("lease already held")
	}

	return &Lease{
		backend: b,
		key:     leaseKey,
		value:   leaseValue,
		ttl:     ttl,
	}, nil
}

// Release releases the lease.
func (l *Lease) Release(ctx context.Context) error {
	// Lua guard: only the holder may delete its lease
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	_, err := script.Run(ctx, l.backend.client, []string{l.key}, l.value).Result()
	return err
}

// Extend extends the lease TTL.
func (l *Lease) Extend(ctx context.Context) error {
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)

	ttlMs := l.ttl.Milliseconds()
	result, err := script.Run(ctx, l.backend.client, []string{l.key}, l.value, ttlMs).Int()
	if err != nil {
		return err
	}
	if result == 0 {
		return fmt.Errorf("lease no longer held")
	}
	return nil
}
