// Package lease keeps sync cycles single-flight across replicas.
package lease

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotAcquired is returned when another replica holds the lease.
	ErrNotAcquired = errors.New("lease held by another replica")

	// ErrLost is returned by Renew once the lease expired and the key no
	// longer holds our token.
	ErrLost = errors.New("lease lost")
)

// Claim is a held lease.
type Claim interface {
	// Renew extends the lease by its TTL.
	Renew(ctx context.Context) error
	Release(ctx context.Context) error
}

// Lease grants exclusive permission to run one sync cycle.
type Lease interface {
	Acquire(ctx context.Context) (Claim, error)
	Holder(ctx context.Context) (string, error)
	Close() error
}

// releaseScript deletes the key only if it still holds our token, so an
// expired lease re-acquired by another replica is never released by us.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

var renewScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('PEXPIRE', KEYS[1], ARGV[2])
	end
	return 0
`)

// RedisLease is a SET NX PX lease in Redis.
type RedisLease struct {
	client *redis.Client
	key    string
	owner  string
	ttl    time.Duration
}

// NewRedisLease connects to redisURL and verifies the connection.
func NewRedisLease(redisURL, key string, ttl time.Duration) (*RedisLease, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisLeaseFromClient(client, key, ttl), nil
}

// NewRedisLeaseFromClient wraps an existing client.
func NewRedisLeaseFromClient(client *redis.Client, key string, ttl time.Duration) *RedisLease {
	hostname, _ := os.Hostname()
	return &RedisLease{
		client: client,
		key:    key,
		owner:  fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		ttl:    ttl,
	}
}

// Key returns the Redis key for a replicated table.
func Key(table string) string {
	return "flowlake:replicator:lease:" + table
}

// Owner identifies this replica in the lease value.
func (l *RedisLease) Owner() string {
	return l.owner
}

// Acquire takes the lease for its TTL or returns ErrNotAcquired.
func (l *RedisLease) Acquire(ctx context.Context) (Claim, error) {
	token := l.owner + "/" + uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease: %w", err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	return &redisClaim{lease: l, token: token}, nil
}

// Holder returns the current lease value, or "" when the lease is free.
func (l *RedisLease) Holder(ctx context.Context) (string, error) {
	v, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read lease holder: %w", err)
	}
	return v, nil
}

// Close closes the Redis client.
func (l *RedisLease) Close() error {
	return l.client.Close()
}

type redisClaim struct {
	lease *RedisLease
	token string
}

func (c *redisClaim) Renew(ctx context.Context) error {
	l := c.lease
	n, err := renewScript.Run(ctx, l.client, []string{l.key}, c.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to renew lease: %w", err)
	}
	if n == 0 {
		return ErrLost
	}
	return nil
}

func (c *redisClaim) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, c.lease.client, []string{c.lease.key}, c.token).Err(); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

// NoopLease always grants the lease (single replica deployments).
type NoopLease struct{}

func (NoopLease) Acquire(context.Context) (Claim, error) {
	return noopClaim{}, nil
}

func (NoopLease) Holder(context.Context) (string, error) {
	return "", nil
}

func (NoopLease) Close() error {
	return nil
}

type noopClaim struct{}

func (noopClaim) Renew(context.Context) error { return nil }

func (noopClaim) Release(context.Context) error { return nil }
