// Package cache provides the shared cache backend used for spell-correction
// results and for pattern-reload notifications between live instances.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss indicates a cache miss.
var ErrCacheMiss = errors.New("cache miss")

// Client defines the cache interface.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Publisher broadcasts messages to other live instances. The redis client
// implements it; the memory client delivers only in-process.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// Key builds a deterministic cache key from the given parts.
func Key(parts ...string) string {
	combined := strings.Join(parts, "|")
	hash := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(hash[:16])
}

// RedisClient implements Client and Publisher using Redis.
type RedisClient struct {
	client *redis.Client
	prefix string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Prefix   string
}

// NewRedisClient creates a new Redis cache client.
func NewRedisClient(cfg RedisConfig) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "qe:"
	}

	return &RedisClient{
		client: client,
		prefix: prefix,
	}, nil
}

// Get retrieves a value from cache.
func (c *RedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

// Set stores a value in cache with TTL.
func (c *RedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a value from cache.
func (c *RedisClient) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisClient) Close() error {
	return c.client.Close()
}

// Publish publishes a message to a Redis channel.
func (c *RedisClient) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := c.client.Publish(ctx, c.prefix+channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe subscribes to a Redis channel.
func (c *RedisClient) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := c.client.Subscribe(ctx, c.prefix+channel)

	ch := make(chan []byte, 100)
	done := make(chan struct{})

	go func() {
		defer close(ch)
		for {
			select {
			case <-done:
				return
			case msg := <-sub.Channel():
				if msg != nil {
					ch <- []byte(msg.Payload)
				}
			}
		}
	}()

	unsubscribe := func() {
		close(done)
		_ = sub.Close()
	}

	return ch, unsubscribe, nil
}

// MemoryClient implements an in-memory cache for development and tests.
type MemoryClient struct {
	mu      sync.RWMutex
	data    map[string]memEntry
	maxSize int

	subMu sync.Mutex
	subs  map[string][]chan []byte
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryClient creates a new in-memory cache client.
func NewMemoryClient(maxSize int) *MemoryClient {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryClient{
		data:    make(map[string]memEntry),
		maxSize: maxSize,
		subs:    make(map[string][]chan []byte),
	}
}

// Get retrieves a value from cache.
func (c *MemoryClient) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()

	if !ok {
		return nil, ErrCacheMiss
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.data, key)
		c.mu.Unlock()
		return nil, ErrCacheMiss
	}
	return entry.value, nil
}

// Set stores a value in cache with TTL. Zero TTL means no expiry.
func (c *MemoryClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.data) >= c.maxSize {
		// Drop the entry closest to expiry to stay bounded.
		var oldest string
		var oldestAt time.Time
		for k, e := range c.data {
			if oldest == "" || e.expiresAt.Before(oldestAt) {
				oldest, oldestAt = k, e.expiresAt
			}
		}
		delete(c.data, oldest)
	}

	entry := memEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	c.data[key] = entry
	return nil
}

// Delete removes a value from cache.
func (c *MemoryClient) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// Close is a no-op for the memory client.
func (c *MemoryClient) Close() error {
	return nil
}

// Publish delivers the payload to in-process subscribers only.
func (c *MemoryClient) Publish(ctx context.Context, channel string, payload []byte) error {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe registers an in-process subscriber for a channel.
func (c *MemoryClient) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 100)

	c.subMu.Lock()
	c.subs[channel] = append(c.subs[channel], ch)
	c.subMu.Unlock()

	unsubscribe := func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		chans := c.subs[channel]
		for i, sub := range chans {
			if sub == ch {
				c.subs[channel] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
	}

	return ch, unsubscribe, nil
}

// Ensure implementations satisfy interfaces.
var (
	_ Client    = (*RedisClient)(nil)
	_ Client    = (*MemoryClient)(nil)
	_ Publisher = (*RedisClient)(nil)
	_ Publisher = (*MemoryClient)(nil)
)
