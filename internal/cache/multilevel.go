package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, key string) error
	Health(ctx context.Context) error
}

// MultiLevelCache reads through an in-process L1 before Redis. l2 may be nil,
// in which case it behaves as a plain memory cache.
type MultiLevelCache struct {
	l1    *MemoryCache
	l2    *RedisCache
	l1TTL time.Duration
}

func NewMultiLevelCache(l1 *MemoryCache, l2 *RedisCache, l1TTL time.Duration) *MultiLevelCache {
	if l1 == nil {
		l1 = NewMemoryCache(0)
	}
	if l1TTL <= 0 {
		l1TTL = time.Minute
	}
	return &MultiLevelCache{l1: l1, l2: l2, l1TTL: l1TTL}
}

func (c *MultiLevelCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := c.l1.Set(key, value, c.localTTL(ttl)); err != nil {
		return err
	}

	if c.l2 != nil {
		return c.l2.Set(ctx, key, value, ttl)
	}

	return nil
}

func (c *MultiLevelCache) Get(ctx context.Context, key string, dest interface{}) error {
	err := c.l1.Get(key, dest)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		return err
	}

	if c.l2 == nil {
		return ErrCacheMiss
	}

	if err := c.l2.Get(ctx, key, dest); err != nil {
		return err
	}

	// Promote; a failed L1 write only costs a later Redis read.
	_ = c.l1.Set(key, dest, c.l1TTL)
	return nil
}

// Delete drops key from both levels and tells other instances to drop their
// L1 copy.
func (c *MultiLevelCache) Delete(ctx context.Context, key string) error {
	c.l1.Delete(key)

	if c.l2 == nil {
		return nil
	}
	if err := c.l2.Delete(ctx, key); err != nil {
		return err
	}
	return c.l2.announce(ctx, key)
}

// Subscribe listens for invalidations from other instances and returns once
// the subscription is confirmed. Run consumes it. Without L2 there is nothing
// to listen to and both return nil.
func (c *MultiLevelCache) Subscribe(ctx context.Context) (*redis.PubSub, error) {
	if c.l2 == nil {
		return nil, nil
	}
	sub := c.l2.client.Subscribe(ctx, c.l2.invalidationChannel())
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("cache: subscribe: %w", err)
	}
	return sub, nil
}

// Run evicts announced keys from L1 until ctx is done, then closes sub.
func (c *MultiLevelCache) Run(ctx context.Context, sub *redis.PubSub) {
	if sub == nil {
		return
	}
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			c.l1.Delete(msg.Payload)
		}
	}
}

func (c *MultiLevelCache) Health(ctx context.Context) error {
	if c.l2 != nil {
		return c.l2.Health(ctx)
	}

	return nil
}

func (c *MultiLevelCache) localTTL(ttl time.Duration) time.Duration {
	if ttl > 0 && ttl < c.l1TTL {
		return ttl
	}
	return c.l1TTL
}
