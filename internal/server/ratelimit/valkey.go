package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

// ValkeyCounter shares windows between server instances through valkey.
type ValkeyCounter struct {
	client valkey.Client
	prefix string
}

// NewValkeyCounter connects to a single valkey node.
func NewValkeyCounter(addr, prefix string) (*ValkeyCounter, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:       []string{addr},
		DisableCache:      true,
		ForceSingleClient: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect valkey: %w", err)
	}
	return &ValkeyCounter{client: client, prefix: prefix}, nil
}

func (c *ValkeyCounter) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	k := c.prefix + key
	count, err := c.client.Do(ctx, c.client.B().Incr().Key(k).Build()).AsInt64()
	if err != nil {
		return 0, 0, fmt.Errorf("incr: %w", err)
	}
	if count == 1 {
		if err := c.expire(ctx, k, window); err != nil {
			return 0, 0, err
		}
		return count, window, nil
	}

	ttl, err := c.ttl(ctx, k)
	if err != nil {
		return 0, 0, err
	}
	if ttl <= 0 {
		// The key lost its expiry (for example a crash between INCR and
		// PEXPIRE); restart the window instead of counting forever.
		if err := c.expire(ctx, k, window); err != nil {
			return 0, 0, err
		}
		ttl = window
	}
	return count, ttl, nil
}

func (c *ValkeyCounter) Get(ctx context.Context, key string) (int64, time.Duration, error) {
	k := c.prefix + key
	count, err := c.client.Do(ctx, c.client.B().Get().Key(k).Build()).AsInt64()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("get: %w", err)
	}
	ttl, err := c.ttl(ctx, k)
	if err != nil {
		return 0, 0, err
	}
	return count, ttl, nil
}

func (c *ValkeyCounter) Reset(ctx context.Context, key string) error {
	if err := c.client.Do(ctx, c.client.B().Del().Key(c.prefix+key).Build()).Error(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (c *ValkeyCounter) Close() {
	c.client.Close()
}

func (c *ValkeyCounter) expire(ctx context.Context, k string, window time.Duration) error {
	cmd := c.client.B().Pexpire().Key(k).Milliseconds(window.Milliseconds()).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("pexpire: %w", err)
	}
	return nil
}

func (c *ValkeyCounter) ttl(ctx context.Context, k string) (time.Duration, error) {
	ms, err := c.client.Do(ctx, c.client.B().Pttl().Key(k).Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("pttl: %w", err)
	}
	if ms < 0 {
		return 0, nil
	}
	return time.Duration(ms) * time.Millisecond, nil
}
