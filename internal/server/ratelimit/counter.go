package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Counter is a fixed-window hit counter. Increment starts a window of the
// given length on the first hit; ttl is the time left in the window.
type Counter interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
	Get(ctx context.Context, key string) (count int64, ttl time.Duration, err error)
	Reset(ctx context.Context, key string) error
}

type window struct {
	count   int64
	resetAt time.Time
}

// MemoryCounter keeps windows in process memory. State is lost on restart.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (c *MemoryCounter) Increment(_ context.Context, key string, length time.Duration) (int64, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	w, ok := c.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(length)}
		c.windows[key] = w
	}
	w.count++
	return w.count, w.resetAt.Sub(now), nil
}

func (c *MemoryCounter) Get(_ context.Context, key string) (int64, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	w, ok := c.windows[key]
	if !ok || !now.Before(w.resetAt) {
		return 0, 0, nil
	}
	return w.count, w.resetAt.Sub(now), nil
}

func (c *MemoryCounter) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.windows, key)
	return nil
}

// Sweep drops windows that have ended and returns how many it removed.
func (c *MemoryCounter) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for k, w := range c.windows {
		if !now.Before(w.resetAt) {
			delete(c.windows, k)
			n++
		}
	}
	return n
}

// Run sweeps ended windows every interval until ctx is done.
func (c *MemoryCounter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-ctx.Done():
			return
		}
	}
}
