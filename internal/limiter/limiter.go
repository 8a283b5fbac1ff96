package limiter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Local bounds the number of in-flight operations per key within one process.
type Local struct {
	maxInflight int
	mu          sync.Mutex
	sem         map[string]chan struct{}
}

// NewLocal creates a limiter allowing maxInflight holders per key.
func NewLocal(maxInflight int) *Local {
	if maxInflight <= 0 {
		maxInflight = 2
	}
	return &Local{maxInflight: maxInflight, sem: map[string]chan struct{}{}}
}

// Allow tries to reserve a slot for key without blocking.
// Returns a release function and true if allowed; otherwise a no-op and false.
func (l *Local) Allow(key string) (func(), bool) {
	key = strings.ToLower(key)
	l.mu.Lock()
	ch, ok := l.sem[key]
	if !ok {
		ch = make(chan struct{}, l.maxInflight)
		l.sem[key] = ch
	}
	l.mu.Unlock()
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, true
	default:
		return func() {}, false
	}
}

// Inflight returns the number of slots currently held for key.
func (l *Local) Inflight(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sem[strings.ToLower(key)])
}

// Cooldown is a breaker shared through Redis: once a dependency fails,
// every worker backs off until the cooldown lapses. Repeated openings
// double the cooldown up to a ceiling.
type Cooldown struct {
	rdb         *redis.Client
	baseBackoff time.Duration
	maxBackoff  time.Duration
	now         func() time.Time
}

// NewCooldown wraps an existing client.
func NewCooldown(c *redis.Client, base, max time.Duration) *Cooldown {
	if base <= 0 {
		base = 5 * time.Second
	}
	if max <= 0 {
		max = 2 * time.Minute
	}
	return &Cooldown{rdb: c, baseBackoff: base, maxBackoff: max, now: time.Now}
}

func (c *Cooldown) key(name string) string {
	return fmt.Sprintf("cooldown:%s", strings.ToLower(name))
}

// Remaining returns how long the cooldown for name stays open; zero when closed.
func (c *Cooldown) Remaining(ctx context.Context, name string) time.Duration {
	until, err := c.rdb.Get(ctx, c.key(name)).Int64()
	if err != nil {
		return 0
	}
	d := time.UnixMilli(until).Sub(c.now())
	if d < 0 {
		return 0
	}
	return d
}

// IsOpen returns true if the cooldown for name is active.
func (c *Cooldown) IsOpen(ctx context.Context, name string) bool {
	return c.Remaining(ctx, name) > 0
}

// Open sets or extends the cooldown and returns its length.
func (c *Cooldown) Open(ctx context.Context, name string) time.Duration {
	k := c.key(name)
	attempts, _ := c.rdb.Incr(ctx, k+":attempts").Result()
	if attempts < 1 {
		attempts = 1
	}
	d := c.maxBackoff
	if attempts < 32 {
		if b := c.baseBackoff * (1 << (attempts - 1)); b > 0 && b < d {
			d = b
		}
	}
	until := c.now().Add(d).UnixMilli()
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, k, until, d)
	pipe.Expire(ctx, k+":attempts", 2*c.maxBackoff)
	_, _ = pipe.Exec(ctx)
	return d
}

// Close resets the cooldown for name.
func (c *Cooldown) Close(ctx context.Context, name string) {
	k := c.key(name)
	_ = c.rdb.Del(ctx, k, k+":attempts").Err()
}
