package redis

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/lastvalue/internal/domain"
)

//go:embed scripts/release_lock.lua
var releaseLockLua string

const releaseTimeout = 5 * time.Second

// LockManager hands out leases on a key so that one replica at a time
// archives the committed store. A lease expires after its TTL even if the
// holder dies; releasing checks the token so a late release never frees a
// lease someone else has since taken.
type LockManager struct {
	rdb     *redis.Client
	keys    keyspace
	holder  string
	release *redis.Script
}

// NewLockManager creates a LockManager whose leases name this process as
// holder (hostname and pid).
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.rdb,
		keys:    c.keys,
		holder:  processName(),
		release: redis.NewScript(releaseLockLua),
	}
}

// Acquire takes the lease on key for ttl. The returned unlock func may be
// called more than once. When another process holds the lease the error
// wraps domain.ErrLockHeld and names the holder.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("redis: lock %s: ttl must be positive, got %s", key, ttl)
	}
	lk := lm.keys.lock(key)
	token := lm.holder + "/" + uuid.NewString()

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, lm.heldError(ctx, lk, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context is often already cancelled here.
			rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = lm.release.Run(rctx, lm.rdb, []string{lk}, token).Err()
		})
	}, nil
}

func (lm *LockManager) heldError(ctx context.Context, lk, key string) error {
	current, err := lm.rdb.Get(ctx, lk).Result()
	if err != nil {
		// Expired between SETNX and GET, or Redis went away. Either way the
		// lease was not ours.
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
		}
		return fmt.Errorf("redis: lock %s: %w", key, errors.Join(domain.ErrLockHeld, err))
	}
	return fmt.Errorf("redis: lock %s: %w by %s", key, domain.ErrLockHeld, lockHolder(current))
}

// lockHolder extracts the holder from a token written by Acquire.
func lockHolder(token string) string {
	if i := strings.LastIndexByte(token, '/'); i > 0 {
		return token[:i]
	}
	return "unknown"
}

func processName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return host + ":" + strconv.Itoa(os.Getpid())
}

var _ domain.LockManager = (*LockManager)(nil)
