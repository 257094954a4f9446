// Package cache provides a Redis-backed TTL store for the short-lived,
// reconstructible state the core would rather not round-trip through
// Postgres: GitApp installation access tokens, detected container ports,
// and per-service "update in progress" locks (spec.md §6).
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// AccessTokenTTL bounds how long a GitHub/GitLab installation access
	// token is cached before the next git operation re-mints one.
	AccessTokenTTL = 59 * time.Minute

	// DetectedPortTTL bounds how long a builder's auto-detected container
	// port is trusted before the next build re-probes it.
	DetectedPortTTL = 24 * time.Hour

	// UpdateLockTTL is the failsafe expiry on a per-service update lock,
	// so a crashed executor can never wedge a service's deploy queue
	// forever.
	UpdateLockTTL = 15 * time.Minute
)

// Cache is the TTL keyed store the webhook router, gitclient, and
// executor packages share.
type Cache struct {
	rdb *redis.Client
}

// New connects to a Redis instance at addr (host:port).
func New(addr string, db int) *Cache {
	return &Cache{rdb: redis.NewClient(&redis.Options{Addr: addr, DB: db})}
}

// Ping verifies connectivity at startup.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Cache) Close() error { return c.rdb.Close() }

func accessTokenKey(gitAppID string) string { return fmt.Sprintf("gitapp:token:%s", gitAppID) }

// SetAccessToken caches a freshly-minted installation access token.
func (c *Cache) SetAccessToken(ctx context.Context, gitAppID, token string) error {
	return c.rdb.Set(ctx, accessTokenKey(gitAppID), token, AccessTokenTTL).Err()
}

// GetAccessToken returns the cached token, or "", false if absent/expired.
func (c *Cache) GetAccessToken(ctx context.Context, gitAppID string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, accessTokenKey(gitAppID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func detectedPortKey(serviceID string) string { return fmt.Sprintf("service:detected_port:%s", serviceID) }

// SetDetectedPort records the container port a builder auto-detected
// (e.g. from a Dockerfile EXPOSE or nixpacks plan) for reuse on the next
// deployment of the same service.
func (c *Cache) SetDetectedPort(ctx context.Context, serviceID string, port int) error {
	return c.rdb.Set(ctx, detectedPortKey(serviceID), port, DetectedPortTTL).Err()
}

func (c *Cache) GetDetectedPort(ctx context.Context, serviceID string) (int, bool, error) {
	v, err := c.rdb.Get(ctx, detectedPortKey(serviceID)).Int()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func updateLockKey(serviceID string) string { return fmt.Sprintf("service:update_lock:%s", serviceID) }

// AcquireUpdateLock reports whether the caller won the per-service update
// lock, serializing change-log applications against that service — only
// one deployment may be in flight per service at a time (§5).
func (c *Cache) AcquireUpdateLock(ctx context.Context, serviceID, holder string) (bool, error) {
	return c.rdb.SetNX(ctx, updateLockKey(serviceID), holder, UpdateLockTTL).Result()
}

// ReleaseUpdateLock releases the lock if still held by holder; a stale
// holder value (lock was reassigned after this one expired) is a no-op.
func (c *Cache) ReleaseUpdateLock(ctx context.Context, serviceID, holder string) error {
	current, err := c.rdb.Get(ctx, updateLockKey(serviceID)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if current != holder {
		return nil
	}
	return c.rdb.Del(ctx, updateLockKey(serviceID)).Err()
}
