// Package cache wraps Redis behind the small surface the engines need:
// TTL'd values, counters for rate limiting, the JWT blacklist, session
// records, and idempotency keys. Callers decide per call site whether a cache
// outage fails open or closed; this package only reports it.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheUnavailable wraps any transport-level Redis failure so call sites
// can distinguish "not there" from "could not ask".
var ErrCacheUnavailable = errors.New("cache: unavailable")

const idempotencyTTL = 24 * time.Hour

// Client is the process-wide cache handle. All methods are safe for
// concurrent use.
type Client struct {
	rdb *redis.Client
}

// New connects to the Redis instance at url (redis://host:port/db).
func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: parse url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return &Client{rdb: rdb}, nil
}

// NewFromRedis wraps an existing client. Used by tests with miniredis.
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// SetWithTTL stores value under key for ttl.
func (c *Client) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Get returns the value and whether it exists.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return v, true, nil
}

// Delete removes key; deleting an absent key is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// IncrementWithTTL bumps a counter and starts its expiry window on the first
// increment. Returns the post-increment count.
func (c *Client) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if n == 1 {
		if err := c.rdb.Expire(ctx, key, window).Err(); err != nil {
			return n, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
	}
	return n, nil
}

// BlacklistJTI records a revoked access-token id until the token would have
// expired anyway.
func (c *Client) BlacklistJTI(ctx context.Context, jti string, ttl time.Duration) error {
	return c.SetWithTTL(ctx, "blacklist:"+jti, "1", ttl)
}

// IsJTIBlacklisted reports whether the token id was revoked.
func (c *Client) IsJTIBlacklisted(ctx context.Context, jti string) (bool, error) {
	_, ok, err := c.Get(ctx, "blacklist:"+jti)
	return ok, err
}

// SetRefreshToken binds the single active refresh token for a user. The
// cache binding is the only durable record of the session; losing it logs the
// user out.
func (c *Client) SetRefreshToken(ctx context.Context, userID, tok string, ttl time.Duration) error {
	return c.SetWithTTL(ctx, "refresh:"+userID, tok, ttl)
}

// GetRefreshToken returns the bound refresh token for a user.
func (c *Client) GetRefreshToken(ctx context.Context, userID string) (string, bool, error) {
	return c.Get(ctx, "refresh:"+userID)
}

// DeleteRefreshToken clears the session binding.
func (c *Client) DeleteRefreshToken(ctx context.Context, userID string) error {
	return c.Delete(ctx, "refresh:"+userID)
}

// SetSession stores an arbitrary session record under the caller's id.
func (c *Client) SetSession(ctx context.Context, userID, tokenHash string, ttl time.Duration) error {
	return c.SetWithTTL(ctx, "session:"+userID, tokenHash, ttl)
}

// GetSession returns the stored refresh-token hash for a user.
func (c *Client) GetSession(ctx context.Context, userID string) (string, bool, error) {
	return c.Get(ctx, "session:"+userID)
}

// DeleteSession forgets a user's session record.
func (c *Client) DeleteSession(ctx context.Context, userID string) error {
	return c.Delete(ctx, "session:"+userID)
}

// RememberIdempotency claims an idempotency key for a tenant. It returns true
// when this call is the first to use the key; false means a replay.
func (c *Client) RememberIdempotency(ctx context.Context, tenantID, key string) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, "idempotency:"+tenantID+":"+key, "1", idempotencyTTL).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return ok, nil
}
