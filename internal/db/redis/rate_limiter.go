package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"norelock.dev/syncroom/backend/internal/utils"
)

const (
	// RateLimitKeyPrefix is the prefix for rate limit keys
	RateLimitKeyPrefix = "ratelimit"
)

// RateLimiter implements sliding-window rate limiting using Redis
type RateLimiter struct {
	client *Client
	logger *utils.Logger
}

// RateLimit defines a rate limit constraint
type RateLimit struct {
	// Key is the identifier for this rate limit
	Key string

	// MaxRequests is the maximum number of requests allowed in the time window
	MaxRequests int

	// Window is the time window for rate limiting
	Window time.Duration
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	// Allowed indicates whether the request is allowed
	Allowed bool

	// Remaining is the number of requests remaining in the current window
	Remaining int

	// RetryAfter is the time after which the client should retry (if rate limited)
	RetryAfter time.Duration

	// Limit is the maximum number of requests allowed in the window
	Limit int
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(client *Client) *RateLimiter {
	return &RateLimiter{
		client: client,
		logger: client.Logger(),
	}
}

// Allow checks if a request is allowed under the rate limit
func (rl *RateLimiter) Allow(ctx context.Context, rateLimit RateLimit, identifier string) (*RateLimitResult, error) {
	logger := rl.logger

	// Format rate limit key
	rateLimitKey := formatRateLimitKey(rateLimit.Key, identifier)

	// Get current timestamp
	now := time.Now()
	windowStart := now.Add(-rateLimit.Window)
	windowStartMs := windowStart.UnixMilli()

	// Trim expired tokens and count what is left in one round trip
	pipe := rl.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, rateLimitKey, "0", strconv.FormatInt(windowStartMs, 10))
	countCmd := pipe.ZCard(ctx, rateLimitKey)
	oldestCmd := pipe.ZRange(ctx, rateLimitKey, 0, 0)

	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		logger.Error("Failed to execute rate limit pipeline", err, "key", rateLimitKey)
		return nil, err
	}

	count := countCmd.Val()
	allowed := count < int64(rateLimit.MaxRequests)
	remaining := max(rateLimit.MaxRequests-int(count), 0)

	var retryAfter time.Duration
	if !allowed {
		// The window frees up when the oldest token ages out
		retryAfter = rateLimit.Window
		if oldest := oldestCmd.Val(); len(oldest) > 0 {
			if oldestMs, err := strconv.ParseInt(oldest[0], 10, 64); err == nil {
				retryAfter = time.UnixMilli(oldestMs).Add(rateLimit.Window).Sub(now)
			}
		}
	} else {
		nowMs := now.UnixMilli()
		err = rl.client.Client().ZAdd(ctx, rateLimitKey, &redis.Z{
			Score:  float64(nowMs),
			Member: strconv.FormatInt(nowMs, 10),
		}).Err()
		if err != nil {
			logger.Error("Failed to add token to rate limit", err, "key", rateLimitKey)
			// Still return allowed since we've already determined that
		}

		// Set expiration on the key to auto-cleanup
		if err := rl.client.Expire(ctx, rateLimitKey, rateLimit.Window*2); err != nil {
			logger.Error("Failed to set expiry on rate limit key", err, "key", rateLimitKey)
		}
	}

	return &RateLimitResult{
		Allowed:    allowed,
		Remaining:  remaining,
		RetryAfter: retryAfter,
		Limit:      rateLimit.MaxRequests,
	}, nil
}

// Reset resets a rate limit for an identifier
func (rl *RateLimiter) Reset(ctx context.Context, rateLimit RateLimit, identifier string) error {
	rateLimitKey := formatRateLimitKey(rateLimit.Key, identifier)

	if err := rl.client.Del(ctx, rateLimitKey); err != nil {
		rl.logger.Error("Failed to reset rate limit", err, "key", rateLimitKey)
		return err
	}

	rl.logger.Debug("Reset rate limit", "key", rateLimitKey)
	return nil
}

// formatRateLimitKey formats a key for rate limiting
func formatRateLimitKey(key, identifier string) string {
	return FormatKey(RateLimitKeyPrefix, fmt.Sprintf("%s:%s", key, identifier))
}

// RoomCreateLimit returns the per-user room creation limit. A non-positive
// max disables the check; callers should skip Allow entirely in that case.
func RoomCreateLimit(maxPerHour int) RateLimit {
	return RateLimit{
		Key:         "room:create",
		MaxRequests: maxPerHour,
		Window:      time.Hour,
	}
}

// ConnectLimit returns the per-address WebSocket connect limit.
func ConnectLimit() RateLimit {
	return RateLimit{
		Key:         "ws:connect",
		MaxRequests: 10,
		Window:      time.Minute,
	}
}
