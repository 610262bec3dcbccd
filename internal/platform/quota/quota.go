// Package quota caps how many analyses a user can generate per UTC day.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrQuotaExceeded is returned once the daily limit is used up.
var ErrQuotaExceeded = errors.New("daily analysis quota exceeded")

// Limiter reserves and releases units of a user's daily allowance.
type Limiter interface {
	// Reserve takes one unit, returning ErrQuotaExceeded when none are left.
	Reserve(ctx context.Context, userID uuid.UUID) (Usage, error)
	// Release gives back a unit taken by Reserve, used when the work failed.
	Release(ctx context.Context, userID uuid.UUID)
}

// Usage describes the user's allowance after a successful Reserve.
type Usage struct {
	Used    int64     `json:"used"`
	Limit   int64     `json:"limit"`
	ResetAt time.Time `json:"reset_at"`
}

// Nop never limits. Used when no redis is configured or the limit is zero.
type Nop struct{}

func (Nop) Reserve(context.Context, uuid.UUID) (Usage, error) { return Usage{}, nil }
func (Nop) Release(context.Context, uuid.UUID)                {}

// RedisLimiter is a fixed daily window kept in one redis counter per user per day.
type RedisLimiter struct {
	client redis.Cmdable
	limit  int64
	prefix string
	logger zerolog.Logger
	now    func() time.Time
}

// NewRedisLimiter builds a limiter allowing limit units per user per UTC day.
func NewRedisLimiter(client redis.Cmdable, limit int, logger zerolog.Logger) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  int64(limit),
		prefix: "quota:analysis:",
		logger: logger.With().Str("component", "quota").Logger(),
		now:    time.Now,
	}
}

func (l *RedisLimiter) window() (day string, reset time.Time, ttl time.Duration) {
	now := l.now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	reset = start.Add(24 * time.Hour)
	// Relative TTL so the counter's lifetime does not depend on redis's clock.
	return start.Format("20060102"), reset, reset.Add(time.Hour).Sub(now)
}

func (l *RedisLimiter) key(userID uuid.UUID, day string) string {
	return l.prefix + userID.String() + ":" + day
}

// Reserve increments today's counter. A redis failure lets the request through
// and is logged.
func (l *RedisLimiter) Reserve(ctx context.Context, userID uuid.UUID) (Usage, error) {
	day, reset, ttl := l.window()
	key := l.key(userID, day)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		l.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("quota check failed, allowing request")
		return Usage{Limit: l.limit, ResetAt: reset}, nil
	}

	used := incr.Val()
	usage := Usage{Used: used, Limit: l.limit, ResetAt: reset}
	if used > l.limit {
		l.client.Decr(ctx, key)
		usage.Used = l.limit
		return usage, fmt.Errorf("%w: %d of %d used, resets at %s", ErrQuotaExceeded, l.limit, l.limit, reset.Format(time.RFC3339))
	}
	return usage, nil
}

// Release decrements today's counter, never below zero.
func (l *RedisLimiter) Release(ctx context.Context, userID uuid.UUID) {
	day, _, _ := l.window()
	key := l.key(userID, day)

	n, err := l.client.Decr(ctx, key).Result()
	if err != nil {
		l.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("quota release failed")
		return
	}
	if n < 0 {
		l.client.Set(ctx, key, 0, redis.KeepTTL)
	}
}

// New picks the limiter for the configuration: Nop unless both a redis URL and
// a positive limit are given. The returned close func releases the client.
func New(ctx context.Context, redisURL string, limit int, logger zerolog.Logger) (Limiter, func() error, error) {
	if redisURL == "" || limit <= 0 {
		return Nop{}, func() error { return nil }, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisLimiter(client, limit, logger), client.Close, nil
}
