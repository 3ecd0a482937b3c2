package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/yugo-dao/yugo-sync/pkg/logger"
	"github.com/yugo-dao/yugo-sync/pkg/response"
	"go.uber.org/zap"
)

// Limiter decides whether one more request from key may pass
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimitConfig holds intent submission limits
type RateLimitConfig struct {
	// Requests per second per client IP, 0 disables limiting
	RequestsPerSecond int
	// Token bucket capacity
	BurstSize int
	// Key prefix for Redis buckets
	KeyPrefix string
	// Idle buckets older than EntryTTL are dropped every CleanupInterval
	CleanupInterval time.Duration
	EntryTTL        time.Duration
}

// DefaultRateLimitConfig returns default configuration
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 20,
		BurstSize:         40,
		KeyPrefix:         "yugo:ratelimit:",
		CleanupInterval:   time.Minute,
		EntryTTL:          time.Minute,
	}
}

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastUpdate time.Time
}

// LocalRateLimiter is an in-process token bucket per key
type LocalRateLimiter struct {
	config  RateLimitConfig
	buckets sync.Map
	stop    chan struct{}
	once    sync.Once
	now     func() time.Time

	allowed  atomic.Uint64
	rejected atomic.Uint64
}

// NewLocalRateLimiter creates a limiter and starts its cleanup loop
func NewLocalRateLimiter(config RateLimitConfig) *LocalRateLimiter {
	rl := &LocalRateLimiter{
		config: config,
		stop:   make(chan struct{}),
		now:    time.Now,
	}
	if config.CleanupInterval > 0 {
		go rl.cleanup()
	}
	return rl
}

// Allow takes one token from key's bucket
func (rl *LocalRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := rl.now()
	v, _ := rl.buckets.LoadOrStore(key, &bucket{
		tokens:     float64(rl.config.BurstSize),
		lastUpdate: now,
	})
	b := v.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()

	refill := now.Sub(b.lastUpdate).Seconds() * float64(rl.config.RequestsPerSecond)
	b.tokens = min(float64(rl.config.BurstSize), b.tokens+refill)
	b.lastUpdate = now

	if b.tokens >= 1 {
		b.tokens--
		rl.allowed.Add(1)
		return true, nil
	}
	rl.rejected.Add(1)
	return false, nil
}

// GetStats returns allowed and rejected counts
func (rl *LocalRateLimiter) GetStats() (allowed, rejected uint64) {
	return rl.allowed.Load(), rl.rejected.Load()
}

func (rl *LocalRateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := rl.now().Add(-rl.config.EntryTTL)
			rl.buckets.Range(func(key, value interface{}) bool {
				b := value.(*bucket)
				b.mu.Lock()
				if b.lastUpdate.Before(cutoff) {
					rl.buckets.Delete(key)
				}
				b.mu.Unlock()
				return true
			})
		case <-rl.stop:
			return
		}
	}
}

// Stop ends the cleanup loop
func (rl *LocalRateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

// tokenBucket refills and takes one token atomically. KEYS[1] is the bucket,
// ARGV is rate, burst and now in seconds.
var tokenBucket = goredis.NewScript(`
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call("HMGET", KEYS[1], "tokens", "last_update")
local tokens = tonumber(data[1]) or burst
local last = tonumber(data[2]) or now

tokens = math.min(burst, tokens + (now - last) * rate)
local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "last_update", now)
redis.call("EXPIRE", KEYS[1], 60)
return allowed
`)

// RedisRateLimiter shares buckets across replicas
type RedisRateLimiter struct {
	config RateLimitConfig
	client goredis.Scripter
}

// NewRedisRateLimiter creates a limiter backed by client
func NewRedisRateLimiter(client goredis.Scripter, config RateLimitConfig) *RedisRateLimiter {
	return &RedisRateLimiter{config: config, client: client}
}

// Allow takes one token from key's shared bucket
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := float64(time.Now().UnixNano()) / 1e9
	allowed, err := tokenBucket.Run(ctx, rl.client,
		[]string{rl.config.KeyPrefix + key},
		rl.config.RequestsPerSecond, rl.config.BurstSize, now,
	).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit script: %w", err)
	}
	return allowed == 1, nil
}

// RateLimiter limits requests per client IP. Limiter errors let the request
// through.
func RateLimiter(limiter Limiter, config RateLimitConfig, log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.NewNop()
	}
	limit := strconv.Itoa(config.RequestsPerSecond)

	return func(c *gin.Context) {
		allowed, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			log.WithContext(c.Request.Context()).Warn("rate limiter unavailable", zap.Error(err))
			allowed = true
		}

		c.Header("X-RateLimit-Limit", limit)
		if !allowed {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				response.TooManyRequests("Intent rate limit exceeded, retry in a second"))
			return
		}
		c.Next()
	}
}
