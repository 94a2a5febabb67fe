package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "rl:v1:"

// RateLimit caps attempts per account within window using a Redis counter.
// The account is the body's email or user_id; the client IP is used when the
// body names neither. Without Redis it is a no-op and
// on cache errors it fails open.
func RateLimit(cache redis.UniversalClient, name string, max int, window time.Duration, logger *slog.Logger) fiber.Handler {
	if max <= 0 {
		max = 5
	}
	if window <= 0 {
		window = time.Minute
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		key := rateLimitPrefix + name + ":" + limitSubject(c)

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		count, err := cache.Incr(ctx, key).Result()
		if err == nil && count == 1 {
			err = cache.Expire(ctx, key, window).Err()
		}
		if err != nil {
			if logger != nil {
				logger.Warn("rate limit lookup failed", slog.String("limiter", name), slog.Any("error", err))
			}
			return c.Next()
		}
		if count > int64(max) {
			if ttl, err := cache.TTL(ctx, key).Result(); err == nil && ttl > 0 {
				c.Set(fiber.HeaderRetryAfter, formatSeconds(ttl))
			}
			return fiber.NewError(http.StatusTooManyRequests, "too many attempts, try again later")
		}
		return c.Next()
	}
}

func limitSubject(c *fiber.Ctx) string {
	var req struct {
		Email  string `json:"email"`
		UserID string `json:"user_id"`
	}
	_ = c.BodyParser(&req)
	if email := strings.ToLower(strings.TrimSpace(req.Email)); email != "" {
		return "email:" + email
	}
	if id := strings.ToLower(strings.TrimSpace(req.UserID)); id != "" {
		return "user:" + id
	}
	return "ip:" + c.IP()
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatInt(int64((d+time.Second-1)/time.Second), 10)
}
