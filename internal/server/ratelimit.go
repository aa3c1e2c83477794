package server

import (
	"context"
	"fmt"
	"time"

	"classroom/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const writeWindow = time.Minute

// hitScript counts one hit and sets the window TTL on a counter that has none.
var hitScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 or redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// CheckRateLimit counts one hit of id against resource and reports whether it
// is still within limit for the current window.
func CheckRateLimit(ctx context.Context, rdb *redis.Client, resource, id string, limit int, window time.Duration) (bool, error) {
	if rdb == nil || limit <= 0 {
		return true, nil
	}

	key := fmt.Sprintf("rl:%s:%s", resource, id)
	cnt, err := hitScript.Run(ctx, rdb, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return true, err
	}
	return cnt <= int64(limit), nil
}

// RateLimit allows limit requests per window for each caller of the named
// resource. Callers are keyed by user id when authenticated, otherwise by IP.
// Redis errors fail open.
func (s *Server) RateLimit(resource string, limit int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := "ip:" + c.IP()
		if uid := currentUserID(c); uid != "" {
			id = "user:" + uid
		}

		allowed, err := CheckRateLimit(c.UserContext(), s.redis, resource, id, limit, window)
		if err != nil {
			observability.RedisErrorRate.WithLabelValues("rate_limit").Inc()
			return c.Next()
		}
		if !allowed {
			observability.RateLimitRejections.WithLabelValues(resource).Inc()
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}
		return c.Next()
	}
}
