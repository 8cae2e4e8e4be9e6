package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/provalivre/exam-engine/internal/config"
	"github.com/provalivre/exam-engine/internal/response"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// StartRateLimiter caps how many attempt starts a student may request per
// window. Counters live in Redis so every instance shares them.
type StartRateLimiter struct {
	rdb    redis.Cmdable
	limit  int
	window time.Duration
	log    zerolog.Logger
}

// NewStartRateLimiter creates a StartRateLimiter (e.g., 5 starts per minute).
func NewStartRateLimiter(rdb redis.Cmdable, limit int, window time.Duration, log zerolog.Logger) *StartRateLimiter {
	return &StartRateLimiter{
		rdb:    rdb,
		limit:  limit,
		window: window,
		log:    log.With().Str("component", "start_rate_limiter").Logger(),
	}
}

// Middleware returns a Gin middleware keyed by the student in the claims.
// Redis failures let the request through.
func (rl *StartRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil || rl.limit <= 0 {
			c.Next()
			return
		}

		key := config.CacheKey.StartRateKey(claims.UserID)
		ctx := c.Request.Context()

		pipe := rl.rdb.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, rl.window)
		if _, err := pipe.Exec(ctx); err != nil {
			rl.log.Warn().Err(err).Int("student_id", claims.UserID).Msg("Rate limit check failed")
			c.Next()
			return
		}

		if incr.Val() > int64(rl.limit) {
			if ttl, err := rl.rdb.TTL(ctx, key).Result(); err == nil && ttl > 0 {
				c.Header("Retry-After", strconv.Itoa(int(ttl.Round(time.Second).Seconds())))
			}
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}

		c.Next()
	}
}
