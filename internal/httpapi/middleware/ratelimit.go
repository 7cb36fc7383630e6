package middleware

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/aura-api/internal/common"
)

type Limiter interface {
	Allow(ctx context.Context, scope, subject string, limit int, window time.Duration) (bool, int64, error)
}

// RateLimit caps requests per authenticated user. Limiter errors let the request through.
func RateLimit(l Limiter, scope string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil || limit <= 0 {
			c.Next()
			return
		}
		uid, ok := UserID(c)
		if !ok {
			c.Next()
			return
		}

		allowed, n, err := l.Allow(c.Request.Context(), scope, uid, limit, window)
		if err != nil {
			log.Printf("[RateLimit] limiter unavailable scope=%s user_id=%s err=%v", scope, uid, err)
			c.Next()
			return
		}
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(window/time.Second)))
			common.FailWithData(c, http.StatusTooManyRequests, 42901, "too many requests", gin.H{
				"reason": "RATE_LIMIT_EXCEEDED",
				"count":  n,
			})
			return
		}
		c.Next()
	}
}
