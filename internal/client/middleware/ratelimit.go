package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// RateLimit allows limit requests per second per client ip.
func RateLimit(limit int64) gin.HandlerFunc {
	rateLimiter := limiter.New(memory.NewStore(), limiter.Rate{
		Period: time.Second,
		Limit:  limit,
	})
	return mgin.NewMiddleware(rateLimiter)
}
