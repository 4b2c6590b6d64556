package middleware

import (
	"math"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"adoptme/internal/infrastructure/ratelimit"
	"adoptme/pkg/errors"
	"adoptme/pkg/logger"
	"adoptme/pkg/response"
)

// RateLimit limits requests per client IP with the api_request bucket of limiter.
func RateLimit(limiter *ratelimit.RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()

			allowed, wait := limiter.Allow(ip, ratelimit.ActionAPIRequest)
			if !allowed {
				logger.Warn("RATE LIMIT: Blocked request from IP %s (retry in %v)", ip, wait)
				c.Response().Header().Set("Retry-After", retryAfter(wait))
				return response.Error(c, errors.TooManyRequests("Rate limit exceeded"))
			}

			return next(c)
		}
	}
}

func retryAfter(wait time.Duration) string {
	seconds := int(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}
