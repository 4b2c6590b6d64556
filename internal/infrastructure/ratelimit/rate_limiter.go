package ratelimit

import (
	"sync"
	"time"
)

// Action names a rate-limited operation.
const (
	ActionSendMessage = "send_message"
	ActionSubscribe   = "subscribe"
	ActionAPIRequest  = "api_request"
)

// TokenBucket represents a token bucket for rate limiting
type TokenBucket struct {
	tokens     int
	maxTokens  int
	refillRate int
	refillTime time.Duration
	lastRefill time.Time
	lastUsed   time.Time
	mutex      sync.Mutex
}

// Limit configures the bucket created for an action.
type Limit struct {
	Burst      int
	RefillTime time.Duration
}

// PerMinute spreads n tokens evenly over a minute with a burst of n.
func PerMinute(n int) Limit {
	if n <= 0 {
		n = 1
	}
	return Limit{Burst: n, RefillTime: time.Minute / time.Duration(n)}
}

// RateLimiter manages rate limiting for different users and actions
type RateLimiter struct {
	buckets  map[string]*TokenBucket
	limits   map[string]Limit
	fallback Limit
	mutex    sync.RWMutex
	now      func() time.Time
}

// NewRateLimiter creates a limiter; actions missing from limits get 20 per minute.
func NewRateLimiter(limits map[string]Limit) *RateLimiter {
	if limits == nil {
		limits = make(map[string]Limit)
	}
	return &RateLimiter{
		buckets:  make(map[string]*TokenBucket),
		limits:   limits,
		fallback: PerMinute(20),
		now:      time.Now,
	}
}

func newTokenBucket(limit Limit, now time.Time) *TokenBucket {
	return &TokenBucket{
		tokens:     limit.Burst,
		maxTokens:  limit.Burst,
		refillRate: 1,
		refillTime: limit.RefillTime,
		lastRefill: now,
		lastUsed:   now,
	}
}

// allow consumes a token if one is available. The duration is how long
// until the next token when it is not.
func (tb *TokenBucket) allow(now time.Time) (bool, time.Duration) {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	tb.lastUsed = now

	elapsed := now.Sub(tb.lastRefill)
	refills := int(elapsed / tb.refillTime)
	if refills > 0 {
		tb.tokens += refills * tb.refillRate
		if tb.tokens > tb.maxTokens {
			tb.tokens = tb.maxTokens
		}
		tb.lastRefill = tb.lastRefill.Add(time.Duration(refills) * tb.refillTime)
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true, 0
	}

	return false, tb.lastRefill.Add(tb.refillTime).Sub(now)
}

// Allow checks if a user action is allowed
func (rl *RateLimiter) Allow(key, action string) (bool, time.Duration) {
	bucketKey := key + ":" + action
	now := rl.now()

	rl.mutex.RLock()
	bucket, exists := rl.buckets[bucketKey]
	rl.mutex.RUnlock()

	if !exists {
		rl.mutex.Lock()
		if bucket, exists = rl.buckets[bucketKey]; !exists {
			limit, ok := rl.limits[action]
			if !ok {
				limit = rl.fallback
			}
			bucket = newTokenBucket(limit, now)
			rl.buckets[bucketKey] = bucket
		}
		rl.mutex.Unlock()
	}

	return bucket.allow(now)
}

// Cleanup removes buckets idle for longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	for key, bucket := range rl.buckets {
		bucket.mutex.Lock()
		idle := now.Sub(bucket.lastUsed)
		bucket.mutex.Unlock()
		if idle > maxIdle {
			delete(rl.buckets, key)
		}
	}
}

// StartCleanupRoutine prunes idle buckets every interval until stop is closed.
func (rl *RateLimiter) StartCleanupRoutine(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				rl.Cleanup(time.Hour)
			case <-stop:
				return
			}
		}
	}()
}
