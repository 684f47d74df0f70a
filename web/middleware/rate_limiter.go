package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RateLimiterConfig holds the per-client request budgets.
type RateLimiterConfig struct {
	QueriesPerMinute int // Max chat questions per client per minute
	UploadsPerHour   int // Max CSV uploads per client per hour
	BurstSize        int // Allow burst of N questions
	CleanupInterval  time.Duration
}

// TokenBucket implements a token bucket rate limiter.
type TokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

func NewTokenBucket(maxTokens float64, refillRate float64) *TokenBucket {
	return &TokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow checks if a request can proceed and consumes a token if so.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens = min(tb.maxTokens, tb.tokens+(elapsed*tb.refillRate))
	tb.lastRefill = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

// Remaining returns the number of tokens remaining.
func (tb *TokenBucket) Remaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	elapsed := time.Since(tb.lastRefill).Seconds()
	return int(min(tb.maxTokens, tb.tokens+(elapsed*tb.refillRate)))
}

// ClientRateLimiter manages query and upload budgets per client IP. The chat
// surface is cheap to serve but every question costs an LLM round trip on the
// backend, so questions are limited tighter than page loads.
type ClientRateLimiter struct {
	config       RateLimiterConfig
	queryLimits  map[string]*TokenBucket
	uploadLimits map[string]*TokenBucket
	mu           sync.Mutex
	logger       *zap.Logger
	stopCleanup  chan struct{}
}

func NewClientRateLimiter(config RateLimiterConfig, logger *zap.Logger) *ClientRateLimiter {
	limiter := &ClientRateLimiter{
		config:       config,
		queryLimits:  make(map[string]*TokenBucket),
		uploadLimits: make(map[string]*TokenBucket),
		logger:       logger,
		stopCleanup:  make(chan struct{}),
	}
	go limiter.cleanupRoutine()
	return limiter
}

func (rl *ClientRateLimiter) cleanupRoutine() {
	interval := rl.config.CleanupInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup drops all buckets once the maps grow large. Buckets refill to full
// within an hour, so losing them only forgives a little.
func (rl *ClientRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.queryLimits) > 1000 || len(rl.uploadLimits) > 1000 {
		rl.logger.Info("Cleaning up rate limiter cache",
			zap.Int("query_limiters", len(rl.queryLimits)),
			zap.Int("upload_limiters", len(rl.uploadLimits)))
		rl.queryLimits = make(map[string]*TokenBucket)
		rl.uploadLimits = make(map[string]*TokenBucket)
	}
}

// Stop stops the cleanup routine.
func (rl *ClientRateLimiter) Stop() {
	close(rl.stopCleanup)
}

// AllowQuery checks if a chat question from this client can proceed.
func (rl *ClientRateLimiter) AllowQuery(clientIP string) bool {
	rl.mu.Lock()
	bucket, exists := rl.queryLimits[clientIP]
	if !exists {
		refillRate := float64(rl.config.QueriesPerMinute) / 60.0
		bucket = NewTokenBucket(float64(rl.config.BurstSize), refillRate)
		rl.queryLimits[clientIP] = bucket
	}
	rl.mu.Unlock()

	return bucket.Allow()
}

// AllowUpload checks if a CSV upload from this client can proceed.
func (rl *ClientRateLimiter) AllowUpload(clientIP string) bool {
	rl.mu.Lock()
	bucket, exists := rl.uploadLimits[clientIP]
	if !exists {
		refillRate := float64(rl.config.UploadsPerHour) / 3600.0
		bucket = NewTokenBucket(float64(rl.config.UploadsPerHour), refillRate)
		rl.uploadLimits[clientIP] = bucket
	}
	rl.mu.Unlock()

	return bucket.Allow()
}

// QueryRemaining returns the remaining question tokens for a client.
func (rl *ClientRateLimiter) QueryRemaining(clientIP string) (remaining int, limit int) {
	rl.mu.Lock()
	bucket, exists := rl.queryLimits[clientIP]
	rl.mu.Unlock()

	if !exists {
		return rl.config.BurstSize, rl.config.BurstSize
	}
	return bucket.Remaining(), rl.config.BurstSize
}

// QueryLimit limits chat questions per client IP.
func QueryLimit(limiter *ClientRateLimiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		allowed := limiter.AllowQuery(clientIP)
		remaining, limit := limiter.QueryRemaining(clientIP)

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			logger.Warn("Query rate limit exceeded",
				zap.String("client_ip", clientIP),
				zap.Int("limit", limit))
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": 60,
			})
			return
		}
		c.Next()
	}
}

// UploadLimit limits CSV uploads per client IP.
func UploadLimit(limiter *ClientRateLimiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if !limiter.AllowUpload(clientIP) {
			logger.Warn("Upload rate limit exceeded",
				zap.String("client_ip", clientIP))
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": 60,
			})
			return
		}
		c.Next()
	}
}
