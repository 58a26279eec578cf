package middleware

import (
	"net/http"
	"sync"
	"time"

	"homeassist/internal/metrics"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxLimiters bounds the per-client limiter table
const maxLimiters = 10000

// MiddlewareManager holds the state shared by the API middleware
type MiddlewareManager struct {
	secret []byte
	logger *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewMiddlewareManager creates the middleware set. An empty secret disables
// authentication and a non-positive rps disables rate limiting.
func NewMiddlewareManager(secret string, rps float64, burst int, logger *zap.Logger) *MiddlewareManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if burst <= 0 {
		burst = 1
	}
	return &MiddlewareManager{
		secret:   []byte(secret),
		logger:   logger.Named("http"),
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
}

// RequestLogger logs every request and records it in the HTTP metrics
func (m *MiddlewareManager) RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		d := time.Since(start)
		status := c.Writer.Status()
		metrics.RecordHTTPRequest(c.Request.Method, c.FullPath(), status, d)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", d),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if status >= http.StatusInternalServerError {
			m.logger.Error("request failed", fields...)
			return
		}
		m.logger.Debug("request", fields...)
	}
}

// RateLimit applies a token bucket per authenticated subject or client IP
func (m *MiddlewareManager) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.rate <= 0 {
			c.Next()
			return
		}
		key := c.GetString(SubjectKey)
		if key == "" {
			key = c.ClientIP()
		}
		if !m.limiter(key).Allow() {
			m.logger.Warn("rate limit exceeded", zap.String("key", key), zap.String("path", c.Request.URL.Path))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}
		c.Next()
	}
}

func (m *MiddlewareManager) limiter(key string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.limiters[key]
	if !ok {
		if len(m.limiters) >= maxLimiters {
			m.limiters = make(map[string]*rate.Limiter)
		}
		l = rate.NewLimiter(m.rate, m.burst)
		m.limiters[key] = l
	}
	return l
}
