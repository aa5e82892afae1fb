package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"restaurant-system/internal/logger"
)

// RateLimiter is a fixed-window per-client request limiter kept in Redis
type RateLimiter struct {
	client redis.Cmdable
	limit  int64
	window time.Duration
	logger *logger.Logger
	now    func() time.Time
}

// NewRateLimiter allows limit requests per client per window
func NewRateLimiter(client redis.Cmdable, limit int, window time.Duration, log *logger.Logger) *RateLimiter {
	return &RateLimiter{client: client, limit: int64(limit), window: window, logger: log, now: time.Now}
}

// Limit rejects clients over the limit with 429. Redis failures let the request through.
func (l *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := logger.RequestIDFromContext(r.Context())
		ip := clientIP(r)

		windowSeconds := int64(l.window / time.Second)
		if windowSeconds < 1 {
			windowSeconds = 1
		}
		bucket := l.now().Unix() / windowSeconds
		key := fmt.Sprintf("ratelimit:%s:%d", ip, bucket)

		pipe := l.client.Pipeline()
		incr := pipe.Incr(r.Context(), key)
		pipe.Expire(r.Context(), key, l.window)
		if _, err := pipe.Exec(r.Context()); err != nil {
			l.logger.Warn("rate_limit_unavailable", "Rate limiter failed, allowing request", requestID,
				map[string]interface{}{"error": err.Error()})
			next.ServeHTTP(w, r)
			return
		}

		if incr.Val() > l.limit {
			retryAfter := (bucket+1)*windowSeconds - l.now().Unix()
			w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
			l.logger.Warn("rate_limited", "Client exceeded request limit", requestID,
				map[string]interface{}{"client_ip": ip, "count": incr.Val()})
			WriteError(w, http.StatusTooManyRequests, "too many requests", requestID)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
