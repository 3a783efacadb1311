package security

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mcncl/worker-echo/internal/errors"
	"github.com/mcncl/worker-echo/internal/metrics"
)

// RateLimiter provides global rate limiting
type RateLimiter struct {
	limiter *rate.Limiter
}

func newLimiter(requestsPerMinute int) *rate.Limiter {
	return rate.NewLimiter(
		rate.Every(time.Minute/time.Duration(requestsPerMinute)),
		requestsPerMinute,
	)
}

// NewRateLimiter creates a new rate limiter with specified requests per minute
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	return &RateLimiter{limiter: newLimiter(requestsPerMinute)}
}

// Allow reports whether a request may proceed now
func (l *RateLimiter) Allow() bool {
	return l.limiter.Allow()
}

// WithRateLimit applies global rate limiting to requests. A non-positive
// limit disables it.
func WithRateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return passthrough
	}
	limiter := NewRateLimiter(requestsPerMinute)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				metrics.RecordRateLimited("global")
				writeRateLimited(w, requestsPerMinute)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter provides per-IP rate limiting
type IPRateLimiter struct {
	mu                sync.Mutex
	ips               map[string]*ipLimiter
	requestsPerMinute int
	trustProxy        bool
	now               func() time.Time
}

// NewIPRateLimiter creates a new IP-based rate limiter
func NewIPRateLimiter(requestsPerMinute int) *IPRateLimiter {
	return &IPRateLimiter{
		ips:               make(map[string]*ipLimiter),
		requestsPerMinute: requestsPerMinute,
		now:               time.Now,
	}
}

// TrustProxy makes the limiter key clients on the first X-Forwarded-For
// entry instead of the connection address. Clients can set that header
// freely, so enable it only behind a proxy that rewrites it.
func (i *IPRateLimiter) TrustProxy(trust bool) *IPRateLimiter {
	i.trustProxy = trust
	return i
}

// GetLimiter returns the rate limiter for a specific IP
func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	entry, ok := i.ips[ip]
	if !ok {
		entry = &ipLimiter{limiter: newLimiter(i.requestsPerMinute)}
		i.ips[ip] = entry
	}
	entry.lastSeen = i.now()
	return entry.limiter
}

// Len returns the number of tracked IPs
func (i *IPRateLimiter) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.ips)
}

// CleanupExpired drops limiters for IPs not seen within idle
func (i *IPRateLimiter) CleanupExpired(idle time.Duration) int {
	i.mu.Lock()
	defer i.mu.Unlock()

	cutoff := i.now().Add(-idle)
	removed := 0
	for ip, entry := range i.ips {
		if entry.lastSeen.Before(cutoff) {
			delete(i.ips, ip)
			removed++
		}
	}
	return removed
}

// StartCleanup runs CleanupExpired every interval until ctx is done
func (i *IPRateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				i.CleanupExpired(interval)
			}
		}
	}()
}

// WithIPRateLimit applies per-IP rate limiting to requests. A non-positive
// limit disables it.
func WithIPRateLimit(limiter *IPRateLimiter) func(http.Handler) http.Handler {
	if limiter == nil || limiter.requestsPerMinute <= 0 {
		return passthrough
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.GetLimiter(getIP(r, limiter.trustProxy)).Allow() {
				metrics.RecordRateLimited("ip")
				writeRateLimited(w, limiter.requestsPerMinute)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func passthrough(next http.Handler) http.Handler {
	return next
}

func writeRateLimited(w http.ResponseWriter, requestsPerMinute int) {
	retryAfter := 60 / requestsPerMinute
	if retryAfter < 1 {
		retryAfter = 1
	}
	err := errors.WithRetryOption(errors.NewRateLimitError("too many requests"), retryAfter)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(errors.ToErrorResponse(err))
}

// getIP extracts the client IP from the request. X-Forwarded-For is only
// consulted when trustProxy is set.
func getIP(r *http.Request, trustProxy bool) string {
	if ip := r.Header.Get("X-Forwarded-For"); trustProxy && ip != "" {
		if i := strings.Index(ip, ","); i > -1 {
			ip = ip[:i]
		}
		return strings.TrimSpace(ip)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
