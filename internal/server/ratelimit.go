package server

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	msgRateLimited   = "Too many requests from this IP, please try again later."
	titleRateLimited = "Too many requests"

	// pruneThreshold is the number of tracked clients above which idle
	// limiters are dropped.
	pruneThreshold = 10000
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipRateLimiter allows each client IP max requests per window, refilled
// continuously.
type ipRateLimiter struct {
	limit  rate.Limit
	burst  int
	window time.Duration

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

func newIPRateLimiter(limitPerWindow int, window time.Duration) *ipRateLimiter {
	return &ipRateLimiter{
		limit:   rate.Every(window / time.Duration(limitPerWindow)),
		burst:   limitPerWindow,
		window:  window,
		mu:      sync.Mutex{},
		clients: make(map[string]*clientLimiter),
	}
}

func (l *ipRateLimiter) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.clients) > pruneThreshold {
		l.prune(now)
	}

	client, ok := l.clients[ip]
	if !ok {
		client = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst), lastSeen: now}
		l.clients[ip] = client
	}

	client.lastSeen = now

	return client.limiter.AllowN(now, 1)
}

// prune drops clients idle for a full window; their buckets are full again.
func (l *ipRateLimiter) prune(now time.Time) {
	for ip, client := range l.clients {
		if now.Sub(client.lastSeen) > l.window {
			delete(l.clients, ip)
		}
	}
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	limitHeader := strconv.Itoa(s.limiter.burst)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("RateLimit-Limit", limitHeader)

		if !s.limiter.allow(clientIP(r), time.Now()) {
			w.Header().Set("Retry-After", s.limiter.retryAfter())
			s.respondError(w, http.StatusTooManyRequests, titleRateLimited, msgRateLimited)

			return
		}

		next.ServeHTTP(w, r)
	})
}

// retryAfter is the whole number of seconds until one more request fits.
func (l *ipRateLimiter) retryAfter() string {
	refill := time.Duration(float64(time.Second) / float64(l.limit))

	return strconv.Itoa(int(math.Ceil(refill.Seconds())))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
