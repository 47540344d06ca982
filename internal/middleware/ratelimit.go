package middleware

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiter counts requests per client address in fixed windows. Session
// creation and lookups go through it; the websocket does not.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[netip.Addr]*window
	limit   int
	length  time.Duration
	exempt  map[netip.Addr]struct{}
	now     func() time.Time
	logger  *slog.Logger
}

type window struct {
	start time.Time
	used  int
}

// NewRateLimiter allows limit requests per length from each address.
// Addresses in exempt are never limited; entries that are not IP addresses
// are skipped. Windows left idle are dropped until ctx is done.
func NewRateLimiter(ctx context.Context, limit int, length time.Duration, exempt []string, logger *slog.Logger) *RateLimiter {
	rl := &RateLimiter{
		windows: make(map[netip.Addr]*window),
		limit:   limit,
		length:  length,
		exempt:  make(map[netip.Addr]struct{}, len(exempt)),
		now:     time.Now,
		logger:  logger.With("component", "rate_limiter"),
	}
	for _, raw := range exempt {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			rl.logger.Warn("ignoring whitelist entry", "entry", raw, "error", err)
			continue
		}
		rl.exempt[addr.Unmap()] = struct{}{}
	}

	go rl.sweep(ctx)
	return rl
}

func (rl *RateLimiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(2 * rl.length)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.forgetIdle()
		}
	}
}

func (rl *RateLimiter) forgetIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-2 * rl.length)
	for addr, w := range rl.windows {
		if w.start.Before(cutoff) {
			delete(rl.windows, addr)
		}
	}
}

// Exempt reports whether addr bypasses the limiter.
func (rl *RateLimiter) Exempt(addr netip.Addr) bool {
	_, ok := rl.exempt[addr.Unmap()]
	return ok
}

// Allow records a request from addr. When the window is used up it reports
// false and how long until the next window opens.
func (rl *RateLimiter) Allow(addr netip.Addr) (bool, time.Duration) {
	addr = addr.Unmap()
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[addr]
	if !ok || now.Sub(w.start) >= rl.length {
		rl.windows[addr] = &window{start: now, used: 1}
		return true, 0
	}
	if w.used < rl.limit {
		w.used++
		return true, 0
	}
	return false, w.start.Add(rl.length).Sub(now)
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, ok := clientAddr(r)
		if !ok {
			rl.logger.Debug("unparsable client address", "remote_addr", r.RemoteAddr)
			next.ServeHTTP(w, r)
			return
		}
		if rl.Exempt(addr) {
			next.ServeHTTP(w, r)
			return
		}

		allowed, wait := rl.Allow(addr)
		if !allowed {
			rl.logger.Warn("rate limit exceeded", "ip", addr.String(), "path", r.URL.Path)
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientAddr prefers the first X-Forwarded-For hop, then X-Real-IP, then
// the peer address.
func clientAddr(r *http.Request) (netip.Addr, bool) {
	candidates := []string{
		strings.TrimSpace(strings.Split(r.Header.Get("X-Forwarded-For"), ",")[0]),
		strings.TrimSpace(r.Header.Get("X-Real-IP")),
		r.RemoteAddr,
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if host, _, err := net.SplitHostPort(c); err == nil {
			c = host
		}
		if addr, err := netip.ParseAddr(c); err == nil {
			return addr.Unmap(), true
		}
	}
	return netip.Addr{}, false
}
