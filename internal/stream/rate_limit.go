package stream

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// connLimiter caps concurrent streams per IP and overall, and spaces new
// connection attempts per IP with a token bucket.
type connLimiter struct {
	mu          sync.Mutex
	connections map[string]int
	attempts    map[string]*rate.Limiter
	total       int
	maxPerIP    int
	maxTotal    int
	rate        rate.Limit
	burst       int
}

func newConnLimiter(maxPerIP, maxTotal int, r rate.Limit, burst int) *connLimiter {
	return &connLimiter{
		connections: make(map[string]int),
		attempts:    make(map[string]*rate.Limiter),
		maxPerIP:    maxPerIP,
		maxTotal:    maxTotal,
		rate:        r,
		burst:       burst,
	}
}

// acquire registers a new connection for ip. It returns a reason label when
// the connection must be refused.
func (l *connLimiter) acquire(ip string) (ok bool, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, exists := l.attempts[ip]
	if !exists {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.attempts[ip] = lim
	}
	if !lim.Allow() {
		return false, "connect_rate"
	}
	if l.total >= l.maxTotal {
		return false, "global_limit"
	}
	if l.connections[ip] >= l.maxPerIP {
		return false, "ip_limit"
	}

	l.connections[ip]++
	l.total++
	return true, ""
}

// release gives back the slot taken by acquire.
func (l *connLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.connections[ip]--
	l.total--
	if l.connections[ip] <= 0 {
		delete(l.connections, ip)
	}
}

func (l *connLimiter) count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connections[ip]
}

// clientIP returns the caller's address. Forwarding headers are honoured
// only when trustProxy is set, i.e. behind a reverse proxy we control.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
