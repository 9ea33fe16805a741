package server

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/MrWong99/speakwell/internal/config"
)

// pruneEvery is how many admissions pass between sweeps of idle clients.
const pruneEvery = 256

// ipLimiter is a token bucket per client IP. A bucket holds Requests tokens
// and refills one every Per/Requests, so a client may burst its whole window
// and then continues at the average rate. A nil *ipLimiter admits
// everything.
type ipLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu      sync.Mutex
	clients map[string]*client
	calls   int
}

type client struct {
	lim  *rate.Limiter
	seen time.Time
}

func newIPLimiter(rl config.RateLimit) *ipLimiter {
	if !rl.Enabled() {
		return nil
	}
	return &ipLimiter{
		limit:   rate.Every(rl.Per / time.Duration(rl.Requests)),
		burst:   rl.Requests,
		idle:    rl.Per,
		now:     time.Now,
		clients: make(map[string]*client),
	}
}

// reserve takes a token for ip. When none is available it returns false and
// the wait until the next token.
func (l *ipLimiter) reserve(ip string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.calls++
	if l.calls%pruneEvery == 0 {
		for k, c := range l.clients {
			// An idle bucket is full again; forgetting it changes nothing.
			if now.Sub(c.seen) > l.idle {
				delete(l.clients, k)
			}
		}
	}

	c, ok := l.clients[ip]
	if !ok {
		c = &client{lim: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = c
	}
	c.seen = now

	r := c.lim.ReserveN(now, 1)
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// wrap rejects over-limit requests with 429 before calling next.
func (l *ipLimiter) wrap(next http.HandlerFunc) http.HandlerFunc {
	if l == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ok, wait := l.reserve(clientIP(r))
		if !ok {
			secs := int(wait.Round(time.Second) / time.Second)
			w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
			writeError(w, http.StatusTooManyRequests, "too many requests, please try again later")
			return
		}
		next(w, r)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
