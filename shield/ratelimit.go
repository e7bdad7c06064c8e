package shield

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Limits defines the dual-window admission policy applied per client.
type Limits struct {
	// MinInterval is the required spacing between any two accepted
	// requests from the same client.
	MinInterval time.Duration
	// MaxPerWindow caps how many requests a client may have accepted
	// within the trailing Window.
	MaxPerWindow int
	// Window is the trailing quota window.
	Window time.Duration
}

// DefaultLimits returns the production policy: 10s spacing, 30 requests
// per trailing hour.
func DefaultLimits() Limits {
	return Limits{
		MinInterval:  10 * time.Second,
		MaxPerWindow: 30,
		Window:       time.Hour,
	}
}

// entry tracks one client. recent holds accepted timestamps inside the
// trailing window, oldest first; it is pruned lazily on every check.
type entry struct {
	last   time.Time
	recent []time.Time
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration // how long the client should wait when denied
}

// RateLimiter admits or denies requests per client under the dual-window
// policy: spacing first, then the sliding-log quota.
//
// State lives only in this process. Concurrent serving instances each keep
// their own map, so a multi-instance deployment over-admits proportionally —
// this is a best-effort single-instance defense, not a correctness
// guarantee. A deployment that needs a hard global cap must back the
// limiter with a shared store instead.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	limits  Limits
	now     func() time.Time // injectable clock for testing
}

// NewRateLimiter creates a limiter with the given policy.
func NewRateLimiter(limits Limits) *RateLimiter {
	return &RateLimiter{
		entries: make(map[string]*entry),
		limits:  limits,
		now:     time.Now,
	}
}

// Check runs the admission decision for clientID and, when allowed, records
// the acceptance.
func (rl *RateLimiter) Check(clientID string) Decision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	e, ok := rl.entries[clientID]
	if !ok {
		e = &entry{}
		rl.entries[clientID] = e
	}

	// Spacing constraint.
	if !e.last.IsZero() {
		if elapsed := now.Sub(e.last); elapsed < rl.limits.MinInterval {
			return Decision{RetryAfter: rl.limits.MinInterval - elapsed}
		}
	}

	// Prune timestamps that fell out of the trailing window.
	cutoff := now.Add(-rl.limits.Window)
	i := 0
	for i < len(e.recent) && !e.recent[i].After(cutoff) {
		i++
	}
	e.recent = e.recent[i:]

	// Quota constraint: retry when the oldest timestamp exits the window.
	if len(e.recent) >= rl.limits.MaxPerWindow {
		return Decision{RetryAfter: e.recent[0].Add(rl.limits.Window).Sub(now)}
	}

	e.recent = append(e.recent, now)
	e.last = now
	return Decision{Allowed: true}
}

// StartGC starts a background goroutine that drops clients with no activity
// inside the trailing window. Stops when done is closed.
func (rl *RateLimiter) StartGC(done <-chan struct{}) {
	tick := time.NewTicker(5 * time.Minute)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				rl.gc()
			}
		}
	}()
}

func (rl *RateLimiter) gc() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-rl.limits.Window)
	for id, e := range rl.entries {
		if e.last.Before(cutoff) {
			delete(rl.entries, id)
		}
	}
}

// Clients reports how many clients currently hold limiter state.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// Middleware enforces the limiter keyed by client IP and answers denied
// requests with 429 JSON plus a Retry-After header.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ExtractIP(r)
		d := rl.Check(ip)
		if d.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		retrySec := int(math.Ceil(d.RetryAfter.Seconds()))
		if retrySec < 1 {
			retrySec = 1
		}
		slog.Warn("ratelimit: request blocked", "ip", ip, "retry_after_s", retrySec)

		w.Header().Set("Retry-After", strconv.Itoa(retrySec))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error":               "rate limit exceeded",
			"retry_after_seconds": retrySec,
		})
	})
}
