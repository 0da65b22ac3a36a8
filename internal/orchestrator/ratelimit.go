package orchestrator

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sandboxlabs/execcore/internal/config"
)

// addressLimiter hands out one token-bucket rate.Limiter per remote
// address on the WebSocket upgrade path. This is a seam, not a policy: a
// fixed default is set in configuration, and a real deployment is expected
// to front this with a dedicated policy service.
type addressLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newAddressLimiter(cfg config.RateLimitConfig) *addressLimiter {
	return &addressLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		burst:    cfg.Burst,
	}
}

// allow reports whether addr may proceed now, creating its limiter on
// first use.
func (a *addressLimiter) allow(addr string) bool {
	a.mu.Lock()
	limiter, ok := a.limiters[addr]
	if !ok {
		limiter = rate.NewLimiter(a.rps, a.burst)
		a.limiters[addr] = limiter
	}
	a.mu.Unlock()

	return limiter.Allow()
}

// sweep periodically forgets addresses with a full, untouched bucket, so
// the map does not grow unboundedly over a long-running process. Callers
// run it in a goroutine tied to the server's lifetime.
func (a *addressLimiter) sweep(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.mu.Lock()
			for addr, limiter := range a.limiters {
				if limiter.Tokens() >= float64(a.burst) {
					delete(a.limiters, addr)
				}
			}
			a.mu.Unlock()
		}
	}
}
