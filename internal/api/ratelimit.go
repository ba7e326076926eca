package api

import (
	"net/http"
	"os"
	"strconv"
	"sync"

	"golang.org/x/time/rate"
)

// tenantLimiter applies a per-tenant token bucket to mutation endpoints.
// RATE_RPS/RATE_BURST tune it; RATE_RPS=0 disables limiting.
type tenantLimiter struct {
	mu    sync.Mutex
	lims  map[string]*rate.Limiter
	rps   rate.Limit
	burst int
}

func newTenantLimiter() *tenantLimiter {
	rps := 10.0
	if v := os.Getenv("RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil { rps = f }
	}
	burst := 20
	if v := os.Getenv("RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil { burst = n }
	}
	return &tenantLimiter{lims: map[string]*rate.Limiter{}, rps: rate.Limit(rps), burst: burst}
}

func (t *tenantLimiter) allow(tenant string) bool {
	if t.rps <= 0 { return true }
	t.mu.Lock()
	lim := t.lims[tenant]
	if lim == nil {
		lim = rate.NewLimiter(t.rps, t.burst)
		t.lims[tenant] = lim
	}
	t.mu.Unlock()
	return lim.Allow()
}

var mutating = map[string]bool{
	http.MethodPost: true, http.MethodPut: true, http.MethodPatch: true, http.MethodDelete: true,
}

// RateLimitMiddleware rejects over-limit mutations with 429. Reads pass
// through untouched.
func (s *Server) RateLimitMiddleware(next http.Handler) http.Handler {
	tl := newTenantLimiter()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if mutating[r.Method] {
			p := s.getPrincipal(r)
			if !tl.allow(p.Tenant) {
				writeProblem(w, http.StatusTooManyRequests, "Rate limit exceeded", "slow down", r.URL.Path)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
