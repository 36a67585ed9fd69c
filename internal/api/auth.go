package api

import (
	"math"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"github.com/kuini-1/table-editor-1.0-sub001/internal/auth"
)

// authMiddleware resolves the bearer token to a caller principal.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "Unauthorized", err.Error())
			return
		}
		if s.deps.Auth == nil {
			s.writeError(w, http.StatusUnauthorized, "Unauthorized", "no API tokens configured")
			return
		}
		principal, ok := s.deps.Auth.Authenticate(r.Context(), token)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

func (s *Server) requireScopes(required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				s.writeError(w, http.StatusUnauthorized, "Unauthorized", "missing principal")
				return
			}
			if !auth.HasAnyScope(principal, required...) {
				s.writeError(w, http.StatusForbidden, "Forbidden", "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimit throttles requests per authenticated caller.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, _ := auth.PrincipalFromContext(r.Context())
		if ok, retry := s.limiter.allow(principal.Caller); !ok {
			s.deps.Metrics.RateLimited()
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			s.writeError(w, http.StatusTooManyRequests, "RateLimited", "too many export requests, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type callerLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// newCallerLimiter returns nil when perMinute is zero, which allows everything.
func newCallerLimiter(perMinute, burst int) *callerLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &callerLimiter{
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// allow reports whether caller may proceed and, if not, how many seconds to wait.
func (l *callerLimiter) allow(caller string) (bool, int) {
	if l == nil {
		return true, 0
	}
	l.mu.Lock()
	lim, ok := l.limiters[caller]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[caller] = lim
	}
	l.mu.Unlock()

	res := lim.Reserve()
	delay := res.Delay()
	if delay == 0 {
		return true, 0
	}
	res.Cancel()
	return false, int(math.Ceil(delay.Seconds()))
}
