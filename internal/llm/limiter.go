package llm

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/ppiankov/bsmeter/internal/model"
)

// Limiter holds one token bucket per provider name. Buckets survive registry
// reloads so a config change does not reset a provider's budget.
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
}

// NewLimiter creates a new rate limiter
func NewLimiter() *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
	}
}

// getLimiter returns the bucket for name, creating or retuning it as needed
func (l *Limiter) getLimiter(name string, requestsPerSecond float64, burst int) *rate.Limiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(requestsPerSecond)

	l.mu.RLock()
	limiter, exists := l.limiters[name]
	l.mu.RUnlock()

	if exists && limiter.Limit() == limit && limiter.Burst() == burst {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := l.limiters[name]; exists {
		if limiter.Limit() != limit {
			limiter.SetLimit(limit)
		}
		if limiter.Burst() != burst {
			limiter.SetBurst(burst)
		}
		return limiter
	}

	limiter = rate.NewLimiter(limit, burst)
	l.limiters[name] = limiter
	return limiter
}

// Wrap decorates p with a client-side rate limit. A non-positive rate returns p unchanged.
func (l *Limiter) Wrap(p Provider, requestsPerSecond float64, burst int) Provider {
	if requestsPerSecond <= 0 {
		return p
	}
	return &RateLimited{
		Provider: p,
		limiter:  l.getLimiter(p.Name(), requestsPerSecond, burst),
	}
}

// RateLimited is a Provider that waits for a token before each call
type RateLimited struct {
	Provider
	limiter *rate.Limiter
}

// Analyze waits for a token, then delegates. A token that cannot arrive before
// the deadline is reported as a RateLimitError so the caller falls back.
func (r *RateLimited) Analyze(ctx context.Context, req model.AnalysisRequest) (*model.AnalysisResult, error) {
	if err := checkRequest(ctx, req); err != nil {
		return nil, err
	}

	if err := r.limiter.Wait(ctx); err != nil {
		if ctxErr := contextError(ctx); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &model.RateLimitError{Provider: r.Name(), Err: err}
	}

	return r.Provider.Analyze(ctx, req)
}

// Unwrap returns the decorated provider
func (r *RateLimited) Unwrap() Provider {
	return r.Provider
}

// Unwrap strips decorators until it reaches a provider without an Unwrap method
func Unwrap(p Provider) Provider {
	for {
		u, ok := p.(interface{ Unwrap() Provider })
		if !ok {
			return p
		}
		p = u.Unwrap()
	}
}
