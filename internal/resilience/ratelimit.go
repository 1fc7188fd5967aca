package resilience

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds a token bucket setting for one external service.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// RateLimiters admits calls to constrained external services. One limiter
// exists per service and is shared by every document in flight.
type RateLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limits   map[string]RateLimitConfig
	fallback RateLimitConfig
}

// NewRateLimiters builds a registry. Services missing from limits use fallback;
// a fallback with RequestsPerSecond <= 0 means unlimited.
func NewRateLimiters(limits map[string]RateLimitConfig, fallback RateLimitConfig) *RateLimiters {
	if limits == nil {
		limits = map[string]RateLimitConfig{}
	}
	return &RateLimiters{
		limiters: make(map[string]*rate.Limiter),
		limits:   limits,
		fallback: fallback,
	}
}

// Wait blocks until service may be called or ctx is done.
func (r *RateLimiters) Wait(ctx context.Context, service string) error {
	if r == nil {
		return nil
	}
	if err := r.get(service).Wait(ctx); err != nil {
		if ctx.Err() == nil {
			// The limiter refuses up front a wait that would outlast the deadline.
			return eris.Wrapf(context.DeadlineExceeded, "resilience: rate limit wait for %s: %v", service, err)
		}
		return eris.Wrapf(err, "resilience: rate limit wait for %s", service)
	}
	return nil
}

func (r *RateLimiters) get(service string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[service]; ok {
		return l
	}
	cfg, ok := r.limits[service]
	if !ok {
		cfg = r.fallback
	}
	var l *rate.Limiter
	if cfg.RequestsPerSecond <= 0 {
		l = rate.NewLimiter(rate.Inf, 0)
	} else {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	r.limiters[service] = l
	return l
}
