package events

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedSource throttles reads against a shared event store
type RateLimitedSource struct {
	source  Source
	limiter *rate.Limiter
}

// NewRateLimitedSource allows qps reads per second with the given burst
func NewRateLimitedSource(source Source, qps float64, burst int) *RateLimitedSource {
	limit := rate.Limit(qps)
	if qps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedSource{source: source, limiter: rate.NewLimiter(limit, burst)}
}

// Read waits for a token, then reads
func (s *RateLimitedSource) Read(ctx context.Context, q Query) ([]Event, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return s.source.Read(ctx, q)
}
