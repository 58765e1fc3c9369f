package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"loandocs/internal/domain"
)

// RateLimited spaces calls to the wrapped generator so batch runs stay
// under the provider's request quota.
type RateLimited struct {
	next    Generator
	limiter *rate.Limiter
}

// NewRateLimited returns next unchanged when perMinute is not positive.
func NewRateLimited(next Generator, perMinute int) Generator {
	if perMinute <= 0 {
		return next
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

func (r *RateLimited) Generate(ctx context.Context, req Request) (Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Response{}, fmt.Errorf("rate limiter: %w: %w", domain.ErrModelInvocation, err)
	}
	return r.next.Generate(ctx, req)
}
