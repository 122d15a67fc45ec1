package stabilize

import (
	"golang.org/x/time/rate"

	"live-speech-relay/internal/clock"
)

// TokenBucket admits at most capacity events at once and refills at
// refillPerSecond tokens per second.
type TokenBucket struct {
	limiter *rate.Limiter
	clock   clock.Clock
}

func NewTokenBucket(capacity int, refillPerSecond float64, clk clock.Clock) *TokenBucket {
	if clk == nil {
		clk = clock.Real()
	}
	return &TokenBucket{
		limiter: rate.NewLimiter(rate.Limit(refillPerSecond), capacity),
		clock:   clk,
	}
}

// Allow consumes one token if one is available.
func (b *TokenBucket) Allow() bool {
	return b.limiter.AllowN(b.clock.Now(), 1)
}
