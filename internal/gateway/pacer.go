package gateway

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces consecutive sends by a fixed delay. One pacer is shared by
// every tick in the process so overlapping ticks do not double the rate.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer allows one send per delay. A zero delay disables pacing.
func NewPacer(delay time.Duration) *Pacer {
	return &Pacer{limiter: rate.NewLimiter(limitFor(delay), 1)}
}

// SetDelay applies a new delay, e.g. after the gateway settings changed.
func (p *Pacer) SetDelay(delay time.Duration) {
	if p.limiter.Limit() != limitFor(delay) {
		p.limiter.SetLimit(limitFor(delay))
	}
}

// Wait blocks until the next send is allowed or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

func limitFor(delay time.Duration) rate.Limit {
	if delay <= 0 {
		return rate.Inf
	}
	return rate.Every(delay)
}
