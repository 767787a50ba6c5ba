// Package concurrency applies backpressure: it reports the pipeline as not
// ready when too many requests are in flight or the request rate is exceeded.
//
// The stage never queues. A caller that skips Ready, or loses the race for the
// last slot between Ready and Call, gets pipeline.ErrNotReady from Call.
package concurrency

import (
	"context"
	"net/http"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/nimburion/rpcserver/pkg/pipeline"
)

// Config configures the backpressure stage. Zero values disable a limit.
type Config struct {
	// MaxInFlight caps concurrently executing requests.
	MaxInFlight int
	// RequestsPerSecond is the token bucket refill rate.
	RequestsPerSecond float64
	// Burst is the token bucket size. It defaults to 1 when a rate is set.
	Burst int
}

// Enabled reports whether any limit is configured.
func (c Config) Enabled() bool {
	return c.MaxInFlight > 0 || c.RequestsPerSecond > 0
}

// Layer wraps inner services with the limits in cfg. The limits are shared by
// every request passing through the returned layer.
func Layer(cfg Config) pipeline.Layer {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	state := &limits{max: int64(cfg.MaxInFlight), limiter: limiter}

	return pipeline.LayerFunc(func(inner pipeline.Service) pipeline.Service {
		return &Limiter{inner: inner, limits: state}
	})
}

type limits struct {
	max      int64
	inFlight atomic.Int64
	limiter  *rate.Limiter
}

// Limiter is the backpressure stage.
type Limiter struct {
	inner  pipeline.Service
	limits *limits
}

// InFlight reports the number of requests currently executing.
func (l *Limiter) InFlight() int64 {
	return l.limits.inFlight.Load()
}

// Ready fails with pipeline.ErrNotReady while no capacity is left, after
// checking the inner service first.
func (l *Limiter) Ready(ctx context.Context) error {
	if err := l.inner.Ready(ctx); err != nil {
		return err
	}
	if l.limits.max > 0 && l.limits.inFlight.Load() >= l.limits.max {
		return pipeline.ErrNotReady
	}
	if l.limits.limiter != nil && l.limits.limiter.Tokens() < 1 {
		return pipeline.ErrNotReady
	}
	return nil
}

// Call claims a slot and a token, then forwards req.
func (l *Limiter) Call(req *http.Request) (*pipeline.Response, error) {
	if !l.acquire() {
		return nil, pipeline.ErrNotReady
	}
	defer l.limits.inFlight.Add(-1)

	if l.limits.limiter != nil && !l.limits.limiter.Allow() {
		return nil, pipeline.ErrNotReady
	}
	return l.inner.Call(req)
}

func (l *Limiter) acquire() bool {
	for {
		current := l.limits.inFlight.Load()
		if l.limits.max > 0 && current >= l.limits.max {
			return false
		}
		if l.limits.inFlight.CompareAndSwap(current, current+1) {
			return true
		}
	}
}
