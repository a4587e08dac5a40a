// Package pacer spaces outbound provider calls within a single run.
package pacer

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"example.com/user-provisioner/internal/model"
)

const (
	MicrosoftInterval = 500 * time.Millisecond
	GoogleInterval    = time.Second
)

// Interval is the minimum spacing between calls to a provider.
func Interval(p model.Provider) time.Duration {
	switch p {
	case model.Microsoft:
		return MicrosoftInterval
	case model.Google:
		return GoogleInterval
	}
	return time.Second
}

// Shared is a limiter visible to every run, e.g. one backed by redis.
type Shared interface {
	Allow(ctx context.Context, key string) (Result, error)
}

type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Pacer enforces a minimum interval between successive Wait calls. The
// underlying limiter has a burst of one so there is never a burst allowance.
type Pacer struct {
	provider model.Provider
	interval time.Duration
	limiter  *rate.Limiter
	shared   Shared
	logger   *zap.Logger
}

type Option func(*Pacer)

// WithInterval overrides the provider default.
func WithInterval(d time.Duration) Option {
	return func(p *Pacer) { p.interval = d }
}

func WithShared(s Shared) Option {
	return func(p *Pacer) { p.shared = s }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Pacer) { p.logger = l }
}

func New(provider model.Provider, opts ...Option) *Pacer {
	p := &Pacer{provider: provider, interval: Interval(provider), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	limit := rate.Inf
	if p.interval > 0 {
		limit = rate.Every(p.interval)
	}
	p.limiter = rate.NewLimiter(limit, 1)
	return p
}

func (p *Pacer) Interval() time.Duration { return p.interval }

// Wait blocks until the next call may be made or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	if p.shared == nil {
		return nil
	}
	key := "provision:" + string(p.provider)
	for {
		res, err := p.shared.Allow(ctx, key)
		if err != nil {
			// shared limiter is best effort
			p.logger.Warn("shared pacer unavailable", zap.String("provider", string(p.provider)), zap.Error(err))
			return nil
		}
		if res.Allowed {
			return nil
		}
		wait := res.RetryAfter
		if wait <= 0 {
			wait = p.interval
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
