// Package tenant resolves per-company provisioning configuration from files,
// the environment, or both.
package tenant

import (
	"context"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"example.com/user-provisioner/internal/model"
)

var ErrNotFound = errors.New("company not configured")

type Resolver interface {
	Resolve(ctx context.Context, companyID string) (model.CompanyConfig, error)
}

// Chain asks each resolver in turn and returns the first hit. Errors other
// than ErrNotFound stop the search.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, companyID string) (model.CompanyConfig, error) {
	for _, r := range c {
		cfg, err := r.Resolve(ctx, companyID)
		if err == nil {
			return cfg, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return model.CompanyConfig{}, err
		}
	}
	return model.CompanyConfig{}, ErrNotFound
}

// Cached memoizes successful lookups for a TTL. Misses are not cached so a
// newly added company is picked up on the next message.
type Cached struct {
	next  Resolver
	cache *gocache.Cache
}

func NewCached(next Resolver, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: gocache.New(ttl, time.Minute)}
}

func (c *Cached) Resolve(ctx context.Context, companyID string) (model.CompanyConfig, error) {
	if v, ok := c.cache.Get(companyID); ok {
		return v.(model.CompanyConfig), nil
	}
	cfg, err := c.next.Resolve(ctx, companyID)
	if err != nil {
		return model.CompanyConfig{}, err
	}
	c.cache.SetDefault(companyID, cfg)
	return cfg, nil
}

// Invalidate drops a cached company.
func (c *Cached) Invalidate(companyID string) { c.cache.Delete(companyID) }
