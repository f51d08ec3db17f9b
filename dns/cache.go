package dns

import (
	"context"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// CacheConfig configures a CachingResolver.
type CacheConfig struct {
	// Size is the maximum number of cached names. Default is 1024.
	Size int

	// MinTTL and MaxTTL clamp the TTL of positive answers.
	// Defaults are 1 minute and 1 hour.
	MinTTL time.Duration
	MaxTTL time.Duration

	// NegativeTTL is how long a not-found answer is remembered.
	// Default is 1 minute. Temporary failures are never cached.
	NegativeTTL time.Duration
}

type cachedTXT struct {
	expiration time.Time
	result     Result[string]
	notFound   bool
}

// CachingResolver wraps a Resolver with an LRU cache of TXT answers.
// It is safe for concurrent use.
type CachingResolver struct {
	upstream Resolver
	config   CacheConfig
	cache    *lru.Cache
	now      func() time.Time
}

var _ Resolver = (*CachingResolver)(nil)

// NewCachingResolver creates a cache in front of upstream.
func NewCachingResolver(upstream Resolver, config CacheConfig) (*CachingResolver, error) {
	if config.Size <= 0 {
		config.Size = 1024
	}
	if config.MinTTL == 0 {
		config.MinTTL = time.Minute
	}
	if config.MaxTTL == 0 {
		config.MaxTTL = time.Hour
	}
	if config.NegativeTTL == 0 {
		config.NegativeTTL = time.Minute
	}
	cache, err := lru.New(config.Size)
	if err != nil {
		return nil, err
	}
	return &CachingResolver{
		upstream: upstream,
		config:   config,
		cache:    cache,
		now:      time.Now,
	}, nil
}

// LookupTXT answers from the cache when a live entry exists and queries
// upstream otherwise.
func (r *CachingResolver) LookupTXT(ctx context.Context, name string) (Result[string], error) {
	key := strings.ToLower(ensureFQDN(name))
	now := r.now()

	if v, ok := r.cache.Get(key); ok {
		entry := v.(cachedTXT)
		if now.Before(entry.expiration) {
			if entry.notFound {
				return entry.result, ErrDNSNotFound
			}
			entry.result.TTL = entry.expiration.Sub(now)
			return entry.result, nil
		}
		r.cache.Remove(key)
	}

	result, err := r.upstream.LookupTXT(ctx, name)
	switch {
	case err == nil:
		r.cache.Add(key, cachedTXT{
			expiration: now.Add(r.clampTTL(result.TTL)),
			result:     result,
		})
	case IsNotFound(err):
		r.cache.Add(key, cachedTXT{
			expiration: now.Add(r.config.NegativeTTL),
			result:     Result[string]{Authentic: result.Authentic},
			notFound:   true,
		})
	}
	return result, err
}

// Purge drops all cached entries.
func (r *CachingResolver) Purge() {
	r.cache.Purge()
}

// Len returns the number of cached names.
func (r *CachingResolver) Len() int {
	return r.cache.Len()
}

func (r *CachingResolver) clampTTL(ttl time.Duration) time.Duration {
	if ttl < r.config.MinTTL {
		return r.config.MinTTL
	}
	if ttl > r.config.MaxTTL {
		return r.config.MaxTTL
	}
	return ttl
}
