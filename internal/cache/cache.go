package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"RedChat/internal/backend"
	"RedChat/internal/session"
)

// CachedResponse represents a cached API response
type CachedResponse struct {
	Response  string
	Timestamp time.Time
}

// GenerateCacheKey generates a cache key from messages
func GenerateCacheKey(messages []session.Message) string {
	h := sha256.New()
	for _, msg := range messages {
		h.Write([]byte(msg.Role))
		h.Write([]byte{0})
		h.Write([]byte(msg.Content))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Gateway answers repeated identical message lists from memory and forwards
// everything else. Only successful completions are cached.
type Gateway struct {
	next   backend.Gateway
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	cache sync.Map
}

// NewGateway wraps next with a response cache. A zero ttl never expires.
func NewGateway(next backend.Gateway, ttl time.Duration, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		next:   next,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Complete returns a cached reply when one is fresh, otherwise calls through
func (g *Gateway) Complete(ctx context.Context, messages []session.Message) (string, error) {
	cacheKey := GenerateCacheKey(messages)
	if cached, ok := g.checkCache(cacheKey); ok {
		return cached, nil
	}

	response, err := g.next.Complete(ctx, messages)
	if err != nil {
		return "", err
	}

	g.storeCache(cacheKey, response)
	return response, nil
}

// checkCache checks if a response is cached
func (g *Gateway) checkCache(cacheKey string) (string, bool) {
	val, ok := g.cache.Load(cacheKey)
	if !ok {
		return "", false
	}
	cached := val.(CachedResponse)
	if g.ttl > 0 && g.now().Sub(cached.Timestamp) > g.ttl {
		g.cache.Delete(cacheKey)
		return "", false
	}
	g.logger.Info("cache hit", "key", cacheKey[:16])
	return cached.Response, true
}

// storeCache stores a response in cache
func (g *Gateway) storeCache(cacheKey, response string) {
	g.cache.Store(cacheKey, CachedResponse{
		Response:  response,
		Timestamp: g.now(),
	})
	g.logger.Debug("cached response", "key", cacheKey[:16])
}
