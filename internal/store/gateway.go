package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/conjurehq/conjure/internal/logging"
	"github.com/conjurehq/conjure/pkg/types"
)

const (
	defaultRetries    = 2
	defaultRetryDelay = time.Second
)

// DegradedFunc is notified when a backend operation failed after retries and
// the gateway fell back to its in-memory copy.
type DegradedFunc func(tenant, op string, err error)

// Gateway fronts a DocumentStore with an in-memory write-through cache.
//
// The cache is authoritative for reads: once a tenant's document has been
// loaded (or synthesized after a backend failure), Get never touches the
// backend again for that tenant. Writes update the cache first and then
// attempt the backend, so command mutations survive a dead store for the
// lifetime of the process.
type Gateway struct {
	backend    DocumentStore
	retries    uint64
	retryDelay time.Duration

	mu    sync.RWMutex
	cache map[string]*types.TenantDocument

	onDegraded DegradedFunc
}

// NewGateway wraps backend with caching and retry policy from cfg.
func NewGateway(backend DocumentStore, cfg types.StoreConfig) *Gateway {
	retries := uint64(defaultRetries)
	if cfg.Retries > 0 {
		retries = uint64(cfg.Retries)
	}
	delay := defaultRetryDelay
	if cfg.RetryDelayMS > 0 {
		delay = time.Duration(cfg.RetryDelayMS) * time.Millisecond
	}
	return &Gateway{
		backend:    backend,
		retries:    retries,
		retryDelay: delay,
		cache:      make(map[string]*types.TenantDocument),
	}
}

// OnDegraded registers the degradation callback. Must be called before the
// gateway is shared across goroutines.
func (g *Gateway) OnDegraded(fn DegradedFunc) {
	g.onDegraded = fn
}

// Get returns the tenant's document. It never fails: a missing document
// yields a fresh empty one, and a backend failure yields an empty document
// plus a degradation notice. Callers own the returned copy.
func (g *Gateway) Get(ctx context.Context, tenant string) *types.TenantDocument {
	g.mu.RLock()
	doc, ok := g.cache[tenant]
	g.mu.RUnlock()
	if ok {
		return doc.Clone()
	}

	doc, err := g.fetch(ctx, tenant)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logging.Warn().Err(err).Str("tenant", tenant).Msg("store read failed, continuing with empty document")
			g.degraded(tenant, "get", err)
		}
		doc = types.NewTenantDocument()
	}

	g.mu.Lock()
	// Another goroutine may have raced the fetch; its copy wins.
	if cached, ok := g.cache[tenant]; ok {
		doc = cached
	} else {
		g.cache[tenant] = doc
	}
	g.mu.Unlock()

	return doc.Clone()
}

// Put stores the tenant's document cache-first and reports whether the
// backend accepted the write. A false return means the in-memory state is
// ahead of the backend.
func (g *Gateway) Put(ctx context.Context, tenant string, doc *types.TenantDocument) bool {
	stored := doc.Clone()
	g.mu.Lock()
	g.cache[tenant] = stored
	g.mu.Unlock()

	err := g.retry(ctx, func() error {
		return g.backend.Put(ctx, tenant, stored)
	})
	if err != nil {
		logging.Warn().Err(err).Str("tenant", tenant).Msg("store write failed, in-memory state is ahead of backend")
		g.degraded(tenant, "put", err)
		return false
	}
	return true
}

// Tenants lists tenants known to the backend.
func (g *Gateway) Tenants(ctx context.Context) ([]string, error) {
	var tenants []string
	err := g.retry(ctx, func() error {
		var err error
		tenants, err = g.backend.Tenants(ctx)
		return err
	})
	return tenants, err
}

// Invalidate drops the tenant's cached document so the next Get refetches.
func (g *Gateway) Invalidate(tenant string) {
	g.mu.Lock()
	delete(g.cache, tenant)
	g.mu.Unlock()
}

func (g *Gateway) fetch(ctx context.Context, tenant string) (*types.TenantDocument, error) {
	var doc *types.TenantDocument
	err := g.retry(ctx, func() error {
		var err error
		doc, err = g.backend.Get(ctx, tenant)
		if errors.Is(err, ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	})
	return doc, err
}

func (g *Gateway) retry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(g.retryDelay), g.retries),
		ctx,
	)
	return backoff.Retry(op, policy)
}

func (g *Gateway) degraded(tenant, op string, err error) {
	if g.onDegraded != nil {
		g.onDegraded(tenant, op, err)
	}
}
