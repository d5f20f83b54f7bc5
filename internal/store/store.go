// Package store persists tenant command documents.
//
// A DocumentStore holds one JSON document per tenant. The Gateway in front of
// it keeps an in-memory copy of every document it has seen, so reads never
// block on the backend and a dead backend degrades service instead of
// stopping it.
package store

import (
	"context"
	"errors"

	"github.com/conjurehq/conjure/pkg/types"
)

var (
	// ErrNotFound means the tenant has no stored document yet.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable wraps backend transport failures.
	ErrUnavailable = errors.New("store unavailable")
)

// DocumentStore is the persistence backend for tenant documents.
type DocumentStore interface {
	// Get returns the tenant's document, or ErrNotFound.
	Get(ctx context.Context, tenant string) (*types.TenantDocument, error)

	// Put replaces the tenant's document.
	Put(ctx context.Context, tenant string, doc *types.TenantDocument) error

	// Tenants lists tenants that have a stored document.
	Tenants(ctx context.Context) ([]string, error)
}
