// Package platform abstracts the chat platform's command dispatch table.
//
// The registry is the source of truth for what commands exist; the dispatcher
// mirrors that catalog into whatever surface the platform exposes (slash
// commands, bot menus). Implementations must tolerate repeat registration of
// the same name.
package platform

import (
	"context"

	"github.com/conjurehq/conjure/pkg/types"
)

// InvokeFunc is the callback the platform routes an incoming command
// invocation through.
type InvokeFunc func(ctx context.Context, inv types.Invocation) types.ExecutionOutcome

// Dispatcher maintains the platform-side dispatch table.
type Dispatcher interface {
	// RegisterDispatch makes name invocable for tenant. Re-registering an
	// existing name replaces its handler and description.
	RegisterDispatch(ctx context.Context, tenant, name, description string, fn InvokeFunc) error

	// RemoveDispatch withdraws name for tenant. Removing an unknown name is
	// not an error.
	RemoveDispatch(ctx context.Context, tenant, name string) error

	// SyncAll asks the platform to reconcile its dispatch table in bulk,
	// typically after a burst of changes such as a startup restore.
	SyncAll(ctx context.Context) error
}
