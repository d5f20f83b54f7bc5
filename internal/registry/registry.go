// Package registry owns the per-tenant command maps and their lifecycle.
//
// All mutations for one tenant are serialized; mutations for different
// tenants share no lock. Every successful mutation is mirrored to the
// platform dispatch table and written through the persistence gateway. A
// platform rejection rolls the in-memory change back; a persistence failure
// does not (memory is authoritative, the store is eventually consistent).
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/conjurehq/conjure/internal/event"
	"github.com/conjurehq/conjure/internal/logging"
	"github.com/conjurehq/conjure/internal/platform"
	"github.com/conjurehq/conjure/internal/script"
	"github.com/conjurehq/conjure/internal/store"
	"github.com/conjurehq/conjure/pkg/types"
)

// InvokerFactory builds the callback the platform routes invocations of a
// command through. Supplied by the orchestration layer before any mutation.
type InvokerFactory func(tenant, name string) platform.InvokeFunc

// entry pairs a command's metadata with its compiled handler. Invariant:
// every entry in a tenant map holds a program that passed admission.
type entry struct {
	command types.DynamicCommand
	program *script.Program
}

// tenantCommands holds one tenant's commands. mu serializes mutations end to
// end (compile, swap, dispatch, persist); state guards the map itself so
// reads only block for the length of a map access.
type tenantCommands struct {
	mu       sync.Mutex
	state    sync.RWMutex
	commands map[string]*entry
}

// Registry is the per-tenant command registry.
type Registry struct {
	dispatcher platform.Dispatcher
	gateway    *store.Gateway
	invoker    InvokerFactory

	mu      sync.RWMutex
	tenants map[string]*tenantCommands
}

// New creates a registry backed by the given dispatch table and persistence
// gateway.
func New(dispatcher platform.Dispatcher, gateway *store.Gateway) *Registry {
	return &Registry{
		dispatcher: dispatcher,
		gateway:    gateway,
		tenants:    make(map[string]*tenantCommands),
	}
}

// SetInvoker installs the invoker factory. Must be called before the first
// mutation.
func (r *Registry) SetInvoker(fn InvokerFactory) {
	r.invoker = fn
}

// Register validates, compiles and installs a command, replacing any prior
// entry with the same name. The returned bool reports whether the change
// reached the backing store; false means in-memory state is ahead of it.
func (r *Registry) Register(ctx context.Context, tenant, name, source, description string) (bool, error) {
	tc := r.tenant(tenant)
	tc.mu.Lock()
	defer tc.mu.Unlock()

	prog, err := script.Compile(source, tenant+"/"+name)
	if err != nil {
		return false, err
	}

	next := &entry{
		command: types.DynamicCommand{
			Name:         name,
			Source:       source,
			Description:  description,
			RegisteredAt: time.Now().UTC(),
		},
		program: prog,
	}

	tc.state.Lock()
	prior, had := tc.commands[name]
	tc.commands[name] = next
	tc.state.Unlock()

	if err := r.dispatcher.RegisterDispatch(ctx, tenant, name, description, r.invoker(tenant, name)); err != nil {
		tc.state.Lock()
		if had {
			tc.commands[name] = prior
		} else {
			delete(tc.commands, name)
		}
		tc.state.Unlock()
		return false, &PlatformRejectedError{Op: "register", Tenant: tenant, Name: name, Err: err}
	}

	persisted := r.persist(ctx, tenant, tc)
	event.Publish(event.Event{Type: event.CommandRegistered, Data: event.CommandPayload{
		Tenant:      tenant,
		Name:        name,
		Description: description,
	}})
	return persisted, nil
}

// Rename moves a command to a new name. The new name is compiled and
// confirmed live on the platform before the old one is touched, so a failure
// at any step leaves the old name fully callable.
func (r *Registry) Rename(ctx context.Context, tenant, oldName, newName string) (bool, error) {
	tc := r.tenant(tenant)
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.state.RLock()
	old, ok := tc.commands[oldName]
	tc.state.RUnlock()
	if !ok {
		return false, fmt.Errorf("%s/%s: %w", tenant, oldName, ErrNotFound)
	}
	if oldName == newName {
		return true, nil
	}

	prog, err := script.Compile(old.command.Source, tenant+"/"+newName)
	if err != nil {
		return false, err
	}

	next := &entry{
		command: types.DynamicCommand{
			Name:         newName,
			Source:       old.command.Source,
			Description:  old.command.Description,
			RegisteredAt: old.command.RegisteredAt,
		},
		program: prog,
	}

	tc.state.Lock()
	priorNew, hadNew := tc.commands[newName]
	tc.commands[newName] = next
	tc.state.Unlock()

	if err := r.dispatcher.RegisterDispatch(ctx, tenant, newName, old.command.Description, r.invoker(tenant, newName)); err != nil {
		tc.state.Lock()
		if hadNew {
			tc.commands[newName] = priorNew
		} else {
			delete(tc.commands, newName)
		}
		tc.state.Unlock()
		return false, &PlatformRejectedError{Op: "rename", Tenant: tenant, Name: newName, Err: err}
	}

	// New name is live; retire the old one. A dispatch-removal failure at
	// this point cannot be rolled back without breaking the new name, so it
	// is logged and tolerated.
	tc.state.Lock()
	delete(tc.commands, oldName)
	tc.state.Unlock()
	if err := r.dispatcher.RemoveDispatch(ctx, tenant, oldName); err != nil {
		logging.Warn().Err(err).Str("tenant", tenant).Str("command", oldName).
			Msg("failed to remove renamed command from dispatch table")
	}

	persisted := r.persist(ctx, tenant, tc)
	event.Publish(event.Event{Type: event.CommandRenamed, Data: event.CommandPayload{
		Tenant:       tenant,
		Name:         newName,
		PreviousName: oldName,
		Description:  old.command.Description,
	}})
	return persisted, nil
}

// Remove deletes a command from the registry and the dispatch table.
func (r *Registry) Remove(ctx context.Context, tenant, name string) (bool, error) {
	tc := r.tenant(tenant)
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.state.Lock()
	_, ok := tc.commands[name]
	if ok {
		delete(tc.commands, name)
	}
	tc.state.Unlock()
	if !ok {
		return false, fmt.Errorf("%s/%s: %w", tenant, name, ErrNotFound)
	}

	if err := r.dispatcher.RemoveDispatch(ctx, tenant, name); err != nil {
		logging.Warn().Err(err).Str("tenant", tenant).Str("command", name).
			Msg("failed to remove command from dispatch table")
	}

	persisted := r.persist(ctx, tenant, tc)
	event.Publish(event.Event{Type: event.CommandRemoved, Data: event.CommandPayload{
		Tenant: tenant,
		Name:   name,
	}})
	return persisted, nil
}

// List returns the tenant's commands sorted by name.
func (r *Registry) List(tenant string) []types.CommandInfo {
	tc := r.lookupTenant(tenant)
	if tc == nil {
		return nil
	}

	tc.state.RLock()
	infos := make([]types.CommandInfo, 0, len(tc.commands))
	for name, e := range tc.commands {
		infos = append(infos, types.CommandInfo{Name: name, Description: e.command.Description})
	}
	tc.state.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Lookup returns the compiled program and metadata for an invocation.
func (r *Registry) Lookup(tenant, name string) (*script.Program, types.DynamicCommand, bool) {
	tc := r.lookupTenant(tenant)
	if tc == nil {
		return nil, types.DynamicCommand{}, false
	}

	tc.state.RLock()
	e, ok := tc.commands[name]
	tc.state.RUnlock()
	if !ok {
		return nil, types.DynamicCommand{}, false
	}
	return e.program, e.command, true
}

// Restore rebuilds a tenant's registry from its persisted document, typically
// at startup. Commands that no longer pass admission are skipped with a
// warning rather than failing the whole tenant. Returns the number of
// commands restored.
func (r *Registry) Restore(ctx context.Context, tenant string) int {
	doc := r.gateway.Get(ctx, tenant)

	names := make([]string, 0, len(doc.DynamicCommands))
	for name := range doc.DynamicCommands {
		names = append(names, name)
	}
	sort.Strings(names)

	tc := r.tenant(tenant)
	tc.mu.Lock()
	defer tc.mu.Unlock()

	restored := 0
	for _, name := range names {
		stored := doc.DynamicCommands[name]
		prog, err := script.Compile(stored.Code, tenant+"/"+name)
		if err != nil {
			logging.Warn().Err(err).Str("tenant", tenant).Str("command", name).
				Msg("stored command no longer passes admission, skipping")
			continue
		}

		tc.state.Lock()
		tc.commands[name] = &entry{
			command: types.DynamicCommand{
				Name:        name,
				Source:      stored.Code,
				Description: stored.Description,
			},
			program: prog,
		}
		tc.state.Unlock()

		if err := r.dispatcher.RegisterDispatch(ctx, tenant, name, stored.Description, r.invoker(tenant, name)); err != nil {
			logging.Warn().Err(err).Str("tenant", tenant).Str("command", name).
				Msg("failed to register restored command with platform")
		}
		restored++
	}
	return restored
}

// SyncPlatform asks the dispatch platform to reconcile its table in bulk.
// Used after a burst of changes such as a startup restore.
func (r *Registry) SyncPlatform(ctx context.Context) error {
	return r.dispatcher.SyncAll(ctx)
}

// Tenants lists tenants with at least one registered command.
func (r *Registry) Tenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tenants := make([]string, 0, len(r.tenants))
	for tenant, tc := range r.tenants {
		tc.state.RLock()
		n := len(tc.commands)
		tc.state.RUnlock()
		if n > 0 {
			tenants = append(tenants, tenant)
		}
	}
	sort.Strings(tenants)
	return tenants
}

// persist writes the tenant's current command map through the gateway,
// preserving any unrelated fields in the stored document. Caller holds the
// tenant mutation lock.
func (r *Registry) persist(ctx context.Context, tenant string, tc *tenantCommands) bool {
	doc := r.gateway.Get(ctx, tenant)
	doc.DynamicCommands = make(map[string]types.StoredCommand)

	tc.state.RLock()
	for name, e := range tc.commands {
		doc.DynamicCommands[name] = types.StoredCommand{
			Code:        e.command.Source,
			Description: e.command.Description,
		}
	}
	tc.state.RUnlock()

	return r.gateway.Put(ctx, tenant, doc)
}

func (r *Registry) tenant(tenant string) *tenantCommands {
	r.mu.RLock()
	tc, ok := r.tenants[tenant]
	r.mu.RUnlock()
	if ok {
		return tc
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if tc, ok := r.tenants[tenant]; ok {
		return tc
	}
	tc = &tenantCommands{commands: make(map[string]*entry)}
	r.tenants[tenant] = tc
	return tc
}

func (r *Registry) lookupTenant(tenant string) *tenantCommands {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tenants[tenant]
}
