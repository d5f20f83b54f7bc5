package platform

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/conjurehq/conjure/pkg/types"
)

// LocalDispatcher is an in-process dispatch table. It backs the HTTP invoke
// route and stands in for a real chat platform integration.
type LocalDispatcher struct {
	mu      sync.RWMutex
	catalog map[string]map[string]dispatchEntry
}

type dispatchEntry struct {
	description string
	fn          InvokeFunc
}

// NewLocalDispatcher creates an empty dispatch table.
func NewLocalDispatcher() *LocalDispatcher {
	return &LocalDispatcher{catalog: make(map[string]map[string]dispatchEntry)}
}

func (d *LocalDispatcher) RegisterDispatch(ctx context.Context, tenant, name, description string, fn InvokeFunc) error {
	if fn == nil {
		return fmt.Errorf("nil handler for %s/%s", tenant, name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	commands, ok := d.catalog[tenant]
	if !ok {
		commands = make(map[string]dispatchEntry)
		d.catalog[tenant] = commands
	}
	commands[name] = dispatchEntry{description: description, fn: fn}
	return nil
}

func (d *LocalDispatcher) RemoveDispatch(ctx context.Context, tenant, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if commands, ok := d.catalog[tenant]; ok {
		delete(commands, name)
		if len(commands) == 0 {
			delete(d.catalog, tenant)
		}
	}
	return nil
}

// SyncAll reconciles the dispatch table in bulk. The in-process table is
// always current, so this only drops tenants whose last command was removed.
func (d *LocalDispatcher) SyncAll(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for tenant, commands := range d.catalog {
		if len(commands) == 0 {
			delete(d.catalog, tenant)
		}
	}
	return nil
}

// Dispatch routes an invocation to the registered handler.
func (d *LocalDispatcher) Dispatch(ctx context.Context, inv types.Invocation) (types.ExecutionOutcome, error) {
	d.mu.RLock()
	entry, ok := d.catalog[inv.Tenant][inv.Command]
	d.mu.RUnlock()

	if !ok {
		return types.ExecutionOutcome{}, fmt.Errorf("no dispatch entry for %s/%s", inv.Tenant, inv.Command)
	}
	return entry.fn(ctx, inv), nil
}

// Catalog lists the dispatchable commands for a tenant, sorted by name.
func (d *LocalDispatcher) Catalog(tenant string) []types.CommandInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	commands := d.catalog[tenant]
	infos := make([]types.CommandInfo, 0, len(commands))
	for name, entry := range commands {
		infos = append(infos, types.CommandInfo{Name: name, Description: entry.description})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
