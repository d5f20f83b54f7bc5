// Package engine wires the command registry, sandbox, persistence gateway
// and code generator together behind one orchestration surface.
package engine

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/conjurehq/conjure/internal/event"
	"github.com/conjurehq/conjure/internal/generate"
	"github.com/conjurehq/conjure/internal/logging"
	"github.com/conjurehq/conjure/internal/platform"
	"github.com/conjurehq/conjure/internal/registry"
	"github.com/conjurehq/conjure/internal/sandbox"
	"github.com/conjurehq/conjure/internal/script"
	"github.com/conjurehq/conjure/internal/store"
	"github.com/conjurehq/conjure/pkg/types"
)

// Engine orchestrates command lifecycle and invocation. All state lives in
// the registry and the gateway; the engine only routes between them.
type Engine struct {
	registry  *registry.Registry
	sandbox   *sandbox.Sandbox
	gateway   *store.Gateway
	generator generate.Generator

	watcher *watcher
}

// New assembles an engine. generator may be nil when no model is configured;
// Describe then reports an error instead of generating.
func New(reg *registry.Registry, sb *sandbox.Sandbox, gw *store.Gateway, gen generate.Generator) *Engine {
	e := &Engine{
		registry:  reg,
		sandbox:   sb,
		gateway:   gw,
		generator: gen,
	}
	reg.SetInvoker(e.invoker)
	gw.OnDegraded(func(tenant, op string, err error) {
		event.Publish(event.Event{Type: event.StorageDegraded, Data: event.DegradedPayload{
			Tenant: tenant,
			Op:     op,
			Err:    err.Error(),
		}})
	})
	return e
}

// Start rebuilds every known tenant's registry from persisted state and, if
// configured, begins watching a local command directory.
func (e *Engine) Start(ctx context.Context, watch types.WatchConfig) error {
	tenants, err := e.gateway.Tenants(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("could not list tenants from store, starting empty")
	}

	for _, tenant := range tenants {
		n := e.registry.Restore(ctx, tenant)
		logging.Info().Str("tenant", tenant).Int("commands", n).Msg("restored tenant commands")
		event.Publish(event.Event{Type: event.CatalogSynced, Data: event.CatalogPayload{
			Tenant:   tenant,
			Commands: n,
		}})
	}
	if len(tenants) > 0 {
		if err := e.registry.SyncPlatform(ctx); err != nil {
			logging.Warn().Err(err).Msg("platform bulk reconciliation failed")
		}
	}

	if watch.Enabled {
		w, err := newWatcher(e, watch.Dir)
		if err != nil {
			return fmt.Errorf("failed to start command watcher: %w", err)
		}
		e.watcher = w
	}
	return nil
}

// Stop releases background resources.
func (e *Engine) Stop() {
	if e.watcher != nil {
		e.watcher.close()
	}
}

// Register admits and installs a command.
func (e *Engine) Register(ctx context.Context, tenant, name, source, description string) (bool, error) {
	return e.registry.Register(ctx, tenant, name, source, description)
}

// Rename moves a command to a new name.
func (e *Engine) Rename(ctx context.Context, tenant, oldName, newName string) (bool, error) {
	return e.registry.Rename(ctx, tenant, oldName, newName)
}

// Remove deletes a command.
func (e *Engine) Remove(ctx context.Context, tenant, name string) (bool, error) {
	return e.registry.Remove(ctx, tenant, name)
}

// List returns the tenant's commands.
func (e *Engine) List(tenant string) []types.CommandInfo {
	return e.registry.List(tenant)
}

// Invoke runs a registered command with a fresh invocation ID.
func (e *Engine) Invoke(ctx context.Context, tenant, name string, args map[string]string) (types.ExecutionOutcome, error) {
	prog, _, ok := e.registry.Lookup(tenant, name)
	if !ok {
		return types.ExecutionOutcome{}, fmt.Errorf("%s/%s: %w", tenant, name, registry.ErrNotFound)
	}

	inv := types.Invocation{
		ID:      ulid.Make().String(),
		Tenant:  tenant,
		Command: name,
		Args:    args,
	}
	return e.run(ctx, inv, prog), nil
}

// Describe generates a candidate command from a natural-language request and
// routes it through the normal admission path.
func (e *Engine) Describe(ctx context.Context, tenant, request string) (generate.Candidate, bool, error) {
	if e.generator == nil {
		return generate.Candidate{}, false, fmt.Errorf("no code generator configured")
	}

	candidate, err := e.generator.Generate(ctx, request)
	if err != nil {
		return generate.Candidate{}, false, err
	}

	persisted, err := e.registry.Register(ctx, tenant, candidate.Name, candidate.Source, candidate.Description)
	if err != nil {
		return candidate, false, err
	}
	return candidate, persisted, nil
}

// invoker builds the callback handed to the platform dispatch table.
func (e *Engine) invoker(tenant, name string) platform.InvokeFunc {
	return func(ctx context.Context, inv types.Invocation) types.ExecutionOutcome {
		prog, _, ok := e.registry.Lookup(tenant, name)
		if !ok {
			return types.ExecutionOutcome{Status: types.OutcomeFailure, Reason: "command no longer registered"}
		}
		if inv.ID == "" {
			inv.ID = ulid.Make().String()
		}
		inv.Tenant = tenant
		inv.Command = name
		return e.run(ctx, inv, prog)
	}
}

func (e *Engine) run(ctx context.Context, inv types.Invocation, prog *script.Program) types.ExecutionOutcome {
	reply := func(msg string) error {
		event.Publish(event.Event{Type: event.CommandReply, Data: event.ReplyPayload{
			Tenant:     inv.Tenant,
			Command:    inv.Command,
			Invocation: inv.ID,
			Message:    msg,
		}})
		return nil
	}

	outcome := e.sandbox.Invoke(ctx, prog, inv, reply)
	event.Publish(event.Event{Type: event.InvocationFinished, Data: event.InvocationPayload{
		Tenant:     inv.Tenant,
		Command:    inv.Command,
		Invocation: inv.ID,
		Outcome:    outcome,
	}})
	return outcome
}
