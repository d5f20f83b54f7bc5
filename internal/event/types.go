package event

import "github.com/conjurehq/conjure/pkg/types"

// CommandPayload accompanies command.registered, command.renamed and
// command.removed events.
type CommandPayload struct {
	Tenant       string `json:"tenant"`
	Name         string `json:"name"`
	PreviousName string `json:"previousName,omitempty"`
	Description  string `json:"description,omitempty"`
}

// ReplyPayload accompanies command.reply events emitted by handlers while an
// invocation is still running.
type ReplyPayload struct {
	Tenant     string `json:"tenant"`
	Command    string `json:"command"`
	Invocation string `json:"invocation"`
	Message    string `json:"message"`
}

// InvocationPayload accompanies invocation.finished events.
type InvocationPayload struct {
	Tenant     string                 `json:"tenant"`
	Command    string                 `json:"command"`
	Invocation string                 `json:"invocation"`
	Outcome    types.ExecutionOutcome `json:"outcome"`
}

// CatalogPayload accompanies catalog.synced events.
type CatalogPayload struct {
	Tenant   string `json:"tenant"`
	Commands int    `json:"commands"`
}

// DegradedPayload accompanies storage.degraded events, published when the
// backing store was unreachable and the in-memory state is authoritative.
type DegradedPayload struct {
	Tenant string `json:"tenant"`
	Op     string `json:"op"`
	Err    string `json:"error"`
}
