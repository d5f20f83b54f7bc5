// Package types contains the shared data types for the Conjure engine.
package types

import "time"

// DynamicCommand is a tenant-registered command. The compiled form derived
// from Source is a runtime artifact owned by the registry; only name, source
// and description are ever persisted.
type DynamicCommand struct {
	Name         string    `json:"name"`
	Source       string    `json:"source"`
	Description  string    `json:"description"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// CommandInfo is the read-only listing view of a registered command.
type CommandInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Invocation is a single request to run a registered command.
type Invocation struct {
	ID      string            `json:"id"`
	Tenant  string            `json:"tenant"`
	Command string            `json:"command"`
	Args    map[string]string `json:"args,omitempty"`
}

// OutcomeStatus classifies how an invocation ended.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailure OutcomeStatus = "failure"
	OutcomeTimeout OutcomeStatus = "timeout"
)

// ExecutionOutcome is the per-invocation result. It is reported as data,
// never persisted, and never raised as an error past the sandbox boundary.
type ExecutionOutcome struct {
	Status     OutcomeStatus `json:"status"`
	Message    string        `json:"message,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	DurationMS int64         `json:"durationMs"`
}
