package registry

import (
	"errors"
	"fmt"
)

// ErrNotFound means the named command does not exist for the tenant.
var ErrNotFound = errors.New("command not found")

// PlatformRejectedError means the platform dispatch table refused an update.
// The registry rolls the triggering mutation back, so in-memory state still
// matches the platform's visible catalog.
type PlatformRejectedError struct {
	Op     string
	Tenant string
	Name   string
	Err    error
}

func (e *PlatformRejectedError) Error() string {
	return fmt.Sprintf("platform rejected %s of %s/%s: %v", e.Op, e.Tenant, e.Name, e.Err)
}

func (e *PlatformRejectedError) Unwrap() error {
	return e.Err
}
