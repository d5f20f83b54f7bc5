package script

import (
	"errors"
	"fmt"
)

// MaxSourceLen is the maximum admitted source length in characters.
const MaxSourceLen = 10000

var (
	// ErrTooLarge is returned when source exceeds MaxSourceLen.
	ErrTooLarge = fmt.Errorf("source exceeds %d characters", MaxSourceLen)

	// ErrMissingEntryPoint is returned when source does not define exactly
	// one top-level function run(ctx) taking a single parameter.
	ErrMissingEntryPoint = errors.New("source must define exactly one top-level function run(ctx)")
)

// SyntaxError reports a Lua parse failure.
type SyntaxError struct {
	Detail string
}

func (e *SyntaxError) Error() string {
	return "syntax error: " + e.Detail
}

// DisallowedConstructError reports use of a construct the admission gate
// rejects: dynamic-evaluation primitives or reflective access.
type DisallowedConstructError struct {
	Name string
	Line int
}

func (e *DisallowedConstructError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("disallowed construct %q at line %d", e.Name, e.Line)
	}
	return fmt.Sprintf("disallowed construct %q", e.Name)
}
