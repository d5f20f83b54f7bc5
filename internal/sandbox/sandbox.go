// Package sandbox executes admitted command code under bounded resource
// usage and isolated failure.
//
// Every invocation runs in a fresh Lua state with a restricted library set
// and an explicit capability context table; compiled prototypes are the only
// thing shared between invocations. The deliberate trust boundary: context
// capabilities, not process isolation, limit what a handler can do.
package sandbox

import (
	"context"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/conjurehq/conjure/internal/logging"
	"github.com/conjurehq/conjure/internal/script"
	"github.com/conjurehq/conjure/pkg/types"
)

const (
	// DefaultTimeout bounds a single invocation.
	DefaultTimeout = 30 * time.Second
	// DefaultWorkers bounds concurrent blocking-handler execution.
	DefaultWorkers = 8
)

// ReplyFunc delivers a handler's reply to the platform. Passed into the
// capability context as ctx.reply.
type ReplyFunc func(message string) error

// Sandbox runs compiled programs with a per-invocation timeout and a bounded
// worker pool for blocking handlers.
type Sandbox struct {
	timeout time.Duration
	workers chan struct{}
}

// New creates a sandbox from configuration, applying defaults for zero
// values.
func New(cfg types.SandboxConfig) *Sandbox {
	timeout := DefaultTimeout
	if cfg.TimeoutMS > 0 {
		timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	workers := DefaultWorkers
	if cfg.Workers > 0 {
		workers = cfg.Workers
	}
	return &Sandbox{
		timeout: timeout,
		workers: make(chan struct{}, workers),
	}
}

// Timeout returns the configured per-invocation timeout.
func (s *Sandbox) Timeout() time.Duration {
	return s.timeout
}

// Invoke runs prog for inv and reports the outcome. Faults inside the
// handler become Failure outcomes; deadline expiry becomes Timeout. The
// outcome of one invocation has no effect on any other.
func (s *Sandbox) Invoke(ctx context.Context, prog *script.Program, inv types.Invocation, reply ReplyFunc) types.ExecutionOutcome {
	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var outcome types.ExecutionOutcome
	if prog.Entry.Suspending {
		outcome = s.invokeSuspending(runCtx, prog, inv, reply)
	} else {
		outcome = s.invokeBlocking(runCtx, prog, inv, reply)
	}
	outcome.DurationMS = time.Since(start).Milliseconds()
	return outcome
}

// invokeBlocking dispatches the handler onto the bounded worker pool. On
// timeout the worker is abandoned; its state's context makes the VM abort
// shortly after, and the worker holds no shared mutable references.
func (s *Sandbox) invokeBlocking(ctx context.Context, prog *script.Program, inv types.Invocation, reply ReplyFunc) types.ExecutionOutcome {
	select {
	case s.workers <- struct{}{}:
	case <-ctx.Done():
		return types.ExecutionOutcome{Status: types.OutcomeTimeout, Reason: "timed out waiting for a worker"}
	}

	done := make(chan types.ExecutionOutcome, 1)
	go func() {
		defer func() { <-s.workers }()
		done <- s.run(ctx, prog, inv, reply)
	}()

	select {
	case outcome := <-done:
		return outcome
	case <-ctx.Done():
		logging.Warn().
			Str("tenant", inv.Tenant).
			Str("command", inv.Command).
			Str("invocation", inv.ID).
			Msg("blocking handler detached after timeout")
		return types.ExecutionOutcome{Status: types.OutcomeTimeout, Reason: "execution exceeded timeout"}
	}
}

// run executes the full chunk-then-entry-point sequence in a fresh state.
func (s *Sandbox) run(ctx context.Context, prog *script.Program, inv types.Invocation, reply ReplyFunc) types.ExecutionOutcome {
	L, err := s.newState(ctx, inv, reply)
	if err != nil {
		return failure("state setup: " + err.Error())
	}
	defer L.Close()

	fn, err := loadEntryPoint(L, prog)
	if err != nil {
		if ctx.Err() != nil {
			return types.ExecutionOutcome{Status: types.OutcomeTimeout, Reason: "execution exceeded timeout"}
		}
		return failure(err.Error())
	}

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, invocationContext(L, inv, reply)); err != nil {
		if ctx.Err() != nil {
			return types.ExecutionOutcome{Status: types.OutcomeTimeout, Reason: "execution exceeded timeout"}
		}
		return failure(err.Error())
	}

	ret := L.Get(-1)
	L.Pop(1)
	return success(ret)
}

// invokeSuspending runs the handler as a coroutine on the calling goroutine,
// checking the deadline between resumes so a yielding handler is cancelled
// cleanly instead of detached.
func (s *Sandbox) invokeSuspending(ctx context.Context, prog *script.Program, inv types.Invocation, reply ReplyFunc) types.ExecutionOutcome {
	L, err := s.newState(ctx, inv, reply)
	if err != nil {
		return failure("state setup: " + err.Error())
	}
	defer L.Close()

	fn, err := loadEntryPoint(L, prog)
	if err != nil {
		if ctx.Err() != nil {
			return types.ExecutionOutcome{Status: types.OutcomeTimeout, Reason: "execution exceeded timeout"}
		}
		return failure(err.Error())
	}

	co, coCancel := L.NewThread()
	st, resumeErr, values := L.Resume(co, fn, invocationContext(L, inv, reply))
	for st == lua.ResumeYield {
		if ctx.Err() != nil {
			if coCancel != nil {
				coCancel()
			}
			return types.ExecutionOutcome{Status: types.OutcomeTimeout, Reason: "execution exceeded timeout"}
		}
		st, resumeErr, values = L.Resume(co, fn)
	}
	if st == lua.ResumeError {
		if ctx.Err() != nil {
			return types.ExecutionOutcome{Status: types.OutcomeTimeout, Reason: "execution exceeded timeout"}
		}
		reason := "handler error"
		if resumeErr != nil {
			reason = resumeErr.Error()
		}
		return failure(reason)
	}

	if len(values) > 0 {
		return success(values[0])
	}
	return success(lua.LNil)
}

// loadEntryPoint evaluates the chunk in the given state and returns its run
// function. The chunk was admitted by the validator, but top-level code can
// still fail at evaluation time.
func loadEntryPoint(L *lua.LState, prog *script.Program) (*lua.LFunction, error) {
	L.Push(L.NewFunctionFromProto(prog.Proto))
	if err := L.PCall(0, 0, nil); err != nil {
		return nil, err
	}
	fn, ok := L.GetGlobal(script.EntryPointName()).(*lua.LFunction)
	if !ok {
		return nil, errNoRunFunction
	}
	return fn, nil
}

func failure(reason string) types.ExecutionOutcome {
	return types.ExecutionOutcome{Status: types.OutcomeFailure, Reason: reason}
}

// success converts the handler's return value, if any, into the outcome
// message.
func success(ret lua.LValue) types.ExecutionOutcome {
	outcome := types.ExecutionOutcome{Status: types.OutcomeSuccess}
	switch ret.Type() {
	case lua.LTString, lua.LTNumber, lua.LTBool:
		outcome.Message = ret.String()
	}
	return outcome
}
