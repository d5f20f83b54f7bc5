package sandbox

import (
	"context"
	"errors"

	lua "github.com/yuin/gopher-lua"

	"github.com/conjurehq/conjure/internal/logging"
	"github.com/conjurehq/conjure/pkg/types"
)

var errNoRunFunction = errors.New("chunk did not define a callable run function")

// safeLibs are the standard libraries opened in every execution state.
// io, os, debug and package stay closed.
var safeLibs = []struct {
	name string
	open lua.LGFunction
}{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
	{lua.CoroutineLibName, lua.OpenCoroutine},
}

// strippedGlobals are base-library functions removed after opening: dynamic
// code loading and the reflective surface the validator also rejects
// syntactically.
var strippedGlobals = []string{
	"load",
	"loadstring",
	"loadfile",
	"dofile",
	"require",
	"collectgarbage",
	"getmetatable",
	"setmetatable",
	"rawget",
	"rawset",
	"rawequal",
	"rawlen",
}

// newState builds a fresh execution state bound to the invocation context.
// The state's context makes the VM abort once the deadline passes, even in
// detached workers.
func (s *Sandbox) newState(ctx context.Context, inv types.Invocation, reply ReplyFunc) (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	for _, lib := range safeLibs {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, err
		}
	}

	for _, name := range strippedGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	// print goes to the structured log, not the process stdout.
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		logging.Debug().
			Str("tenant", inv.Tenant).
			Str("command", inv.Command).
			Str("invocation", inv.ID).
			Msg(joinArgs(L))
		return 0
	}))

	L.SetContext(ctx)
	return L, nil
}

// invocationContext builds the capability table passed to run. This is the
// handler's entire view of the platform: identity fields, arguments, and the
// reply capability. No ambient globals.
func invocationContext(L *lua.LState, inv types.Invocation, reply ReplyFunc) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("id", lua.LString(inv.ID))
	tbl.RawSetString("tenant", lua.LString(inv.Tenant))
	tbl.RawSetString("command", lua.LString(inv.Command))

	args := L.NewTable()
	for k, v := range inv.Args {
		args.RawSetString(k, lua.LString(v))
	}
	tbl.RawSetString("args", args)

	tbl.RawSetString("reply", L.NewFunction(func(L *lua.LState) int {
		msg := L.CheckString(methodArgIndex(L, tbl))
		if reply == nil {
			L.RaiseError("reply is not available for this invocation")
			return 0
		}
		if err := reply(msg); err != nil {
			L.RaiseError("reply failed: %s", err.Error())
		}
		return 0
	}))

	tbl.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		msg := L.CheckString(methodArgIndex(L, tbl))
		logging.Info().
			Str("tenant", inv.Tenant).
			Str("command", inv.Command).
			Str("invocation", inv.ID).
			Msg(msg)
		return 0
	}))

	return tbl
}

// methodArgIndex lets capability functions accept both ctx.reply(msg) and
// ctx:reply(msg) call styles.
func methodArgIndex(L *lua.LState, self *lua.LTable) int {
	if L.GetTop() >= 2 && L.Get(1) == lua.LValue(self) {
		return 2
	}
	return 1
}

// joinArgs renders all print arguments the way Lua's print would.
func joinArgs(L *lua.LState) string {
	top := L.GetTop()
	out := ""
	for i := 1; i <= top; i++ {
		if i > 1 {
			out += "\t"
		}
		out += L.Get(i).String()
	}
	return out
}
