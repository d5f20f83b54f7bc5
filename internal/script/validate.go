// Package script admits and compiles tenant-authored Lua command code.
//
// Admission is a deny-list static gate over the syntax tree, not a sandbox:
// it rejects known-dangerous shapes (dynamic code loading, metatable access)
// and enforces the run(ctx) entry-point contract. Capability containment at
// run time is the sandbox package's job.
package script

import (
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"
)

// EntryPoint identifies the admitted run function and how the sandbox must
// dispatch it.
type EntryPoint struct {
	// Suspending is true when the chunk calls coroutine.yield; such handlers
	// run as coroutines under the caller's scheduler instead of on a worker.
	Suspending bool
	// Line is the source line of the run definition.
	Line int
}

// Program is a validated, compiled chunk ready for repeated invocation.
// The proto is immutable and safe to share across states.
type Program struct {
	Proto *lua.FunctionProto
	Entry EntryPoint
}

// deniedCalls are the dynamic-evaluation primitives the gate rejects when
// called by name. The sandbox additionally removes them from the execution
// environment.
var deniedCalls = map[string]bool{
	"load":       true,
	"loadstring": true,
	"loadfile":   true,
	"dofile":     true,
	"require":    true,
}

// entryPointName is the single function admitted code must define.
const entryPointName = "run"

// EntryPointName returns the required entry-point function name.
func EntryPointName() string {
	return entryPointName
}

// Validate parses source and applies the admission policy. It returns the
// entry point descriptor, or one of SyntaxError, ErrTooLarge,
// DisallowedConstructError, ErrMissingEntryPoint.
func Validate(source string) (EntryPoint, error) {
	chunk, err := parse.Parse(strings.NewReader(source), entryPointName)
	if err != nil {
		return EntryPoint{}, &SyntaxError{Detail: err.Error()}
	}

	if len(source) > MaxSourceLen {
		return EntryPoint{}, ErrTooLarge
	}

	w := &walker{}
	if err := w.stmts(chunk); err != nil {
		return EntryPoint{}, err
	}

	entry, ok := findEntryPoint(chunk)
	if !ok {
		return EntryPoint{}, ErrMissingEntryPoint
	}
	entry.Suspending = w.yields
	return entry, nil
}

// Compile validates source and compiles it into a shareable Program.
// chunkName appears in runtime error messages.
func Compile(source, chunkName string) (*Program, error) {
	entry, err := Validate(source)
	if err != nil {
		return nil, err
	}

	chunk, err := parse.Parse(strings.NewReader(source), chunkName)
	if err != nil {
		return nil, &SyntaxError{Detail: err.Error()}
	}
	proto, err := lua.Compile(chunk, chunkName)
	if err != nil {
		return nil, &SyntaxError{Detail: err.Error()}
	}
	return &Program{Proto: proto, Entry: entry}, nil
}

// findEntryPoint locates the single top-level `function run(ctx)` definition.
// Local functions and method definitions do not qualify.
func findEntryPoint(chunk []ast.Stmt) (EntryPoint, bool) {
	var entry EntryPoint
	count := 0
	for _, stmt := range chunk {
		def, ok := stmt.(*ast.FuncDefStmt)
		if !ok || def.Name == nil || def.Name.Method != "" || def.Name.Receiver != nil {
			continue
		}
		ident, ok := def.Name.Func.(*ast.IdentExpr)
		if !ok || ident.Value != entryPointName {
			continue
		}
		count++
		if def.Func == nil || def.Func.ParList == nil ||
			len(def.Func.ParList.Names) != 1 || def.Func.ParList.HasVargs {
			return EntryPoint{}, false
		}
		entry = EntryPoint{Line: def.Line()}
	}
	if count != 1 {
		return EntryPoint{}, false
	}
	return entry, true
}

// walker applies the deny-list to every node and records whether the chunk
// can suspend.
type walker struct {
	yields bool
}

func (w *walker) stmts(list []ast.Stmt) error {
	for _, stmt := range list {
		if err := w.stmt(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) stmt(stmt ast.Stmt) error {
	switch st := stmt.(type) {
	case *ast.AssignStmt:
		if err := w.exprs(st.Lhs); err != nil {
			return err
		}
		return w.exprs(st.Rhs)
	case *ast.LocalAssignStmt:
		return w.exprs(st.Exprs)
	case *ast.FuncCallStmt:
		return w.expr(st.Expr)
	case *ast.DoBlockStmt:
		return w.stmts(st.Stmts)
	case *ast.WhileStmt:
		if err := w.expr(st.Condition); err != nil {
			return err
		}
		return w.stmts(st.Stmts)
	case *ast.RepeatStmt:
		if err := w.expr(st.Condition); err != nil {
			return err
		}
		return w.stmts(st.Stmts)
	case *ast.IfStmt:
		if err := w.expr(st.Condition); err != nil {
			return err
		}
		if err := w.stmts(st.Then); err != nil {
			return err
		}
		return w.stmts(st.Else)
	case *ast.NumberForStmt:
		if err := w.expr(st.Init); err != nil {
			return err
		}
		if err := w.expr(st.Limit); err != nil {
			return err
		}
		if st.Step != nil {
			if err := w.expr(st.Step); err != nil {
				return err
			}
		}
		return w.stmts(st.Stmts)
	case *ast.GenericForStmt:
		if err := w.exprs(st.Exprs); err != nil {
			return err
		}
		return w.stmts(st.Stmts)
	case *ast.FuncDefStmt:
		if st.Name != nil {
			if strings.HasPrefix(st.Name.Method, "__") {
				return &DisallowedConstructError{Name: "reflective access", Line: stmt.Line()}
			}
			if st.Name.Func != nil {
				if err := w.expr(st.Name.Func); err != nil {
					return err
				}
			}
		}
		return w.expr(st.Func)
	case *ast.ReturnStmt:
		return w.exprs(st.Exprs)
	default:
		// Break, label and goto statements carry no expressions.
		return nil
	}
}

func (w *walker) exprs(list []ast.Expr) error {
	for _, expr := range list {
		if err := w.expr(expr); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) expr(expr ast.Expr) error {
	switch ex := expr.(type) {
	case *ast.AttrGetExpr:
		if key, ok := ex.Key.(*ast.StringExpr); ok && strings.HasPrefix(key.Value, "__") {
			return &DisallowedConstructError{Name: "reflective access", Line: expr.Line()}
		}
		if w.isCoroutineYield(ex) {
			w.yields = true
		}
		if err := w.expr(ex.Object); err != nil {
			return err
		}
		return w.expr(ex.Key)
	case *ast.FuncCallExpr:
		if ident, ok := ex.Func.(*ast.IdentExpr); ok && deniedCalls[ident.Value] {
			return &DisallowedConstructError{Name: ident.Value, Line: expr.Line()}
		}
		if strings.HasPrefix(ex.Method, "__") {
			return &DisallowedConstructError{Name: "reflective access", Line: expr.Line()}
		}
		if ex.Func != nil {
			if err := w.expr(ex.Func); err != nil {
				return err
			}
		}
		if ex.Receiver != nil {
			if err := w.expr(ex.Receiver); err != nil {
				return err
			}
		}
		return w.exprs(ex.Args)
	case *ast.FunctionExpr:
		return w.stmts(ex.Stmts)
	case *ast.TableExpr:
		for _, field := range ex.Fields {
			if field.Key != nil {
				if key, ok := field.Key.(*ast.StringExpr); ok && strings.HasPrefix(key.Value, "__") {
					return &DisallowedConstructError{Name: "reflective access", Line: expr.Line()}
				}
				if err := w.expr(field.Key); err != nil {
					return err
				}
			}
			if err := w.expr(field.Value); err != nil {
				return err
			}
		}
		return nil
	case *ast.LogicalOpExpr:
		if err := w.expr(ex.Lhs); err != nil {
			return err
		}
		return w.expr(ex.Rhs)
	case *ast.RelationalOpExpr:
		if err := w.expr(ex.Lhs); err != nil {
			return err
		}
		return w.expr(ex.Rhs)
	case *ast.StringConcatOpExpr:
		if err := w.expr(ex.Lhs); err != nil {
			return err
		}
		return w.expr(ex.Rhs)
	case *ast.ArithmeticOpExpr:
		if err := w.expr(ex.Lhs); err != nil {
			return err
		}
		return w.expr(ex.Rhs)
	case *ast.UnaryMinusOpExpr:
		return w.expr(ex.Expr)
	case *ast.UnaryNotOpExpr:
		return w.expr(ex.Expr)
	case *ast.UnaryLenOpExpr:
		return w.expr(ex.Expr)
	default:
		// Literals and identifiers need no inspection.
		return nil
	}
}

// isCoroutineYield reports whether expr reads coroutine.yield.
func (w *walker) isCoroutineYield(ex *ast.AttrGetExpr) bool {
	obj, ok := ex.Object.(*ast.IdentExpr)
	if !ok || obj.Value != "coroutine" {
		return false
	}
	key, ok := ex.Key.(*ast.StringExpr)
	return ok && key.Value == "yield"
}
