package resolver

import (
	"go.uber.org/multierr"

	"github.com/paraflow-lang/paraflow/internal/ast"
	"github.com/paraflow-lang/paraflow/internal/types"
)

// MainSymbol is the assembler name of the function holding top-level code.
const MainSymbol = "main"

// UserPrefix starts the assembler name of every user function.
const UserPrefix = "pf_"

// Program is a resolved translation unit.
type Program struct {
	Universe *Universe
	File     *ast.File
	// Scope is the file scope; top-level variables live here as globals.
	Scope *ast.Scope
	// Main holds the top-level statements.
	Main *ast.Def
	// Funcs lists every function with a body to compile: Main first, then
	// user functions and methods in declaration order.
	Funcs   []*ast.Def
	Globals []*ast.Def
}

type resolver struct {
	u       *Universe
	reg     *types.Registry
	scope   *ast.Scope
	builtin bool

	funcDecls []*ast.FuncDecl
	globals   []*ast.Def
	main      *ast.Def

	// fn is the function whose body is being resolved.
	fn    *ast.Def
	loops int

	errs error
}

func newResolver(u *Universe, scope *ast.Scope, builtin bool) *resolver {
	return &resolver{u: u, reg: u.Registry, scope: scope, builtin: builtin}
}

// Resolve declares every entity of file in a new file scope below the
// universe and annotates the tree. Resolution continues past failed
// declarations; the returned error aggregates every failure.
func Resolve(file *ast.File, u *Universe) (*Program, error) {
	scope := ast.NewScope(ast.FileScope, u.Scope, nil)
	r := newResolver(u, scope, false)
	r.declare(file)

	prog := &Program{
		Universe: u,
		File:     file,
		Scope:    scope,
		Main:     r.main,
		Globals:  r.globals,
	}

	prog.Funcs = append(prog.Funcs, r.main)
	for _, fd := range r.funcDecls {
		prog.Funcs = append(prog.Funcs, fd.Def)
	}

	return prog, r.errs
}

func (r *resolver) fail(err error) {
	r.errs = multierr.Append(r.errs, err)
}

func (r *resolver) declare(files ...*ast.File) error {
	var (
		classes []*ast.ClassDecl
		funcs   []*ast.FuncDecl
		stmts   []ast.Stmt
	)

	for _, f := range files {
		for _, n := range f.Nodes {
			switch n := n.(type) {
			case *ast.ClassDecl:
				classes = append(classes, n)
			case *ast.FuncDecl:
				funcs = append(funcs, n)
			case ast.Stmt:
				stmts = append(stmts, n)
			}
		}
	}

	// Types first so that signatures and bodies may refer to classes
	// declared later in the file.
	for _, c := range classes {
		r.declareClass(c)
	}

	for _, c := range classes {
		if c.Def != nil && c.Parent != "" {
			r.linkParent(c)
		}
	}

	for _, c := range classes {
		if c.Def != nil {
			r.declareMembers(c)
		}
	}

	for _, f := range funcs {
		r.declareFunc(f, r.scope, nil)
	}

	if len(stmts) > 0 || !r.builtin {
		r.declareMain(files[0], stmts)
	}

	if err := r.reg.Layout(); err != nil {
		r.fail(err)
	}

	if r.main != nil {
		r.mainBody()
	}

	for _, fd := range r.funcDecls {
		r.funcBody(fd)
	}

	return r.errs
}
