package resolver

import (
	"github.com/paraflow-lang/paraflow/internal/ast"
	"github.com/paraflow-lang/paraflow/internal/errors"
	"github.com/paraflow-lang/paraflow/internal/types"
)

// stmts resolves a statement list; a failed statement is reported and the
// next one is resolved.
func (r *resolver) stmts(sc *ast.Scope, list []ast.Stmt) {
	for _, s := range list {
		if err := r.stmt(sc, s); err != nil {
			r.fail(err)
		}
	}

	sc.Stmts = append(sc.Stmts, list...)
}

func (r *resolver) block(parent *ast.Scope, b *ast.Block) {
	b.Scope = ast.NewScope(ast.BlockScope, parent, nil)
	r.stmts(b.Scope, b.Stmts)
}

func (r *resolver) stmt(sc *ast.Scope, s ast.Stmt) error {
	switch s := s.(type) {
	case *ast.VarDecl:
		return r.varDecl(sc, s)
	case *ast.Assign:
		return r.assign(sc, s)
	case *ast.ExprStmt:
		x, err := r.expr(sc, s.X)
		if err != nil {
			return err
		}

		s.X = x
	case *ast.Block:
		r.block(sc, s)
	case *ast.If:
		cond, err := r.cond(sc, s.Cond)
		if err != nil {
			return err
		}

		s.Cond = cond
		r.block(sc, s.Then)

		switch e := s.Else.(type) {
		case *ast.Block:
			r.block(sc, e)
		case *ast.If:
			return r.stmt(sc, e)
		}
	case *ast.While:
		cond, err := r.cond(sc, s.Cond)
		if err != nil {
			return err
		}

		s.Cond = cond
		r.loop(sc, s.Body)
	case *ast.For:
		return r.forStmt(sc, s)
	case *ast.Break:
		if r.loops == 0 {
			return errors.MisplacedStatement(s.Span.Start, "break")
		}
	case *ast.Continue:
		if r.loops == 0 {
			return errors.MisplacedStatement(s.Span.Start, "continue")
		}
	case *ast.Return:
	default:
		return errors.UnsupportedConstruct(r.pos(s), r.fnName(), "statement "+s.String())
	}

	return nil
}

func (r *resolver) loop(sc *ast.Scope, body *ast.Block) {
	r.loops++
	r.block(sc, body)
	r.loops--
}

func (r *resolver) forStmt(sc *ast.Scope, s *ast.For) error {
	s.Scope = ast.NewScope(ast.BlockScope, sc, nil)

	if s.Init != nil {
		if err := r.stmt(s.Scope, s.Init); err != nil {
			return err
		}
	}

	if s.Cond != nil {
		cond, err := r.cond(s.Scope, s.Cond)
		if err != nil {
			return err
		}

		s.Cond = cond
	}

	if s.Post != nil {
		if err := r.stmt(s.Scope, s.Post); err != nil {
			return err
		}
	}

	r.loop(s.Scope, s.Body)

	return nil
}

func (r *resolver) varDecl(sc *ast.Scope, s *ast.VarDecl) error {
	t, err := r.typeRef(sc, s.TypeRef)
	if err != nil {
		return err
	}

	if s.Init != nil {
		x, err := r.value(sc, s.Init)
		if err != nil {
			return err
		}

		if s.Init, err = r.assignTo(t, x); err != nil {
			return err
		}
	}

	def := &ast.Def{Name: s.Name, Kind: ast.DefVar, Type: t, Init: s.Init, Owner: r.fn, Pos: s.Span.Start, Decl: s}
	if sc.Kind == ast.FileScope {
		def.Kind = ast.DefGlobal
		def.Owner = nil
	}

	if err := sc.DefineSymbol(def); err != nil {
		return err
	}

	s.Def = def
	if def.Kind == ast.DefGlobal {
		r.globals = append(r.globals, def)
	}

	return nil
}

func (r *resolver) assign(sc *ast.Scope, s *ast.Assign) error {
	for i, t := range s.Targets {
		x, err := r.target(sc, t)
		if err != nil {
			return err
		}

		s.Targets[i] = x
	}

	if len(s.Targets) > 1 {
		return r.tupleAssign(sc, s)
	}

	target := s.Targets[0]
	value := s.Value

	// A compound assignment is resolved as target = target op value.
	if s.Op != ast.OpNone {
		value = &ast.Binary{Op: s.Op, X: target, Y: s.Value, Span: s.Span}
		s.Op = ast.OpNone
	}

	x, err := r.value(sc, value)
	if err != nil {
		return err
	}

	s.Value, err = r.assignTo(target.Type(), x)

	return err
}

func (r *resolver) tupleAssign(sc *ast.Scope, s *ast.Assign) error {
	call, ok := s.Value.(*ast.Call)
	if !ok {
		return errors.TypeMismatch(r.pos(s.Value), "assignment to %d targets needs a call, not %s", len(s.Targets), s.Value)
	}

	x, err := r.call(sc, call)
	if err != nil {
		return err
	}

	s.Value = x
	outs := r.reg.Get(call.Func.Type).Func().Outputs

	if len(outs) != len(s.Targets) {
		return errors.Arity(s.Span.Start, "outputs of "+call.Func.Name, len(outs), len(s.Targets))
	}

	for i, out := range outs {
		t := s.Targets[i]
		if !r.reg.Assignable(t.Type(), out.Type) {
			return errors.TypeMismatch(r.pos(t), "cannot assign %s output %s to %s",
				r.reg.String(out.Type), out.Name, r.reg.String(t.Type()))
		}
	}

	return nil
}

// target resolves an assignable expression.
func (r *resolver) target(sc *ast.Scope, e ast.Expr) (ast.Expr, error) {
	x, err := r.expr(sc, e)
	if err != nil {
		return nil, err
	}

	switch x := x.(type) {
	case *ast.Ident:
		switch x.Def.Kind {
		case ast.DefVar, ast.DefGlobal, ast.DefInput, ast.DefOutput:
			return x, nil
		}
	case *ast.Member:
		if x.Method == nil {
			return x, nil
		}
	case *ast.Index:
		return x, nil
	}

	return nil, errors.TypeMismatch(r.pos(e), "cannot assign to %s", e)
}

// cond resolves a branch condition: an integer or a reference.
func (r *resolver) cond(sc *ast.Scope, e ast.Expr) (ast.Expr, error) {
	x, err := r.value(sc, e)
	if err != nil {
		return nil, err
	}

	if !r.truthy(x.Type()) {
		return nil, errors.TypeMismatch(r.pos(e), "condition %s has type %s", e, r.reg.String(x.Type()))
	}

	return x, nil
}

func (r *resolver) truthy(t types.TypeID) bool {
	k := r.reg.Kind(t)
	return k.IsInteger() || k.IsReference() && k != types.Function
}
