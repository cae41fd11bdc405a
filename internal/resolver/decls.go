package resolver

import (
	"github.com/paraflow-lang/paraflow/internal/ast"
	"github.com/paraflow-lang/paraflow/internal/errors"
	"github.com/paraflow-lang/paraflow/internal/position"
	"github.com/paraflow-lang/paraflow/internal/types"
)

func (r *resolver) declareClass(c *ast.ClassDecl) {
	pos := c.Span.Start

	id, err := r.scope.DefineType(r.reg, pos, c.Name, types.Class, &types.ClassPayload{})
	if err != nil {
		r.fail(err)
		return
	}

	def := &ast.Def{Name: c.Name, Kind: ast.DefClass, Type: id, Pos: pos, Builtin: r.builtin, Decl: c}
	def.Scope = ast.NewScope(ast.ClassScope, r.scope, def)
	c.Def = def
	r.u.classes[id] = def

	if err := r.scope.DefineSymbol(def); err != nil {
		r.fail(err)
	}
}

func (r *resolver) linkParent(c *ast.ClassDecl) {
	pos := c.Span.Start

	parent, err := r.scope.ResolveType(pos, c.Parent)
	if err != nil {
		r.fail(err)
		return
	}

	if err := r.reg.SetParent(pos, c.Def.Type, parent); err != nil {
		r.fail(err)
	}
}

func (r *resolver) declareMembers(c *ast.ClassDecl) {
	class := c.Def.Type
	parent := r.reg.Parent(class)

	for _, m := range c.Members {
		switch m := m.(type) {
		case *ast.VarDecl:
			pos := m.Span.Start

			if m.Init != nil {
				r.fail(errors.UnsupportedConstruct(pos, c.Name, "field initializer"))
				continue
			}

			t, err := r.typeRef(c.Def.Scope, m.TypeRef)
			if err != nil {
				r.fail(err)
				continue
			}

			if parent != types.Invalid {
				if f, _, ok := r.reg.Member(parent, m.Name); ok && !f.Method {
					r.fail(errors.DuplicateSymbol(pos, c.Name+"."+m.Name))
					continue
				}
			}

			def := &ast.Def{Name: m.Name, Kind: ast.DefField, Type: t, Owner: c.Def, Pos: pos, Builtin: r.builtin, Decl: m}
			if err := c.Def.Scope.DefineSymbol(def); err != nil {
				r.fail(err)
				continue
			}

			m.Def = def
			r.reg.AddMember(class, types.Field{Name: m.Name, Type: t})
		case *ast.FuncDecl:
			if def := r.declareFunc(m, c.Def.Scope, c.Def); def != nil {
				r.reg.AddMember(class, types.Field{Name: m.Name, Type: def.Type, Method: true})
			}
		}
	}
}

// declareFunc builds the signature of fd and defines it in sc. Methods get
// an implicit first input self of the owning class.
func (r *resolver) declareFunc(fd *ast.FuncDecl, sc *ast.Scope, owner *ast.Def) *ast.Def {
	pos := fd.Span.Start
	def := &ast.Def{Name: fd.Name, Kind: ast.DefFunc, Owner: owner, Pos: pos, Builtin: r.builtin, Decl: fd}
	def.Scope = ast.NewScope(ast.FuncScope, sc, def)
	def.Symbol = r.symbol(owner, fd.Name)

	var ins, outs []types.Field

	if owner != nil {
		self := &ast.Def{Name: "self", Kind: ast.DefInput, Type: owner.Type, Owner: def, Pos: pos}
		if err := def.Scope.DefineSymbol(self); err != nil {
			r.fail(err)
			return nil
		}

		ins = append(ins, types.Field{Name: "self", Type: owner.Type})
	}

	ok := true
	params := func(ps []*ast.Param, kind ast.DefKind, fields *[]types.Field) {
		for _, p := range ps {
			t, err := r.typeRef(def.Scope, p.Type)
			if err != nil {
				r.fail(err)
				ok = false

				continue
			}

			pd := &ast.Def{Name: p.Name, Kind: kind, Type: t, Owner: def, Pos: p.Span.Start, Index: len(*fields), Decl: p}
			if err := def.Scope.DefineSymbol(pd); err != nil {
				r.fail(err)
				ok = false

				continue
			}

			p.Def = pd
			*fields = append(*fields, types.Field{Name: p.Name, Type: t})
		}
	}

	params(fd.Inputs, ast.DefInput, &ins)
	params(fd.Outputs, ast.DefOutput, &outs)

	if !ok {
		return nil
	}

	def.Type = r.reg.Func(ins, outs)

	if err := sc.DefineSymbol(def); err != nil {
		r.fail(err)
		return nil
	}

	fd.Def = def
	r.funcDecls = append(r.funcDecls, fd)

	return def
}

func (r *resolver) symbol(owner *ast.Def, name string) string {
	if r.builtin {
		if owner == nil {
			return r.u.Provider.Symbol("", name)
		}

		return r.u.Provider.Symbol(owner.Name, name)
	}

	if owner == nil {
		return UserPrefix + name
	}

	return UserPrefix + owner.Name + "_" + name
}

// declareMain wraps the top-level statements in the synthetic function that
// runs them. Its scope is the file scope, so its variables are globals.
func (r *resolver) declareMain(file *ast.File, stmts []ast.Stmt) {
	main := &ast.Def{
		Name:   MainSymbol,
		Kind:   ast.DefFunc,
		Type:   r.reg.Func(nil, nil),
		Scope:  r.scope,
		Pos:    file.Span.Start,
		Symbol: MainSymbol,
	}

	main.Decl = &ast.FuncDecl{
		Span: file.Span,
		Name: MainSymbol,
		Body: &ast.Block{Span: file.Span, Stmts: stmts, Scope: r.scope},
		Def:  main,
	}

	r.main = main
}

func (r *resolver) mainBody() {
	r.fn = r.main
	r.loops = 0
	r.stmts(r.scope, r.main.Decl.(*ast.FuncDecl).Body.Stmts)
}

func (r *resolver) funcBody(fd *ast.FuncDecl) {
	r.fn = fd.Def
	r.loops = 0
	fd.Body.Scope = fd.Def.Scope
	r.stmts(fd.Def.Scope, fd.Body.Stmts)
}

func (r *resolver) typeRef(sc *ast.Scope, tr *ast.TypeRef) (types.TypeID, error) {
	if tr.Elem != nil {
		elem, err := r.typeRef(sc, tr.Elem)
		if err != nil {
			return types.Invalid, err
		}

		return r.reg.Collection(tr.Kind, elem), nil
	}

	return sc.ResolveType(tr.Span.Start, tr.Name)
}

func (r *resolver) fnName() string {
	if r.fn == nil {
		return ""
	}

	return r.fn.Name
}

func (r *resolver) pos(n ast.Node) position.Position {
	return n.GetSpan().Start
}
