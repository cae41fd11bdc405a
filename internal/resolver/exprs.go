package resolver

import (
	"math"

	"github.com/paraflow-lang/paraflow/internal/ast"
	"github.com/paraflow-lang/paraflow/internal/errors"
	"github.com/paraflow-lang/paraflow/internal/position"
	"github.com/paraflow-lang/paraflow/internal/types"
)

// numericRank orders numeric kinds for implicit widening.
var numericRank = map[types.Kind]int{
	types.Byte:   0,
	types.Short:  1,
	types.Int:    2,
	types.Long:   3,
	types.Float:  4,
	types.Double: 5,
}

// value resolves e and requires it to produce exactly one value.
func (r *resolver) value(sc *ast.Scope, e ast.Expr) (ast.Expr, error) {
	x, err := r.expr(sc, e)
	if err != nil {
		return nil, err
	}

	if r.reg.Kind(x.Type()) == types.Function {
		return nil, errors.TypeMismatch(r.pos(e), "%s is not a single value", e)
	}

	return x, nil
}

func (r *resolver) expr(sc *ast.Scope, e ast.Expr) (ast.Expr, error) {
	switch e := e.(type) {
	case *ast.Ident:
		return r.ident(sc, e)
	case *ast.IntLit:
		if e.Value < math.MinInt32 || e.Value > math.MaxInt32 {
			e.SetType(r.reg.Scalar(types.Long))
		} else {
			e.SetType(r.reg.Scalar(types.Int))
		}
	case *ast.FloatLit:
		e.SetType(r.reg.Scalar(types.Double))
	case *ast.StringLit:
		e.SetType(r.reg.Scalar(types.String))
	case *ast.Binary:
		return r.binary(sc, e)
	case *ast.Unary:
		return r.unary(sc, e)
	case *ast.Call:
		return r.call(sc, e)
	case *ast.Member:
		return r.member(sc, e)
	case *ast.Index:
		return r.index(sc, e)
	case *ast.Convert:
	case *ast.Tuple:
		return nil, errors.UnsupportedConstruct(e.Span.Start, r.fnName(), "tuple value "+e.String())
	default:
		return nil, errors.UnsupportedConstruct(r.pos(e), r.fnName(), "expression "+e.String())
	}

	return e, nil
}

// lookup finds a value name from sc outward. Inside a class scope inherited
// members are found through the parent chain.
func (r *resolver) lookup(sc *ast.Scope, pos position.Position, name string) (*ast.Def, error) {
	for s := sc; s != nil; s = s.Parent {
		if d := s.LookupLocal(name); d != nil {
			return d, nil
		}

		if s.Kind == ast.ClassScope {
			if _, owner, ok := r.reg.Member(s.Owner.Type, name); ok {
				return r.u.classes[owner].Scope.LookupLocal(name), nil
			}
		}
	}

	return nil, errors.UnknownSymbol(pos, name)
}

func (r *resolver) ident(sc *ast.Scope, e *ast.Ident) (ast.Expr, error) {
	def, err := r.lookup(sc, e.Span.Start, e.Name)
	if err != nil {
		return nil, err
	}

	switch def.Kind {
	case ast.DefClass:
		return nil, errors.TypeMismatch(e.Span.Start, "class %s is not a value", e.Name)
	case ast.DefField:
		// A bare field name inside a method means self.field.
		m := &ast.Member{X: &ast.Ident{Name: "self", Span: e.Span}, Name: e.Name, Span: e.Span}
		return r.member(sc, m)
	}

	e.Def = def
	e.SetType(def.Type)

	return e, nil
}

// classOf returns the class whose members apply to values of type t.
func (r *resolver) classOf(pos position.Position, t types.TypeID, name string) (types.TypeID, error) {
	switch k := r.reg.Kind(t); {
	case k == types.String:
		return r.u.StringClass, nil
	case k == types.Class:
		return t, nil
	case k.IsCollection():
		return types.Invalid, errors.UnsupportedConstruct(pos, r.fnName(), "member "+name+" of "+r.reg.String(t))
	}

	return types.Invalid, errors.TypeMismatch(pos, "%s has no member %s", r.reg.String(t), name)
}

func (r *resolver) member(sc *ast.Scope, m *ast.Member) (ast.Expr, error) {
	x, err := r.value(sc, m.X)
	if err != nil {
		return nil, err
	}

	m.X = x

	class, err := r.classOf(m.Span.Start, x.Type(), m.Name)
	if err != nil {
		return nil, err
	}

	f, owner, ok := r.reg.Member(class, m.Name)
	if !ok {
		return nil, errors.UnknownSymbol(m.Span.Start, r.reg.String(class)+"."+m.Name)
	}

	if f.Method {
		m.Method = r.u.classes[owner].Scope.LookupLocal(m.Name)
		m.SetType(f.Type)

		return m, nil
	}

	m.Offset, _, _ = r.reg.FieldOffset(class, m.Name)
	m.SetType(f.Type)

	return m, nil
}

func (r *resolver) index(sc *ast.Scope, e *ast.Index) (ast.Expr, error) {
	x, err := r.value(sc, e.X)
	if err != nil {
		return nil, err
	}

	idx, err := r.value(sc, e.Index)
	if err != nil {
		return nil, err
	}

	e.X, e.Index = x, idx

	t := r.reg.Get(x.Type())
	if t.Kind == types.Pointer || !t.Kind.IsCollection() {
		return nil, errors.TypeMismatch(e.Span.Start, "cannot index %s", r.reg.String(x.Type()))
	}

	e.SetType(t.Elem())

	return e, nil
}

func (r *resolver) call(sc *ast.Scope, c *ast.Call) (ast.Expr, error) {
	switch f := c.Fun.(type) {
	case *ast.Ident:
		def, err := r.lookup(sc, f.Span.Start, f.Name)
		if err != nil {
			return nil, err
		}

		if def.Kind != ast.DefFunc {
			return nil, errors.TypeMismatch(f.Span.Start, "cannot call non-function %s", f.Name)
		}

		f.Def = def
		f.SetType(def.Type)
		c.Func = def

		if def.IsMethod() {
			self, err := r.implicitSelf(sc, f, def)
			if err != nil {
				return nil, err
			}

			c.Recv = self
		}
	case *ast.Member:
		x, err := r.member(sc, f)
		if err != nil {
			return nil, err
		}

		m := x.(*ast.Member)
		if m.Method == nil {
			return nil, errors.TypeMismatch(f.Span.Start, "cannot call field %s", f)
		}

		c.Func = m.Method
		c.Recv = m.X
	default:
		return nil, errors.TypeMismatch(r.pos(c), "cannot call %s", c.Fun)
	}

	sig := r.reg.Get(c.Func.Type).Func()
	inputs := sig.Inputs

	if c.Func.IsMethod() {
		inputs = inputs[1:]
	}

	if len(c.Args) != len(inputs) {
		return nil, errors.Arity(c.Span.Start, "arguments to "+c.Func.Name, len(inputs), len(c.Args))
	}

	for i, a := range c.Args {
		x, err := r.value(sc, a)
		if err != nil {
			return nil, err
		}

		if c.Args[i], err = r.assignTo(inputs[i].Type, x); err != nil {
			return nil, err
		}
	}

	if len(sig.Outputs) == 1 {
		c.SetType(sig.Outputs[0].Type)
	} else {
		c.SetType(c.Func.Type)
	}

	return c, nil
}

// implicitSelf supplies the receiver of a method called by bare name from
// another method of the same class hierarchy.
func (r *resolver) implicitSelf(sc *ast.Scope, f *ast.Ident, method *ast.Def) (ast.Expr, error) {
	if r.fn == nil || !r.fn.IsMethod() || !r.reg.IsSubclass(r.fn.Owner.Type, method.Owner.Type) {
		return nil, errors.TypeMismatch(f.Span.Start, "method %s called without a receiver", f.Name)
	}

	return r.ident(sc, &ast.Ident{Name: "self", Span: f.Span})
}

func (r *resolver) binary(sc *ast.Scope, b *ast.Binary) (ast.Expr, error) {
	x, err := r.value(sc, b.X)
	if err != nil {
		return nil, err
	}

	y, err := r.value(sc, b.Y)
	if err != nil {
		return nil, err
	}

	b.X, b.Y = x, y
	tx, ty := x.Type(), y.Type()
	kx, ky := r.reg.Kind(tx), r.reg.Kind(ty)
	intType := r.reg.Scalar(types.Int)

	switch {
	case b.Op.IsLogical():
		if r.truthy(tx) && r.truthy(ty) {
			b.SetType(intType)
			return b, nil
		}
	case kx == types.String && ky == types.String:
		if b.Op == ast.OpAdd {
			b.SetType(tx)
			return b, nil
		}

		if b.Op.IsComparison() {
			b.SetType(intType)
			return b, nil
		}
	case kx.IsNumeric() && ky.IsNumeric():
		if b.Op.IsBitwise() && !(kx.IsInteger() && ky.IsInteger()) {
			break
		}

		t := tx
		if numericRank[ky] > numericRank[kx] {
			t = ty
		}

		b.X, b.Y = r.convert(x, t), r.convert(y, t)

		if b.Op.IsComparison() {
			b.SetType(intType)
		} else {
			b.SetType(t)
		}

		return b, nil
	case (b.Op == ast.OpEq || b.Op == ast.OpNe) && kx == types.Class && ky == types.Class:
		if r.reg.IsSubclass(tx, ty) || r.reg.IsSubclass(ty, tx) {
			b.SetType(intType)
			return b, nil
		}
	}

	return nil, errors.TypeMismatch(b.Span.Start, "invalid operation: %s %s %s",
		r.reg.String(tx), b.Op, r.reg.String(ty))
}

func (r *resolver) unary(sc *ast.Scope, u *ast.Unary) (ast.Expr, error) {
	x, err := r.value(sc, u.X)
	if err != nil {
		return nil, err
	}

	u.X = x
	t := x.Type()
	k := r.reg.Kind(t)

	switch {
	case u.Op == ast.OpNeg && k.IsNumeric():
		u.SetType(t)
	case u.Op == ast.OpCompl && k.IsInteger():
		u.SetType(t)
	case u.Op == ast.OpNot && r.truthy(t):
		u.SetType(r.reg.Scalar(types.Int))
	default:
		return nil, errors.TypeMismatch(u.Span.Start, "invalid operation: %s%s", u.Op, r.reg.String(t))
	}

	return u, nil
}

// assignTo checks that x may be stored as t and inserts a conversion
// between numeric kinds.
func (r *resolver) assignTo(t types.TypeID, x ast.Expr) (ast.Expr, error) {
	if !r.reg.Assignable(t, x.Type()) {
		return nil, errors.TypeMismatch(r.pos(x), "cannot use %s (%s) as %s",
			x, r.reg.String(x.Type()), r.reg.String(t))
	}

	return r.convert(x, t), nil
}

func (r *resolver) convert(x ast.Expr, t types.TypeID) ast.Expr {
	kx, kt := r.reg.Kind(x.Type()), r.reg.Kind(t)
	if kx == kt || !kx.IsNumeric() || !kt.IsNumeric() {
		return x
	}

	c := &ast.Convert{X: x, Span: x.GetSpan()}
	c.SetType(t)

	return c
}
