package isx

import (
	"fmt"
	"sort"

	"go.uber.org/multierr"

	"github.com/paraflow-lang/paraflow/internal/ast"
	"github.com/paraflow-lang/paraflow/internal/builtins"
	"github.com/paraflow-lang/paraflow/internal/errors"
	"github.com/paraflow-lang/paraflow/internal/resolver"
	"github.com/paraflow-lang/paraflow/internal/types"
)

// GlobalPrefix starts the assembler name of every global variable.
const GlobalPrefix = "pfg_"

var binaryOps = map[ast.Op]Op{
	ast.OpAdd:    Plus,
	ast.OpSub:    Minus,
	ast.OpMul:    Mul,
	ast.OpDiv:    Div,
	ast.OpMod:    Mod,
	ast.OpBitAnd: BitAnd,
	ast.OpBitOr:  BitOr,
	ast.OpBitXor: BitXor,
	ast.OpShl:    ShiftLeft,
	ast.OpShr:    ShiftRight,
	ast.OpEq:     Eq,
	ast.OpNe:     Ne,
	ast.OpLt:     Lt,
	ast.OpLe:     Le,
	ast.OpGt:     Gt,
	ast.OpGe:     Ge,
}

var branchOps = map[ast.Op]Op{
	ast.OpEq: Beq,
	ast.OpNe: Bne,
	ast.OpLt: Blt,
	ast.OpLe: Ble,
	ast.OpGt: Bgt,
	ast.OpGe: Bge,
}

// Builder lowers a resolved program to ISX, one function at a time.
type Builder struct {
	prog    *resolver.Program
	reg     *types.Registry
	mod     *Module
	strings map[string]string
	externs map[string]bool
	globals map[*ast.Def]Addr
}

// Build lowers every function of prog. A function that fails to lower is
// left out of the module; the error aggregates every failure.
func Build(prog *resolver.Program) (*Module, error) {
	reg := prog.Universe.Registry
	b := &Builder{
		prog:    prog,
		reg:     reg,
		mod:     &Module{Registry: reg},
		strings: make(map[string]string),
		externs: make(map[string]bool),
		globals: make(map[*ast.Def]Addr),
	}

	for _, g := range prog.Globals {
		sym := GlobalPrefix + g.Name
		b.mod.Globals = append(b.mod.Globals, GlobalVar{Name: g.Name, Symbol: sym, Type: g.Type})
		b.globals[g] = Addr{Kind: Global, Type: g.Type, Name: sym}
	}

	var errs error

	for _, def := range prog.Funcs {
		fn, err := b.lowerFunc(def)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}

		b.mod.Funcs = append(b.mod.Funcs, fn)
	}

	for sym := range b.externs {
		b.mod.Externs = append(b.mod.Externs, sym)
	}

	sort.Strings(b.mod.Externs)

	return b.mod, errs
}

type loopLabels struct {
	brk, cont Addr
}

// lowering is the per-function state.
type lowering struct {
	*Builder
	b     *FuncBuilder
	def   *ast.Def
	vars  map[*ast.Def]Addr
	end   Addr
	loops []loopLabels
}

func (b *Builder) lowerFunc(def *ast.Def) (*Func, error) {
	l := &lowering{
		Builder: b,
		b:       NewFuncBuilder(def.Name, def.Symbol, b.reg),
		def:     def,
		vars:    make(map[*ast.Def]Addr),
	}

	for _, d := range def.Scope.Defs {
		if d.Owner != def {
			continue
		}

		switch d.Kind {
		case ast.DefInput:
			l.vars[d] = l.b.Input(d.Name, d.Type)
		case ast.DefOutput:
			l.vars[d] = l.b.Output(d.Name, d.Type)
		}
	}

	l.end = l.b.NewLabel()

	fd := def.Decl.(*ast.FuncDecl)
	if err := l.stmts(fd.Body.Stmts); err != nil {
		return nil, err
	}

	l.b.Place(l.end)

	return l.b.Close()
}

func (l *lowering) unsupported(n ast.Node, what string) error {
	return errors.UnsupportedConstruct(n.GetSpan().Start, l.def.Name, what)
}

func (l *lowering) emit(in Insn) { l.b.Emit(in) }

func (l *lowering) kind(t types.TypeID) types.Kind { return l.reg.Kind(t) }

func (l *lowering) stringSym(v string) string {
	if sym, ok := l.strings[v]; ok {
		return sym
	}

	sym := fmt.Sprintf("_str%d", len(l.mod.Strings))
	l.strings[v] = sym
	l.mod.Strings = append(l.mod.Strings, StringConst{Symbol: sym, Value: v})

	return sym
}

func (l *lowering) zero(t types.TypeID) Addr {
	return Addr{Kind: Const, Type: t}
}

func (l *lowering) intConst(v int64) Addr {
	return Addr{Kind: Const, Type: l.reg.Scalar(types.Int), Int: v}
}

// ===== statements =====

func (l *lowering) stmts(list []ast.Stmt) error {
	for _, s := range list {
		if err := l.stmt(s); err != nil {
			return err
		}
	}

	return nil
}

func (l *lowering) stmt(s ast.Stmt) error {
	switch s := s.(type) {
	case *ast.VarDecl:
		return l.varDecl(s)
	case *ast.Assign:
		if len(s.Targets) > 1 {
			return l.tupleAssign(s)
		}

		return l.assign(s.Targets[0], s.Value)
	case *ast.ExprStmt:
		if c, ok := s.X.(*ast.Call); ok {
			_, err := l.call(c, nil)
			return err
		}

		_, err := l.expr(s.X)

		return err
	case *ast.Block:
		return l.stmts(s.Stmts)
	case *ast.If:
		return l.ifStmt(s)
	case *ast.While:
		top, end := l.b.NewLabel(), l.b.NewLabel()
		l.b.Place(top)

		if err := l.branchFalse(s.Cond, end); err != nil {
			return err
		}

		if err := l.loopBody(s.Body, end, top); err != nil {
			return err
		}

		l.emit(Insn{Op: Jump, Target: top})
		l.b.Place(end)
	case *ast.For:
		return l.forStmt(s)
	case *ast.Break:
		if len(l.loops) == 0 {
			return errors.MisplacedStatement(s.Span.Start, "break")
		}

		l.emit(Insn{Op: Jump, Target: l.loops[len(l.loops)-1].brk})
	case *ast.Continue:
		if len(l.loops) == 0 {
			return errors.MisplacedStatement(s.Span.Start, "continue")
		}

		l.emit(Insn{Op: Jump, Target: l.loops[len(l.loops)-1].cont})
	case *ast.Return:
		l.emit(Insn{Op: Jump, Target: l.end})
	default:
		return l.unsupported(s, "statement "+s.String())
	}

	return nil
}

func (l *lowering) loopBody(body *ast.Block, brk, cont Addr) error {
	l.loops = append(l.loops, loopLabels{brk: brk, cont: cont})
	err := l.stmts(body.Stmts)
	l.loops = l.loops[:len(l.loops)-1]

	return err
}

func (l *lowering) ifStmt(s *ast.If) error {
	els := l.b.NewLabel()

	if err := l.branchFalse(s.Cond, els); err != nil {
		return err
	}

	if err := l.stmts(s.Then.Stmts); err != nil {
		return err
	}

	if s.Else == nil {
		l.b.Place(els)
		return nil
	}

	end := l.b.NewLabel()
	l.emit(Insn{Op: Jump, Target: end})
	l.b.Place(els)

	if err := l.stmt(s.Else); err != nil {
		return err
	}

	l.b.Place(end)

	return nil
}

func (l *lowering) forStmt(s *ast.For) error {
	if s.Init != nil {
		if err := l.stmt(s.Init); err != nil {
			return err
		}
	}

	top, step, end := l.b.NewLabel(), l.b.NewLabel(), l.b.NewLabel()
	l.b.Place(top)

	if s.Cond != nil {
		if err := l.branchFalse(s.Cond, end); err != nil {
			return err
		}
	}

	if err := l.loopBody(s.Body, end, step); err != nil {
		return err
	}

	l.b.Place(step)

	if s.Post != nil {
		if err := l.stmt(s.Post); err != nil {
			return err
		}
	}

	l.emit(Insn{Op: Jump, Target: top})
	l.b.Place(end)

	return nil
}

func (l *lowering) varDecl(s *ast.VarDecl) error {
	var dest Addr

	if s.Def.Kind == ast.DefGlobal {
		dest = l.globals[s.Def]
	} else {
		dest = l.b.Local(s.Name, s.Def.Type)
		l.vars[s.Def] = dest
	}

	if s.Init == nil {
		l.emit(Insn{Op: Assign, Dest: dest, Left: l.zero(s.Def.Type)})
		return nil
	}

	return l.into(s.Init, dest)
}

func (l *lowering) assign(target, value ast.Expr) error {
	switch t := target.(type) {
	case *ast.Ident:
		dest, err := l.ident(t)
		if err != nil {
			return err
		}

		return l.into(value, dest)
	case *ast.Member:
		obj, err := l.expr(t.X)
		if err != nil {
			return err
		}

		v, err := l.expr(value)
		if err != nil {
			return err
		}

		l.emit(Insn{Op: StoreField, Left: obj, Right: v, Offset: t.Offset})

		return nil
	}

	return l.unsupported(target, "assignment to "+target.String())
}

// tupleAssign routes each output of a multi-output call to its target.
// Outputs land directly in variables of the same kind; anything else goes
// through a temporary and is stored after the call.
func (l *lowering) tupleAssign(s *ast.Assign) error {
	c := s.Value.(*ast.Call)
	outs := l.reg.Get(c.Func.Type).Func().Outputs
	dests := make([]Addr, len(outs))

	var after []func() error

	for i, target := range s.Targets {
		outType := outs[i].Type

		switch t := target.(type) {
		case *ast.Ident:
			a, err := l.ident(t)
			if err != nil {
				return err
			}

			if l.kind(a.Type) == l.kind(outType) {
				dests[i] = a
				continue
			}

			tmp := l.b.Temp(outType)
			dests[i] = tmp
			after = append(after, func() error {
				l.emit(Insn{Op: Convert, Dest: a, Left: tmp})
				return nil
			})
		case *ast.Member:
			obj, err := l.expr(t.X)
			if err != nil {
				return err
			}

			tmp := l.b.Temp(outType)
			dests[i] = tmp
			fieldType, offset := t.Type(), t.Offset
			after = append(after, func() error {
				v := tmp
				if l.kind(fieldType) != l.kind(outType) {
					v = l.b.Temp(fieldType)
					l.emit(Insn{Op: Convert, Dest: v, Left: tmp})
				}

				l.emit(Insn{Op: StoreField, Left: obj, Right: v, Offset: offset})

				return nil
			})
		default:
			return l.unsupported(target, "assignment to "+target.String())
		}
	}

	if _, err := l.call(c, dests); err != nil {
		return err
	}

	for _, f := range after {
		if err := f(); err != nil {
			return err
		}
	}

	return nil
}

// ===== expressions =====

func (l *lowering) ident(e *ast.Ident) (Addr, error) {
	switch e.Def.Kind {
	case ast.DefGlobal:
		return l.globals[e.Def], nil
	case ast.DefVar, ast.DefInput, ast.DefOutput:
		if a, ok := l.vars[e.Def]; ok {
			return a, nil
		}
	}

	return Addr{}, l.unsupported(e, "reference to "+e.Def.Kind.String()+" "+e.Name)
}

// expr returns an operand holding the value of e.
func (l *lowering) expr(e ast.Expr) (Addr, error) {
	switch e := e.(type) {
	case *ast.Ident:
		return l.ident(e)
	case *ast.IntLit:
		return Addr{Kind: Const, Type: e.Type(), Int: e.Value}, nil
	case *ast.FloatLit:
		return Addr{Kind: Const, Type: e.Type(), Float: e.Value}, nil
	case *ast.StringLit:
		return Addr{Kind: Const, Type: e.Type(), Sym: l.stringSym(e.Value)}, nil
	case *ast.Member:
		if e.Method != nil {
			return Addr{}, l.unsupported(e, "method value "+e.String())
		}

		obj, err := l.expr(e.X)
		if err != nil {
			return Addr{}, err
		}

		dest := l.b.Temp(e.Type())
		l.emit(Insn{Op: LoadField, Dest: dest, Left: obj, Offset: e.Offset})

		return dest, nil
	case *ast.Call:
		outs, err := l.call(e, nil)
		if err != nil {
			return Addr{}, err
		}

		if len(outs) != 1 {
			return Addr{}, l.unsupported(e, fmt.Sprintf("value of a call with %d outputs", len(outs)))
		}

		return outs[0], nil
	case *ast.Convert:
		if c, ok := e.X.(*ast.IntLit); ok {
			return l.convertConst(Addr{Kind: Const, Type: c.Type(), Int: c.Value}, e.Type()), nil
		}

		if c, ok := e.X.(*ast.FloatLit); ok {
			return l.convertConst(Addr{Kind: Const, Type: c.Type(), Float: c.Value}, e.Type()), nil
		}

		dest := l.b.Temp(e.Type())

		return dest, l.into(e, dest)
	case *ast.Binary, *ast.Unary:
		dest := l.b.Temp(e.Type())
		return dest, l.into(e, dest)
	case *ast.Index:
		return Addr{}, l.unsupported(e, "index expression "+e.String())
	}

	return Addr{}, l.unsupported(e, "expression "+e.String())
}

// into evaluates e and stores the result in dest. Operands are read before
// dest is written, so dest may appear inside e.
func (l *lowering) into(e ast.Expr, dest Addr) error {
	switch e := e.(type) {
	case *ast.Binary:
		if e.Op.IsLogical() {
			return l.logicalInto(e, dest)
		}

		x, err := l.expr(e.X)
		if err != nil {
			return err
		}

		y, err := l.expr(e.Y)
		if err != nil {
			return err
		}

		if l.kind(e.X.Type()) == types.String {
			return l.stringOp(e.Op, x, y, dest)
		}

		l.emit(Insn{Op: binaryOps[e.Op], Dest: dest, Left: x, Right: y})
	case *ast.Unary:
		x, err := l.expr(e.X)
		if err != nil {
			return err
		}

		switch e.Op {
		case ast.OpNeg:
			l.emit(Insn{Op: Negate, Dest: dest, Left: x})
		case ast.OpCompl:
			l.emit(Insn{Op: FlipBits, Dest: dest, Left: x})
		default:
			l.emit(Insn{Op: Eq, Dest: dest, Left: x, Right: l.zero(e.X.Type())})
		}
	case *ast.Convert:
		x, err := l.expr(e.X)
		if err != nil {
			return err
		}

		if x.IsConst() && x.Sym == "" {
			l.emit(Insn{Op: Assign, Dest: dest, Left: l.convertConst(x, e.Type())})
			return nil
		}

		l.emit(Insn{Op: Convert, Dest: dest, Left: x})
	case *ast.Call:
		var dests []Addr
		if l.kind(dest.Type) == l.kind(e.Type()) {
			dests = []Addr{dest}
		}

		outs, err := l.call(e, dests)
		if err != nil {
			return err
		}

		if len(outs) != 1 {
			return l.unsupported(e, fmt.Sprintf("value of a call with %d outputs", len(outs)))
		}

		if outs[0] != dest {
			l.emit(Insn{Op: Convert, Dest: dest, Left: outs[0]})
		}
	default:
		v, err := l.expr(e)
		if err != nil {
			return err
		}

		l.emit(Insn{Op: Assign, Dest: dest, Left: v})
	}

	return nil
}

// convertConst retypes a numeric constant without emitting code.
func (l *lowering) convertConst(c Addr, t types.TypeID) Addr {
	out := Addr{Kind: Const, Type: t}
	from, to := l.kind(c.Type), l.kind(t)

	v := c.Int
	if from.IsFloat() {
		v = int64(c.Float)
	}

	switch to {
	case types.Float, types.Double:
		if from.IsFloat() {
			out.Float = c.Float
		} else {
			out.Float = float64(c.Int)
		}
	case types.Byte:
		out.Int = int64(int8(v))
	case types.Short:
		out.Int = int64(int16(v))
	case types.Int:
		out.Int = int64(int32(v))
	default:
		out.Int = v
	}

	return out
}

func (l *lowering) stringOp(op ast.Op, x, y, dest Addr) error {
	if op == ast.OpAdd {
		l.externs[builtins.HelperStringCat] = true
		l.emit(Insn{Op: Call, Callee: builtins.HelperStringCat, Args: []Addr{x, y}, Outs: []Addr{dest}})

		return nil
	}

	l.externs[builtins.HelperStringCmp] = true
	cmp := l.b.Temp(l.reg.Scalar(types.Int))
	l.emit(Insn{Op: Call, Callee: builtins.HelperStringCmp, Args: []Addr{x, y}, Outs: []Addr{cmp}})
	l.emit(Insn{Op: binaryOps[op], Dest: dest, Left: cmp, Right: l.intConst(0)})

	return nil
}

// logicalInto materializes a short-circuit operator as 0 or 1.
func (l *lowering) logicalInto(e *ast.Binary, dest Addr) error {
	t := dest
	if dest.Kind != Temp {
		t = l.b.Temp(e.Type())
	}

	no := l.b.NewLabel()
	l.emit(Insn{Op: Assign, Dest: t, Left: l.intConst(0)})

	if err := l.branchFalse(e, no); err != nil {
		return err
	}

	l.emit(Insn{Op: Assign, Dest: t, Left: l.intConst(1)})
	l.b.Place(no)

	if t != dest {
		l.emit(Insn{Op: Assign, Dest: dest, Left: t})
	}

	return nil
}

// call evaluates the receiver and arguments in order and emits the call.
// Outputs go to dests where given and to fresh temporaries otherwise; the
// result always has one operand per declared output.
func (l *lowering) call(c *ast.Call, dests []Addr) ([]Addr, error) {
	var args []Addr

	if c.Recv != nil {
		r, err := l.expr(c.Recv)
		if err != nil {
			return nil, err
		}

		args = append(args, r)
	}

	for _, a := range c.Args {
		v, err := l.expr(a)
		if err != nil {
			return nil, err
		}

		args = append(args, v)
	}

	sig := l.reg.Get(c.Func.Type).Func()
	outs := make([]Addr, len(sig.Outputs))

	for i, o := range sig.Outputs {
		if i < len(dests) && dests[i].Valid() {
			outs[i] = dests[i]
		} else {
			outs[i] = l.b.Temp(o.Type)
		}
	}

	if c.Func.Builtin {
		l.externs[c.Func.Symbol] = true
	}

	l.emit(Insn{Op: Call, Callee: c.Func.Symbol, Args: args, Outs: outs})

	return outs, nil
}

// ===== conditions =====

func (l *lowering) branchFalse(e ast.Expr, target Addr) error {
	return l.branch(e, target, false)
}

// branch jumps to target when e evaluates to want.
func (l *lowering) branch(e ast.Expr, target Addr, want bool) error {
	switch e := e.(type) {
	case *ast.Binary:
		switch {
		case e.Op == ast.OpAndAnd && !want || e.Op == ast.OpOrOr && want:
			if err := l.branch(e.X, target, want); err != nil {
				return err
			}

			return l.branch(e.Y, target, want)
		case e.Op == ast.OpAndAnd || e.Op == ast.OpOrOr:
			skip := l.b.NewLabel()

			if err := l.branch(e.X, skip, !want); err != nil {
				return err
			}

			if err := l.branch(e.Y, target, want); err != nil {
				return err
			}

			l.b.Place(skip)

			return nil
		case e.Op.IsComparison():
			x, err := l.expr(e.X)
			if err != nil {
				return err
			}

			y, err := l.expr(e.Y)
			if err != nil {
				return err
			}

			if l.kind(e.X.Type()) == types.String {
				l.externs[builtins.HelperStringCmp] = true
				cmp := l.b.Temp(l.reg.Scalar(types.Int))
				l.emit(Insn{Op: Call, Callee: builtins.HelperStringCmp, Args: []Addr{x, y}, Outs: []Addr{cmp}})
				x, y = cmp, l.intConst(0)
			}

			op := branchOps[e.Op]
			if !want {
				op = op.Inverse()
			}

			l.emit(Insn{Op: op, Left: x, Right: y, Target: target})

			return nil
		}
	case *ast.Unary:
		if e.Op == ast.OpNot {
			return l.branch(e.X, target, !want)
		}
	}

	v, err := l.expr(e)
	if err != nil {
		return err
	}

	op := Bnz
	if !want {
		op = Bz
	}

	l.emit(Insn{Op: op, Left: v, Target: target})

	return nil
}
