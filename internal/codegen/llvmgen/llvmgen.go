// Package llvmgen translates ISX into LLVM IR. Every ISX value lives in an
// alloca, labels become basic blocks and outputs are passed as pointers, so
// the translation needs no register allocation of its own.
package llvmgen

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	lltypes "github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"go.uber.org/multierr"

	"github.com/paraflow-lang/paraflow/internal/codegen/pentium"
	"github.com/paraflow-lang/paraflow/internal/errors"
	"github.com/paraflow-lang/paraflow/internal/isx"
	"github.com/paraflow-lang/paraflow/internal/types"
)

// Generator holds the module-wide state of one translation.
type Generator struct {
	mod *isx.Module
	reg *types.Registry
	m   *ir.Module

	funcs   map[string]*ir.Func
	globals map[string]*ir.Global
	strings map[string]constant.Constant
}

// Generate translates mod. A function that cannot be translated is kept as a
// declaration so that calls to it stay well formed; its error is returned
// together with the others.
func Generate(mod *isx.Module) (*ir.Module, error) {
	g := &Generator{
		mod:     mod,
		reg:     mod.Registry,
		m:       ir.NewModule(),
		funcs:   make(map[string]*ir.Func),
		globals: make(map[string]*ir.Global),
		strings: make(map[string]constant.Constant),
	}

	for _, s := range mod.Strings {
		data := constant.NewCharArrayFromString(s.Value + "\x00")
		def := g.m.NewGlobalDef(s.Symbol, data)
		def.Immutable = true
		g.strings[s.Symbol] = constant.NewBitCast(def, lltypes.I8Ptr)
	}

	for _, gl := range mod.Globals {
		typ := g.typeOf(gl.Type)
		g.globals[gl.Symbol] = g.m.NewGlobalDef(gl.Symbol, constant.NewZeroInitializer(typ))
	}

	for _, fn := range mod.Funcs {
		var params []*ir.Param
		for _, in := range fn.Inputs {
			params = append(params, ir.NewParam(in.Name, g.typeOf(in.Type)))
		}

		for _, out := range fn.Outputs {
			params = append(params, ir.NewParam(out.Name, lltypes.NewPointer(g.typeOf(out.Type))))
		}

		g.funcs[fn.Symbol] = g.m.NewFunc(fn.Symbol, lltypes.Void, params...)
	}

	var errs error

	for _, fn := range mod.Funcs {
		f := g.funcs[fn.Symbol]
		if err := g.function(fn, f); err != nil {
			f.Blocks = nil
			errs = multierr.Append(errs, err)

			continue
		}

		f.FuncAttrs = []ir.FuncAttribute{enum.FuncAttrNoUnwind}
	}

	return g.m, errs
}

// typeOf maps a paraFlow type to its LLVM representation. Every reference
// kind is an opaque byte pointer.
func (g *Generator) typeOf(t types.TypeID) lltypes.Type {
	switch g.reg.Kind(t) {
	case types.Byte:
		return lltypes.I8
	case types.Short:
		return lltypes.I16
	case types.Int:
		return lltypes.I32
	case types.Long:
		return lltypes.I64
	case types.Float:
		return lltypes.Float
	case types.Double:
		return lltypes.Double
	}

	return lltypes.I8Ptr
}

// ReferenceSize is the width of a pointer under the 64-bit data layout the
// generated IR assumes.
const ReferenceSize = 8

// TypeSize is pentium.TypeSize with references widened to ReferenceSize.
// Class layouts must be computed with it for field offsets to agree with
// the IR.
func TypeSize(k types.Kind) int {
	if k.IsReference() {
		return ReferenceSize
	}

	return pentium.TypeSize(k)
}

// extern declares a runtime function on first use. Its parameters follow the
// arguments and outputs of the call site.
func (g *Generator) extern(in *isx.Insn) *ir.Func {
	if f, ok := g.funcs[in.Callee]; ok {
		return f
	}

	var params []*ir.Param
	for _, a := range in.Args {
		params = append(params, ir.NewParam("", g.typeOf(a.Type)))
	}

	for _, o := range in.Outs {
		params = append(params, ir.NewParam("", lltypes.NewPointer(g.typeOf(o.Type))))
	}

	f := g.m.NewFunc(in.Callee, lltypes.Void, params...)
	g.funcs[in.Callee] = f

	return f
}

// function is the per-function translation state.
type function struct {
	*Generator
	fn *isx.Func
	f  *ir.Func

	entry  *ir.Block
	cur    *ir.Block
	slots  map[isx.Key]value.Value
	blocks map[string]*ir.Block
	index  int
}

func (g *Generator) function(fn *isx.Func, f *ir.Func) error {
	t := &function{
		Generator: g,
		fn:        fn,
		f:         f,
		slots:     make(map[isx.Key]value.Value),
		blocks:    make(map[string]*ir.Block),
	}

	t.entry = f.NewBlock("entry")
	t.cur = t.entry

	for i, in := range fn.Inputs {
		slot := t.entry.NewAlloca(g.typeOf(in.Type))
		slot.SetName(in.Name + ".addr")
		t.entry.NewStore(f.Params[i], slot)
		t.slots[in.Key()] = slot
	}

	for i, out := range fn.Outputs {
		t.slots[out.Key()] = f.Params[len(fn.Inputs)+i]
	}

	for i := range fn.Insns {
		t.index = i
		if err := t.insn(&fn.Insns[i]); err != nil {
			return err
		}
	}

	return nil
}

func (t *function) unencodable(in *isx.Insn, format string, args ...interface{}) error {
	return errors.UnencodableOperation(t.fn.Name, t.index, in.Op.String(), fmt.Sprintf(format, args...))
}

func (t *function) kind(a isx.Addr) types.Kind { return t.reg.Kind(a.Type) }

// addr returns the storage of a, creating the alloca of a local or
// temporary on first use.
func (t *function) addr(a isx.Addr) value.Value {
	if a.Kind == isx.Global {
		return t.globals[a.Name]
	}

	if s, ok := t.slots[a.Key()]; ok {
		return s
	}

	slot := t.entry.NewAlloca(t.typeOf(a.Type))
	if a.Kind == isx.Temp {
		slot.SetName(fmt.Sprintf("tmp.%d", a.ID))
	} else {
		slot.SetName(a.String())
	}

	t.slots[a.Key()] = slot

	return slot
}

// value reads a.
func (t *function) value(a isx.Addr) value.Value {
	if !a.IsConst() {
		return t.cur.NewLoad(t.typeOf(a.Type), t.addr(a))
	}

	return t.constant(a)
}

func (t *function) constant(a isx.Addr) constant.Constant {
	switch typ := t.typeOf(a.Type).(type) {
	case *lltypes.IntType:
		return constant.NewInt(typ, a.Int)
	case *lltypes.FloatType:
		return constant.NewFloat(typ, a.Float)
	}

	if a.Sym != "" {
		return t.strings[a.Sym]
	}

	return constant.NewNull(lltypes.I8Ptr)
}

// block returns the basic block of label name. Blocks join the function
// when they are placed.
func (t *function) block(name string) *ir.Block {
	if b, ok := t.blocks[name]; ok {
		return b
	}

	b := ir.NewBlock("lbl." + name)
	t.blocks[name] = b

	return b
}

func (t *function) start(b *ir.Block) {
	b.Parent = t.f
	t.f.Blocks = append(t.f.Blocks, b)
	t.cur = b
}

func (t *function) insn(in *isx.Insn) error {
	switch op := in.Op; {
	case op == isx.FuncStart:
	case op == isx.FuncEnd:
		if t.cur.Term == nil {
			t.cur.NewRet(nil)
		}
	case op == isx.LabelOp:
		b := t.block(in.Target.Name)
		if t.cur.Term == nil {
			t.cur.NewBr(b)
		}

		t.start(b)
	case op == isx.Jump:
		t.cur.NewBr(t.block(in.Target.Name))
		t.start(ir.NewBlock(""))
	case op.IsCondBranch():
		cond, err := t.condition(in)
		if err != nil {
			return err
		}

		next := ir.NewBlock("")
		t.cur.NewCondBr(cond, t.block(in.Target.Name), next)
		t.start(next)
	case op.IsCompare():
		cond, err := t.condition(in)
		if err != nil {
			return err
		}

		t.store(in.Dest, t.cur.NewZExt(cond, t.typeOf(in.Dest.Type)))
	case op == isx.Assign:
		t.store(in.Dest, t.value(in.Left))
	case op == isx.Convert:
		t.store(in.Dest, t.convert(t.value(in.Left), t.kind(in.Left), t.kind(in.Dest), t.typeOf(in.Dest.Type)))
	case op.IsBinary():
		v, err := t.binary(in)
		if err != nil {
			return err
		}

		t.store(in.Dest, v)
	case op == isx.Negate:
		x := t.value(in.Left)
		if t.kind(in.Left).IsFloat() {
			t.store(in.Dest, t.cur.NewFNeg(x))
		} else {
			t.store(in.Dest, t.cur.NewSub(constant.NewInt(t.typeOf(in.Left.Type).(*lltypes.IntType), 0), x))
		}
	case op == isx.FlipBits:
		if !t.kind(in.Left).IsInteger() {
			return t.unencodable(in, "complement of %s", t.kind(in.Left))
		}

		x := t.value(in.Left)
		t.store(in.Dest, t.cur.NewXor(x, constant.NewInt(t.typeOf(in.Left.Type).(*lltypes.IntType), -1)))
	case op == isx.LoadField:
		ptr := t.field(in.Left, in.Offset, in.Dest.Type)
		t.store(in.Dest, t.cur.NewLoad(t.typeOf(in.Dest.Type), ptr))
	case op == isx.StoreField:
		ptr := t.field(in.Left, in.Offset, in.Right.Type)
		t.cur.NewStore(t.value(in.Right), ptr)
	case op == isx.Call:
		t.call(in)
	default:
		return t.unencodable(in, "no translation")
	}

	return nil
}

func (t *function) store(dest isx.Addr, v value.Value) {
	t.cur.NewStore(v, t.addr(dest))
}

// field computes a typed pointer to the field at offset bytes into obj.
func (t *function) field(obj isx.Addr, offset int, ft types.TypeID) value.Value {
	base := t.value(obj)
	ptr := t.cur.NewGetElementPtr(lltypes.I8, base, constant.NewInt(lltypes.I32, int64(offset)))

	return t.cur.NewBitCast(ptr, lltypes.NewPointer(t.typeOf(ft)))
}

var (
	intOps = map[isx.Op]func(b *ir.Block, x, y value.Value) value.Value{
		isx.Plus:       func(b *ir.Block, x, y value.Value) value.Value { return b.NewAdd(x, y) },
		isx.Minus:      func(b *ir.Block, x, y value.Value) value.Value { return b.NewSub(x, y) },
		isx.Mul:        func(b *ir.Block, x, y value.Value) value.Value { return b.NewMul(x, y) },
		isx.Div:        func(b *ir.Block, x, y value.Value) value.Value { return b.NewSDiv(x, y) },
		isx.Mod:        func(b *ir.Block, x, y value.Value) value.Value { return b.NewSRem(x, y) },
		isx.BitAnd:     func(b *ir.Block, x, y value.Value) value.Value { return b.NewAnd(x, y) },
		isx.BitOr:      func(b *ir.Block, x, y value.Value) value.Value { return b.NewOr(x, y) },
		isx.BitXor:     func(b *ir.Block, x, y value.Value) value.Value { return b.NewXor(x, y) },
		isx.ShiftLeft:  func(b *ir.Block, x, y value.Value) value.Value { return b.NewShl(x, y) },
		isx.ShiftRight: func(b *ir.Block, x, y value.Value) value.Value { return b.NewAShr(x, y) },
	}
	floatOps = map[isx.Op]func(b *ir.Block, x, y value.Value) value.Value{
		isx.Plus:  func(b *ir.Block, x, y value.Value) value.Value { return b.NewFAdd(x, y) },
		isx.Minus: func(b *ir.Block, x, y value.Value) value.Value { return b.NewFSub(x, y) },
		isx.Mul:   func(b *ir.Block, x, y value.Value) value.Value { return b.NewFMul(x, y) },
		isx.Div:   func(b *ir.Block, x, y value.Value) value.Value { return b.NewFDiv(x, y) },
		isx.Mod:   func(b *ir.Block, x, y value.Value) value.Value { return b.NewFRem(x, y) },
	}
)

func (t *function) binary(in *isx.Insn) (value.Value, error) {
	k := t.kind(in.Left)

	var gen func(b *ir.Block, x, y value.Value) value.Value

	switch {
	case k.IsInteger():
		gen = intOps[in.Op]
	case k.IsFloat():
		gen = floatOps[in.Op]
	default:
		return nil, t.unencodable(in, "arithmetic on %s", k)
	}

	if gen == nil {
		return nil, t.unencodable(in, "no %s on %s", in.Op, k)
	}

	return gen(t.cur, t.value(in.Left), t.value(in.Right)), nil
}

var (
	intPreds = map[isx.Op]enum.IPred{
		isx.Eq: enum.IPredEQ, isx.Ne: enum.IPredNE, isx.Lt: enum.IPredSLT,
		isx.Le: enum.IPredSLE, isx.Gt: enum.IPredSGT, isx.Ge: enum.IPredSGE,
		isx.Beq: enum.IPredEQ, isx.Bne: enum.IPredNE, isx.Blt: enum.IPredSLT,
		isx.Ble: enum.IPredSLE, isx.Bgt: enum.IPredSGT, isx.Bge: enum.IPredSGE,
		isx.Bz: enum.IPredEQ, isx.Bnz: enum.IPredNE,
	}
	floatPreds = map[isx.Op]enum.FPred{
		isx.Eq: enum.FPredOEQ, isx.Ne: enum.FPredONE, isx.Lt: enum.FPredOLT,
		isx.Le: enum.FPredOLE, isx.Gt: enum.FPredOGT, isx.Ge: enum.FPredOGE,
		isx.Beq: enum.FPredOEQ, isx.Bne: enum.FPredONE, isx.Blt: enum.FPredOLT,
		isx.Ble: enum.FPredOLE, isx.Bgt: enum.FPredOGT, isx.Bge: enum.FPredOGE,
	}
)

// condition evaluates a comparison or branch condition to an i1. Bz and Bnz
// compare their operand against zero.
func (t *function) condition(in *isx.Insn) (value.Value, error) {
	x := t.value(in.Left)

	var y value.Value
	if in.Op == isx.Bz || in.Op == isx.Bnz {
		y = t.constant(isx.Addr{Kind: isx.Const, Type: in.Left.Type})
	} else {
		y = t.value(in.Right)
	}

	k := t.kind(in.Left)

	switch {
	case k.IsFloat():
		pred, ok := floatPreds[in.Op]
		if !ok {
			return nil, t.unencodable(in, "floating point truth test")
		}

		return t.cur.NewFCmp(pred, x, y), nil
	case k.IsReference() && in.Op != isx.Eq && in.Op != isx.Ne && in.Op != isx.Beq &&
		in.Op != isx.Bne && in.Op != isx.Bz && in.Op != isx.Bnz:
		return nil, t.unencodable(in, "ordering of references")
	}

	return t.cur.NewICmp(intPreds[in.Op], x, y), nil
}

func (t *function) convert(x value.Value, from, to types.Kind, typ lltypes.Type) value.Value {
	switch {
	case from == to, from.IsReference() && to.IsReference():
		return x
	case from.IsInteger() && to.IsInteger():
		if widths[to] > widths[from] {
			return t.cur.NewSExt(x, typ)
		}

		return t.cur.NewTrunc(x, typ)
	case from.IsInteger():
		return t.cur.NewSIToFP(x, typ)
	case to.IsInteger():
		return t.cur.NewFPToSI(x, typ)
	case from == types.Float:
		return t.cur.NewFPExt(x, typ)
	}

	return t.cur.NewFPTrunc(x, typ)
}

var widths = map[types.Kind]int{types.Byte: 8, types.Short: 16, types.Int: 32, types.Long: 64}

// call zeroes the outputs, then passes the inputs by value and the outputs
// by address.
func (t *function) call(in *isx.Insn) {
	callee := t.extern(in)

	var args []value.Value
	for _, a := range in.Args {
		args = append(args, t.value(a))
	}

	for _, o := range in.Outs {
		ptr := t.addr(o)
		t.cur.NewStore(t.constant(isx.Addr{Kind: isx.Const, Type: o.Type}), ptr)
		args = append(args, ptr)
	}

	t.cur.NewCall(callee, args...)
}
