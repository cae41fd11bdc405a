package pentium

import (
	"github.com/paraflow-lang/paraflow/internal/codegen/regalloc"
	"github.com/paraflow-lang/paraflow/internal/isx"
	"github.com/paraflow-lang/paraflow/internal/types"
)

var intMnemonics = map[isx.Op]string{
	isx.Plus:       "add",
	isx.Minus:      "sub",
	isx.Mul:        "imul",
	isx.BitAnd:     "and",
	isx.BitOr:      "or",
	isx.BitXor:     "xor",
	isx.ShiftLeft:  "shl",
	isx.ShiftRight: "sar",
	isx.Negate:     "neg",
	isx.FlipBits:   "not",
}

var floatMnemonics = map[isx.Op]string{
	isx.Plus:  "add",
	isx.Minus: "sub",
	isx.Mul:   "mul",
	isx.Div:   "div",
}

// Condition code suffixes for signed integer and for floating point
// comparisons; ucomiss sets the flags like an unsigned compare.
var (
	intConds = map[isx.Op]string{
		isx.Eq: "e", isx.Ne: "ne", isx.Lt: "l", isx.Le: "le", isx.Gt: "g", isx.Ge: "ge",
		isx.Beq: "e", isx.Bne: "ne", isx.Blt: "l", isx.Ble: "le", isx.Bgt: "g", isx.Bge: "ge",
	}
	floatConds = map[isx.Op]string{
		isx.Eq: "e", isx.Ne: "ne", isx.Lt: "b", isx.Le: "be", isx.Gt: "a", isx.Ge: "ae",
		isx.Beq: "e", isx.Bne: "ne", isx.Blt: "b", isx.Ble: "be", isx.Bgt: "a", isx.Bge: "ae",
	}
)

// check rejects instructions that have no template on this target.
func (g *gen) check(in *isx.Insn) error {
	operands := []isx.Addr{in.Dest, in.Left, in.Right}
	operands = append(operands, in.Args...)
	operands = append(operands, in.Outs...)

	for _, v := range operands {
		if !v.Valid() || v.Kind == isx.Label {
			continue
		}

		switch k := g.kind(v.Type); {
		case k == types.Long:
			return g.unencodable(in, "64-bit long value %s does not fit a register", v)
		case k.IsFloat() && !g.opts.SSE2:
			return g.unencodable(in, "floating point value %s needs SSE2", v)
		}
	}

	operand := in.Left
	if in.Op == isx.Call || in.Op == isx.StoreField || !operand.Valid() {
		return nil
	}

	k := g.kind(operand.Type)

	switch {
	case in.Op.IsBinary() && !in.Op.IsCompare(), in.Op == isx.Negate, in.Op == isx.FlipBits:
		if k.IsReference() {
			return g.unencodable(in, "arithmetic on reference %s", operand)
		}

		if k.IsFloat() && floatMnemonics[in.Op] == "" && in.Op != isx.Negate {
			return g.unencodable(in, "no %s on floating point", in.Op)
		}
	case in.Op.IsCompare(), in.Op.IsCondBranch():
		if k.IsReference() && in.Op != isx.Eq && in.Op != isx.Ne && in.Op != isx.Beq &&
			in.Op != isx.Bne && in.Op != isx.Bz && in.Op != isx.Bnz {
			return g.unencodable(in, "ordering of references")
		}

		if k.IsFloat() && (in.Op == isx.Bz || in.Op == isx.Bnz) {
			return g.unencodable(in, "floating point truth test")
		}
	}

	if (in.Op == isx.Div || in.Op == isx.Mod) && !k.IsFloat() && (g.named("eax") < 0 || g.named("edx") < 0) {
		return g.unencodable(in, "integer division needs eax and edx in the register file")
	}

	return nil
}

func (g *gen) insn(in *isx.Insn) error {
	switch op := in.Op; {
	case op == isx.FuncStart:
	case op == isx.FuncEnd:
		g.funcEnd()
	case op == isx.LabelOp:
		g.placeLabel(in.Target)
	case op == isx.Jump:
		g.exitBlock()
		g.branchTo("jmp", in.Target)
		g.a.Reset(regalloc.State{})
		g.reachable = false
	case op == isx.Bz || op == isx.Bnz:
		r := g.inReg(in.Left, g.cands(in.Left))
		g.exitBlock()
		g.emit("test %s, %s", g.name(r, 4), g.name(r, 4))

		if op == isx.Bz {
			g.branchTo("jz", in.Target)
		} else {
			g.branchTo("jnz", in.Target)
		}
	case op.IsCondBranch():
		cond := g.compare(in)
		g.exitBlock()
		g.emitCompare(in, cond)
		g.branchTo("j"+cond.code, in.Target)
	case op.IsCompare():
		g.setCompare(in)
	case op == isx.Assign:
		g.assign(in)
	case op == isx.Convert:
		g.convert(in)
	case op == isx.Div || op == isx.Mod:
		if g.isFloat(in.Dest) {
			g.floatBinary(in)
		} else {
			g.divide(in)
		}
	case op == isx.ShiftLeft || op == isx.ShiftRight:
		g.shift(in)
	case op.IsBinary():
		if g.isFloat(in.Dest) {
			g.floatBinary(in)
		} else {
			g.intBinary(in)
		}
	case op == isx.Negate || op == isx.FlipBits:
		g.unary(in)
	case op == isx.LoadField:
		g.loadField(in)
	case op == isx.StoreField:
		g.storeField(in)
	case op == isx.Call:
		g.call(in)
	default:
		return g.unencodable(in, "no template")
	}

	return nil
}

func (g *gen) funcEnd() {
	live := make(map[isx.Key]bool)
	for _, o := range g.fn.Outputs {
		live[o.Key()] = true
	}

	for _, v := range g.sched.Values() {
		if v.Kind == isx.Global {
			live[v.Key()] = true
		}
	}

	g.a.WriteBack(live)
	g.epilogue()
}

// operand is a register or an immediate.
type operand struct {
	reg int
	imm string
}

func (g *gen) text(o operand, width int) string {
	if o.reg < 0 {
		return o.imm
	}

	return g.name(o.reg, width)
}

// source places v for use as the second operand of a two-address
// instruction: integers may stay immediate.
func (g *gen) source(v isx.Addr) operand {
	if v.IsConst() && !g.isFloat(v) {
		return operand{reg: -1, imm: imm(v)}
	}

	return operand{reg: g.inReg(v, g.cands(v))}
}

func (g *gen) intBinary(in *isx.Insn) {
	var left operand
	if in.Left.IsConst() {
		left = operand{reg: -1, imm: imm(in.Left)}
	} else {
		left = operand{reg: g.a.Ensure(in.Left, g.cands(in.Left))}
	}

	right := g.source(in.Right)
	rd := g.dest(in, left.reg, in.Left, g.cands(in.Dest))

	if rd != left.reg {
		g.emit("mov %s, %s", g.name(rd, 4), g.text(left, 4))
	}

	mn := intMnemonics[in.Op]
	if in.Op == isx.Mul && right.reg < 0 {
		g.emit("imul %s, %s, %s", g.name(rd, 4), g.name(rd, 4), right.imm)
	} else {
		g.emit("%s %s, %s", mn, g.name(rd, 4), g.text(right, 4))
	}

	g.narrow(rd, in.Dest)
	g.finish(in, rd)
}

func (g *gen) shift(in *isx.Insn) {
	ecx := g.named("ecx")

	var count operand
	if in.Right.IsConst() {
		count = operand{reg: -1, imm: imm(isx.Addr{Int: in.Right.Int & 31})}
	} else {
		count = operand{reg: g.inReg(in.Right, []int{ecx})}
	}

	left := operand{reg: g.inReg(in.Left, g.cands(in.Left))}
	cands := g.cands(in.Dest)
	if count.reg >= 0 {
		cands = g.without(cands, ecx)
	}

	rd := g.dest(in, left.reg, in.Left, cands)
	if rd != left.reg {
		g.emit("mov %s, %s", g.name(rd, 4), g.name(left.reg, 4))
	}

	g.emit("%s %s, %s", intMnemonics[in.Op], g.name(rd, 4), g.text(count, 1))
	g.narrow(rd, in.Dest)
	g.finish(in, rd)
}

// divide uses cdq/idiv: the dividend goes to eax, edx is clobbered and the
// divisor sits in any other register.
func (g *gen) divide(in *isx.Insn) {
	eax, edx := g.named("eax"), g.named("edx")
	rr := g.inReg(in.Right, g.without(g.gpr, eax, edx))

	switch r, ok := g.a.Resident(in.Left); {
	case in.Left.IsConst():
		g.a.Claim(eax)
		g.emit("mov eax, %s", imm(in.Left))
	case ok && r == eax:
		if in.Left.Key() != in.Dest.Key() && g.sched.LiveAfter(g.index, in.Left) {
			g.a.Flush(eax)
		}

		g.a.Forget(in.Left)
		g.a.Claim(eax)
	case ok:
		g.a.Claim(eax)
		g.emit("mov eax, %s", g.name(r, 4))
	default:
		g.a.Claim(eax)
		g.body = append(g.body, g.loadText(in.Left, eax))
	}

	g.a.Claim(edx)
	g.emit("cdq")
	g.emit("idiv %s", g.name(rr, 4))

	res := eax
	if in.Op == isx.Mod {
		res = edx
	}

	g.narrow(res, in.Dest)
	g.finish(in, res)
}

type condition struct {
	code  string
	left  int
	right operand
	float bool
}

// compare places the operands of a comparison or conditional branch.
func (g *gen) compare(in *isx.Insn) condition {
	if g.isFloat(in.Left) {
		l := g.inReg(in.Left, g.xmm)
		r := g.inReg(in.Right, g.xmm)

		return condition{code: floatConds[in.Op], left: l, right: operand{reg: r}, float: true}
	}

	l := g.inReg(in.Left, g.cands(in.Left))
	right := g.source(in.Right)

	return condition{code: intConds[in.Op], left: l, right: right}
}

func (g *gen) emitCompare(in *isx.Insn, c condition) {
	switch {
	case c.float && g.widthOf(in.Left) == 4:
		g.emit("ucomiss %s, %s", g.name(c.left, 4), g.name(c.right.reg, 4))
	case c.float:
		g.emit("ucomisd %s, %s", g.name(c.left, 8), g.name(c.right.reg, 8))
	default:
		g.emit("cmp %s, %s", g.name(c.left, 4), g.text(c.right, 4))
	}
}

func (g *gen) setCompare(in *isx.Insn) {
	c := g.compare(in)

	var rd int
	if c.float {
		rd = g.a.Select(g.byteRegs)
		g.a.Pin(rd)
	} else {
		rd = g.dest(in, c.left, in.Left, g.byteRegs)
	}

	g.emitCompare(in, c)
	g.emit("set%s %s", c.code, g.name(rd, 1))
	g.emit("movzx %s, %s", g.name(rd, 4), g.name(rd, 1))
	g.finish(in, rd)
}

func (g *gen) assign(in *isx.Insn) {
	src, dst := in.Left, in.Dest

	if src.IsConst() && dst.Kind != isx.Temp {
		g.a.Forget(dst)
		g.storeConst(dst, g.home(dst), src)

		return
	}

	if src.IsConst() {
		g.finish(in, g.inReg(src, g.cands(dst)))
		return
	}

	rs := g.a.Ensure(src, g.cands(dst))
	rd := g.dest(in, rs, src, g.cands(dst))

	if rd != rs {
		g.Move(rd, rs, src)
	}

	g.finish(in, rd)
}

// storeConst writes constant c of v's type straight to memory.
func (g *gen) storeConst(v isx.Addr, mem string, c isx.Addr) {
	w := g.widthOf(v)

	if !g.isFloat(v) {
		g.emit("mov %s %s, %s", sizeWord(w), mem, imm(c))
		return
	}

	if w == 4 {
		g.emit("mov dword %s, 0x%08x", mem, float32Bits(c.Float))
		return
	}

	bits := float64Bits(c.Float)
	g.emit("mov dword %s, 0x%08x", mem, uint32(bits))
	g.emit("mov dword %s, 0x%08x", offsetMem(mem, 4), uint32(bits>>32))
}

func (g *gen) convert(in *isx.Insn) {
	from, to := g.kind(in.Left.Type), g.kind(in.Dest.Type)

	switch {
	case !from.IsFloat() && !to.IsFloat():
		rs := g.inReg(in.Left, g.cands(in.Left))
		rd := g.dest(in, rs, in.Left, g.cands(in.Dest))

		if rd != rs {
			g.emit("mov %s, %s", g.name(rd, 4), g.name(rs, 4))
		}

		g.narrow(rd, in.Dest)
		g.finish(in, rd)
	case !from.IsFloat():
		rs := g.inReg(in.Left, g.cands(in.Left))
		xd := g.a.Select(g.xmm)
		g.a.Pin(xd)
		g.emit("%s %s, %s", pick(to == types.Float, "cvtsi2ss", "cvtsi2sd"), g.name(xd, 4), g.name(rs, 4))
		g.finish(in, xd)
	case !to.IsFloat():
		xs := g.inReg(in.Left, g.xmm)
		rd := g.a.Select(g.cands(in.Dest))
		g.a.Pin(rd)
		g.emit("%s %s, %s", pick(from == types.Float, "cvttss2si", "cvttsd2si"), g.name(rd, 4), g.name(xs, 4))
		g.narrow(rd, in.Dest)
		g.finish(in, rd)
	default:
		xs := g.inReg(in.Left, g.xmm)
		xd := g.dest(in, xs, in.Left, g.xmm)

		switch {
		case from == to && xd != xs:
			g.Move(xd, xs, in.Left)
		case from == types.Float && to == types.Double:
			g.emit("cvtss2sd %s, %s", g.name(xd, 8), g.name(xs, 4))
		case from == types.Double && to == types.Float:
			g.emit("cvtsd2ss %s, %s", g.name(xd, 4), g.name(xs, 8))
		}

		g.finish(in, xd)
	}
}

func (g *gen) floatBinary(in *isx.Insn) {
	xl := g.inReg(in.Left, g.xmm)
	xr := g.inReg(in.Right, g.xmm)
	xd := g.dest(in, xl, in.Left, g.xmm)

	if xd == xr && xd != xl {
		xd = g.a.Select(g.xmm)
		g.a.Pin(xd)
	}

	if xd != xl {
		g.Move(xd, xl, in.Left)
	}

	suffix := pick(g.widthOf(in.Dest) == 4, "ss", "sd")
	g.emit("%s%s %s, %s", floatMnemonics[in.Op], suffix, g.name(xd, 4), g.name(xr, 4))
	g.finish(in, xd)
}

func (g *gen) unary(in *isx.Insn) {
	if g.isFloat(in.Dest) {
		xs := g.inReg(in.Left, g.xmm)
		xd := g.a.Select(g.xmm)
		g.a.Pin(xd)

		suffix := pick(g.widthOf(in.Dest) == 4, "ss", "sd")
		g.emit("xorps %s, %s", g.name(xd, 4), g.name(xd, 4))
		g.emit("sub%s %s, %s", suffix, g.name(xd, 4), g.name(xs, 4))
		g.finish(in, xd)

		return
	}

	rs := g.inReg(in.Left, g.cands(in.Left))
	rd := g.dest(in, rs, in.Left, g.cands(in.Dest))

	if rd != rs {
		g.emit("mov %s, %s", g.name(rd, 4), g.name(rs, 4))
	}

	g.emit("%s %s", intMnemonics[in.Op], g.name(rd, 4))
	g.narrow(rd, in.Dest)
	g.finish(in, rd)
}

func fieldMem(base string, offset int) string {
	if offset == 0 {
		return "[" + base + "]"
	}

	return "[" + base + "+" + itoa(offset) + "]"
}

func (g *gen) loadField(in *isx.Insn) {
	ro := g.inReg(in.Left, g.gpr)
	mem := fieldMem(g.name(ro, 4), in.Offset)

	var rd int
	if g.isFloat(in.Dest) {
		rd = g.a.Select(g.xmm)
		g.a.Pin(rd)
	} else {
		rd = g.dest(in, ro, in.Left, g.cands(in.Dest))
	}

	g.body = append(g.body, "  "+g.loadFrom(in.Dest, rd, mem))
	g.finish(in, rd)
}

func (g *gen) storeField(in *isx.Insn) {
	ro := g.inReg(in.Left, g.gpr)
	mem := fieldMem(g.name(ro, 4), in.Offset)

	if in.Right.IsConst() {
		g.storeConst(in.Right, mem, in.Right)
	} else {
		rv := g.a.Ensure(in.Right, g.cands(in.Right))
		g.body = append(g.body, "  "+g.storeTo(in.Right, rv, mem))
	}

	g.a.Release(in.Left, in.Right)
}

// call follows the paraFlow convention: the caller reserves a block with the
// input slots followed by the output slots, zeroes the outputs, stores the
// inputs, calls, and reads the outputs back.
func (g *gen) call(in *isx.Insn) {
	var inOffs, outOffs []int

	size := 0
	for _, a := range in.Args {
		inOffs = append(inOffs, size)
		size += slotSize(g.widthOf(a))
	}

	inSize := size
	for _, o := range in.Outs {
		outOffs = append(outOffs, size)
		size += slotSize(g.widthOf(o))
	}

	if size > 0 {
		g.emit("sub esp, %d", size)
	}

	for off := inSize; off < size; off += 4 {
		g.emit("mov dword %s, 0", stackMem(off))
	}

	for j, a := range in.Args {
		mem := stackMem(inOffs[j])

		switch {
		case a.IsConst() && !g.isFloat(a):
			g.emit("mov dword %s, %s", mem, imm(a))
		case g.isFloat(a):
			x := g.inReg(a, g.xmm)
			g.body = append(g.body, "  "+g.storeTo(a, x, mem))
		default:
			r := g.a.Ensure(a, g.cands(a))
			g.emit("mov dword %s, %s", mem, g.name(r, 4))
		}

		g.a.Unpin()
	}

	g.a.PrepareCall()
	g.emit("call %s", in.Callee)

	for j, o := range in.Outs {
		if !g.sched.LiveAfter(g.index, o) {
			g.a.Forget(o)
			continue
		}

		r := g.a.Select(g.cands(o))
		g.body = append(g.body, "  "+g.loadFrom(o, r, stackMem(outOffs[j])))
		g.a.Define(o, r)
	}

	if size > 0 {
		g.emit("add esp, %d", size)
	}

	var args []isx.Addr
	for _, a := range in.Args {
		if !isOut(in, a) {
			args = append(args, a)
		}
	}

	g.a.Release(args...)
}

func isOut(in *isx.Insn, v isx.Addr) bool {
	for _, o := range in.Outs {
		if o.Key() == v.Key() {
			return true
		}
	}

	return false
}

func stackMem(off int) string {
	if off == 0 {
		return "[esp]"
	}

	return "[esp+" + itoa(off) + "]"
}

func pick(cond bool, yes, no string) string {
	if cond {
		return yes
	}

	return no
}
