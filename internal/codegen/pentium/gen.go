package pentium

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paraflow-lang/paraflow/internal/codegen/regalloc"
	"github.com/paraflow-lang/paraflow/internal/errors"
	"github.com/paraflow-lang/paraflow/internal/isx"
	"github.com/paraflow-lang/paraflow/internal/types"
)

// Function is the generated code of one ISX function.
type Function struct {
	Name   string
	Symbol string
	// Lines is the complete text: label, prologue, body and reload stubs.
	Lines []string
	// Data holds the constants the function loads from memory.
	Data []string
	// Frame is the number of bytes of locals and spill slots.
	Frame int
}

// Text joins the lines of the function.
func (f *Function) Text() string {
	return strings.Join(f.Lines, "\n") + "\n"
}

type stub struct {
	label  string
	target string
	loads  []regalloc.Binding
}

type gen struct {
	fn   *isx.Func
	reg  *types.Registry
	opts Options

	regs     []regalloc.Register
	gpr      []int
	byteRegs []int
	xmm      []int

	sched *regalloc.Schedule
	a     *regalloc.Allocator

	inputs  []int
	outputs []int
	locals  map[int]int
	inSize  int

	body      []string
	data      []string
	constants map[string]string

	pending   map[string][]regalloc.State
	entry     map[string]regalloc.State
	stubs     []stub
	reachable bool
	index     int
}

// Generate compiles fn for the register file described by opts. A function
// that needs an operation without a template fails as a whole.
func Generate(fn *isx.Func, opts Options) (*Function, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	g := &gen{
		fn:        fn,
		reg:       fn.Registry,
		opts:      opts,
		regs:      opts.RegisterFile(),
		locals:    make(map[int]int),
		constants: make(map[string]string),
		pending:   make(map[string][]regalloc.State),
		entry:     make(map[string]regalloc.State),
		reachable: true,
	}

	for i, r := range g.regs {
		switch {
		case r.Class == regalloc.ClassXMM:
			g.xmm = append(g.xmm, i)
		case r.Byte:
			g.gpr = append(g.gpr, i)
			g.byteRegs = append(g.byteRegs, i)
		default:
			g.gpr = append(g.gpr, i)
		}
	}

	frame := g.layout()
	g.sched = regalloc.Analyze(fn)
	g.a = regalloc.New(g.sched, g.regs, g, frame, g.widthOf)
	g.a.Advance(regalloc.Emitting)

	for i := range fn.Insns {
		in := &fn.Insns[i]
		g.index = i
		g.a.At(i)

		if err := g.check(in); err != nil {
			return nil, err
		}

		if err := g.insn(in); err != nil {
			return nil, err
		}

		g.a.Unpin()

		next := i + 1
		if next < len(fn.Insns) && g.sched.BlockOf(next) != g.sched.BlockOf(i) && !in.Op.IsBranch() {
			g.a.WriteBack(g.sched.BlockOf(i).LiveOut)
		}
	}

	g.a.Advance(regalloc.Reconciling)

	var stubs []string
	for _, s := range g.stubs {
		stubs = append(stubs, s.label+":")
		for _, b := range s.loads {
			stubs = append(stubs, g.loadText(b.Value, b.Reg))
		}
		stubs = append(stubs, "  jmp "+s.target)
	}

	g.a.Advance(regalloc.Done)

	out := &Function{
		Name:   fn.Name,
		Symbol: fn.Symbol,
		Data:   g.data,
		Frame:  g.a.FrameSize(),
	}

	out.Lines = append(out.Lines, fn.Symbol+":")
	out.Lines = append(out.Lines, g.prologue()...)
	out.Lines = append(out.Lines, g.body...)
	out.Lines = append(out.Lines, stubs...)

	return out, nil
}

// layout assigns the frame offsets of parameters and locals and returns the
// bytes of locals below ebp.
func (g *gen) layout() int {
	off := 0
	for _, in := range g.fn.Inputs {
		g.inputs = append(g.inputs, 8+off)
		off += slotSize(g.widthOf(in))
	}

	g.inSize = off

	for _, o := range g.fn.Outputs {
		g.outputs = append(g.outputs, 8+off)
		off += slotSize(g.widthOf(o))
	}

	below := 0
	for _, l := range g.fn.Locals {
		below += slotSize(g.widthOf(l))
		g.locals[l.ID] = -below
	}

	return below
}

func slotSize(w int) int {
	if w < 4 {
		return 4
	}

	return w
}

func (g *gen) kind(t types.TypeID) types.Kind { return g.reg.Kind(t) }

func (g *gen) widthOf(v isx.Addr) int { return TypeSize(g.kind(v.Type)) }

func (g *gen) isFloat(v isx.Addr) bool { return g.kind(v.Type).IsFloat() }

func (g *gen) cands(v isx.Addr) []int {
	switch k := g.kind(v.Type); {
	case k.IsFloat():
		return g.xmm
	case k == types.Byte:
		return g.byteRegs
	}

	return g.gpr
}

func (g *gen) named(name string) int {
	for i, r := range g.regs {
		if r.Name == name {
			return i
		}
	}

	return -1
}

func (g *gen) without(regs []int, drop ...int) []int {
	var out []int

	for _, r := range regs {
		keep := true
		for _, d := range drop {
			if r == d {
				keep = false
			}
		}

		if keep {
			out = append(out, r)
		}
	}

	return out
}

// name renders register r at the given operand width.
func (g *gen) name(r, width int) string {
	if g.regs[r].Class == regalloc.ClassXMM {
		return g.regs[r].Name
	}

	n := gprNames[r]

	switch width {
	case 1:
		return n.r8
	case 2:
		return n.r16
	}

	return n.r32
}

func sizeWord(width int) string {
	switch width {
	case 1:
		return "byte"
	case 2:
		return "word"
	case 8:
		return "qword"
	}

	return "dword"
}

// home is the memory address of v.
func (g *gen) home(v isx.Addr) string {
	switch v.Kind {
	case isx.Input:
		return fmt.Sprintf("[ebp+%d]", g.inputs[v.ID])
	case isx.Output:
		return fmt.Sprintf("[ebp+%d]", g.outputs[v.ID])
	case isx.Var:
		return fmt.Sprintf("[ebp%d]", g.locals[v.ID])
	case isx.Global:
		return "[" + v.Name + "]"
	case isx.Temp:
		return fmt.Sprintf("[ebp%d]", g.a.Slot(v))
	}

	panic(fmt.Sprintf("pentium: %s has no memory home", v))
}

func (g *gen) emit(format string, args ...interface{}) {
	g.body = append(g.body, "  "+fmt.Sprintf(format, args...))
}

func (g *gen) label(name string) {
	g.body = append(g.body, name+":")
}

func localLabel(name string) string { return "." + name }

// loadText renders a load of v from memory into r.
func (g *gen) loadText(v isx.Addr, r int) string {
	return "  " + g.loadFrom(v, r, g.home(v))
}

func (g *gen) loadFrom(v isx.Addr, r int, mem string) string {
	w := g.widthOf(v)

	switch {
	case g.regs[r].Class == regalloc.ClassXMM && w == 4:
		return fmt.Sprintf("movss %s, dword %s", g.name(r, 4), mem)
	case g.regs[r].Class == regalloc.ClassXMM:
		return fmt.Sprintf("movsd %s, qword %s", g.name(r, 8), mem)
	case w < 4:
		return fmt.Sprintf("movsx %s, %s %s", g.name(r, 4), sizeWord(w), mem)
	}

	return fmt.Sprintf("mov %s, dword %s", g.name(r, 4), mem)
}

func (g *gen) storeTo(v isx.Addr, r int, mem string) string {
	w := g.widthOf(v)

	switch {
	case g.regs[r].Class == regalloc.ClassXMM && w == 4:
		return fmt.Sprintf("movss dword %s, %s", mem, g.name(r, 4))
	case g.regs[r].Class == regalloc.ClassXMM:
		return fmt.Sprintf("movsd qword %s, %s", mem, g.name(r, 8))
	}

	return fmt.Sprintf("mov %s %s, %s", sizeWord(w), mem, g.name(r, w))
}

// Store implements regalloc.Mover.
func (g *gen) Store(v isx.Addr, r int) {
	g.body = append(g.body, "  "+g.storeTo(v, r, g.home(v)))
}

// Load implements regalloc.Mover.
func (g *gen) Load(v isx.Addr, r int) {
	g.body = append(g.body, g.loadText(v, r))
}

// Move implements regalloc.Mover.
func (g *gen) Move(dst, src int, v isx.Addr) {
	if g.regs[dst].Class == regalloc.ClassXMM {
		g.emit("movaps %s, %s", g.name(dst, 4), g.name(src, 4))
		return
	}

	g.emit("mov %s, %s", g.name(dst, 4), g.name(src, 4))
}

// imm renders an integer or address constant.
func imm(v isx.Addr) string {
	if v.Sym != "" {
		return v.Sym
	}

	return fmt.Sprintf("%d", v.Int)
}

func itoa(n int) string { return strconv.Itoa(n) }

func float32Bits(f float64) uint32 { return math.Float32bits(float32(f)) }

func float64Bits(f float64) uint64 { return math.Float64bits(f) }

// offsetMem adds off bytes to a bracketed address.
func offsetMem(mem string, off int) string {
	return mem[:len(mem)-1] + "+" + itoa(off) + "]"
}

// floatConst returns the data label holding constant v.
func (g *gen) floatConst(v isx.Addr) string {
	var def string
	if g.widthOf(v) == 4 {
		def = fmt.Sprintf("dd 0x%08x", float32Bits(v.Float))
	} else {
		def = fmt.Sprintf("dq 0x%016x", float64Bits(v.Float))
	}

	if l, ok := g.constants[def]; ok {
		return l
	}

	l := fmt.Sprintf("%s_c%d", g.fn.Symbol, len(g.constants))
	g.constants[def] = l
	g.data = append(g.data, l+": "+def)

	return l
}

// inReg makes v available in a register from cands. Constants go to a
// scratch register.
func (g *gen) inReg(v isx.Addr, cands []int) int {
	if !v.IsConst() {
		return g.a.Ensure(v, cands)
	}

	r := g.a.Scratch(cands)

	if g.regs[r].Class == regalloc.ClassXMM {
		g.body = append(g.body, "  "+g.loadFrom(v, r, "["+g.floatConst(v)+"]"))
	} else {
		g.emit("mov %s, %s", g.name(r, 4), imm(v))
	}

	return r
}

// dest picks the register for the result of the current instruction. The
// register of src is reused when src dies here or is the destination itself.
// When no other candidate is free, src is saved to memory and its register
// taken over.
func (g *gen) dest(in *isx.Insn, src int, v isx.Addr, cands []int) int {
	if src >= 0 && !v.IsConst() && containsReg(cands, src) {
		if occ, ok := g.a.Occupant(src); ok && occ.Key() == v.Key() {
			switch {
			case v.Key() == in.Dest.Key(), !g.sched.LiveAfter(g.index, v):
				return src
			case !g.free(cands):
				g.a.Flush(src)
				g.a.Forget(v)

				return src
			}
		}
	}

	r := g.a.Select(cands)
	g.a.Pin(r)

	return r
}

// free reports whether some register of cands is not pinned.
func (g *gen) free(cands []int) bool {
	for _, r := range cands {
		if !g.a.Pinned(r) {
			return true
		}
	}

	return false
}

func containsReg(regs []int, r int) bool {
	for _, x := range regs {
		if x == r {
			return true
		}
	}

	return false
}

// finish binds the destination and drops operands that die here.
func (g *gen) finish(in *isx.Insn, r int) {
	g.a.Define(in.Dest, r)

	var dead []isx.Addr
	for _, u := range in.Uses() {
		if u.Key() != in.Dest.Key() {
			dead = append(dead, u)
		}
	}

	g.a.Release(dead...)
}

// narrow sign-extends the low part of r for byte and short results.
func (g *gen) narrow(r int, v isx.Addr) {
	if w := g.widthOf(v); w < 4 && g.regs[r].Class == regalloc.ClassGPR {
		g.emit("movsx %s, %s", g.name(r, 4), g.name(r, w))
	}
}

// exitBlock writes back the values live out of the current block and
// returns the resulting state.
func (g *gen) exitBlock() regalloc.State {
	g.a.WriteBack(g.sched.BlockOf(g.index).LiveOut)
	return g.a.Snapshot()
}

// branchTo emits a jump to label target, reconciling with the label's entry
// state when the label was already placed.
func (g *gen) branchTo(mnemonic string, target isx.Addr) {
	state := g.a.Snapshot()
	name := target.Name

	entry, placed := g.entry[name]
	if !placed {
		g.pending[name] = append(g.pending[name], state)
		g.emit("%s %s", mnemonic, localLabel(name))

		return
	}

	loads := g.a.Missing(entry)
	if len(loads) == 0 {
		g.emit("%s %s", mnemonic, localLabel(name))
		return
	}

	if mnemonic == "jmp" {
		for _, b := range loads {
			g.body = append(g.body, g.loadText(b.Value, b.Reg))
		}

		g.emit("jmp %s", localLabel(name))

		return
	}

	s := stub{
		label:  fmt.Sprintf(".R%d", len(g.stubs)),
		target: localLabel(name),
		loads:  loads,
	}
	g.stubs = append(g.stubs, s)
	g.emit("%s %s", mnemonic, s.label)
}

// placeLabel starts the block opened by a label. Its entry state is the
// intersection of the known predecessor states restricted to live values.
func (g *gen) placeLabel(target isx.Addr) {
	name := target.Name
	preds := g.pending[name]

	if g.reachable {
		preds = append(preds, g.a.Snapshot())
	}

	entry := regalloc.Meet(preds, g.sched.BlockOf(g.index).LiveIn)
	g.a.Reset(entry)
	g.entry[name] = entry
	g.reachable = true

	g.label(localLabel(name))
}

func (g *gen) prologue() []string {
	lines := []string{"  push ebp", "  mov ebp, esp"}

	if n := g.a.FrameSize(); n > 0 {
		lines = append(lines, fmt.Sprintf("  sub esp, %d", n))
	}

	for _, r := range g.saved() {
		lines = append(lines, "  push "+g.regs[r].Name)
	}

	return lines
}

func (g *gen) epilogue() {
	saved := g.saved()
	for i := len(saved) - 1; i >= 0; i-- {
		g.emit("pop %s", g.regs[saved[i]].Name)
	}

	g.emit("mov esp, ebp")
	g.emit("pop ebp")
	g.emit("ret")
}

// saved lists the callee-saved registers the function writes.
func (g *gen) saved() []int {
	var out []int

	for _, r := range g.a.Used() {
		if !g.regs[r].CallerSaved {
			out = append(out, r)
		}
	}

	return out
}

func (g *gen) unencodable(in *isx.Insn, format string, args ...interface{}) error {
	return errors.UnencodableOperation(g.fn.Name, g.index, in.Op.String(), fmt.Sprintf(format, args...))
}
