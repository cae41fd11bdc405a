package pentium

import (
	"math"
	"strconv"
	"strings"
	"testing"
)

// machine interprets the subset of x86 and scalar SSE the generator emits so
// tests can check that allocation decisions preserve what a program computes.
type machine struct {
	t      *testing.T
	code   []simInsn
	labels map[string]int
	data   map[string]uint32
	mem    map[uint32]byte
	regs   map[string]uint32
	// xmm holds the low 64 bits of each xmm register.
	xmm map[string]uint64
	// Operands of the last cmp or test.
	fa, fb uint32
	// ucomi is set by ucomiss and ucomisd; ford is then the sign of the
	// comparison.
	ucomi   bool
	ford    int
	externs map[string]func(m *machine)
}

type simInsn struct {
	op   string
	args []string
	line string
}

type simReg struct {
	base  string
	width int
}

var simRegs = map[string]simReg{
	"eax": {"eax", 4}, "ax": {"eax", 2}, "al": {"eax", 1},
	"ecx": {"ecx", 4}, "cx": {"ecx", 2}, "cl": {"ecx", 1},
	"edx": {"edx", 4}, "dx": {"edx", 2}, "dl": {"edx", 1},
	"ebx": {"ebx", 4}, "bx": {"ebx", 2}, "bl": {"ebx", 1},
	"esi": {"esi", 4}, "si": {"esi", 2},
	"edi": {"edi", 4}, "di": {"edi", 2},
	"esp": {"esp", 4}, "ebp": {"ebp", 4},
}

const (
	stackTop = 0x80000
	sentinel = 0xdeadbeef
	maxSteps = 1000000
	// xmmPoison is a NaN written to every xmm register on entry to a
	// function, since all of them are caller saved.
	xmmPoison = 0xfff80000deadbeef
)

func newMachine(t *testing.T, src string) *machine {
	t.Helper()

	m := &machine{
		t:       t,
		labels:  make(map[string]int),
		data:    make(map[string]uint32),
		mem:     make(map[uint32]byte),
		regs:    make(map[string]uint32),
		xmm:     make(map[string]uint64),
		externs: make(map[string]func(m *machine)),
	}

	next := uint32(0x1000)
	scope := ""

	for _, raw := range strings.Split(src, "\n") {
		line := strings.TrimSpace(raw)
		if i := strings.Index(line, ";"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}

		if line == "" {
			continue
		}

		fields := strings.Fields(line)

		switch fields[0] {
		case "bits", "section", "extern", "global":
			continue
		}

		if strings.HasSuffix(line, ":") {
			name := strings.TrimSuffix(line, ":")
			if strings.HasPrefix(name, ".") {
				name = scope + name
			} else {
				scope = name
			}

			m.labels[name] = len(m.code)

			continue
		}

		if i := strings.Index(line, ": "); i >= 0 {
			m.data[line[:i]] = next
			next = m.define(next, strings.TrimSpace(line[i+2:]))

			continue
		}

		op := fields[0]
		in := simInsn{op: op, line: line}

		if rest := strings.TrimSpace(line[len(op):]); rest != "" {
			in.args = strings.Split(rest, ", ")
		}

		if strings.HasPrefix(op, "j") && strings.HasPrefix(in.args[0], ".") {
			in.args[0] = scope + in.args[0]
		}

		m.code = append(m.code, in)
	}

	return m
}

// define lays out one data directive at addr and returns the next free
// address.
func (m *machine) define(addr uint32, dir string) uint32 {
	fields := strings.Fields(dir)
	rest := strings.TrimSpace(dir[len(fields[0]):])

	switch fields[0] {
	case "db":
		for _, v := range strings.Split(rest, ", ") {
			m.store(addr, 1, uint32(m.number(v)))
			addr++
		}
	case "dd":
		m.store(addr, 4, uint32(m.number(rest)))
		addr += 4
	case "dq":
		v := uint64(m.number(rest))
		m.store(addr, 4, uint32(v))
		m.store(addr+4, 4, uint32(v>>32))
		addr += 8
	case "resb":
		addr += uint32(m.number(rest))
	default:
		m.t.Fatalf("unknown directive %q", dir)
	}

	return (addr + 3) &^ 3
}

func (m *machine) number(s string) int64 {
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		u, uerr := strconv.ParseUint(s, 0, 64)
		if uerr != nil {
			m.t.Fatalf("bad number %q: %v", s, err)
		}

		return int64(u)
	}

	return v
}

func (m *machine) load(addr uint32, width int) uint32 {
	var v uint32
	for i := width - 1; i >= 0; i-- {
		v = v<<8 | uint32(m.mem[addr+uint32(i)])
	}

	return v
}

func (m *machine) store(addr uint32, width int, v uint32) {
	for i := 0; i < width; i++ {
		m.mem[addr+uint32(i)] = byte(v >> (8 * i))
	}
}

func (m *machine) push(v uint32) {
	m.regs["esp"] -= 4
	m.store(m.regs["esp"], 4, v)
}

func (m *machine) pop() uint32 {
	v := m.load(m.regs["esp"], 4)
	m.regs["esp"] += 4

	return v
}

// loc is a decoded operand.
type loc struct {
	reg   string
	xmm   string
	mem   bool
	addr  uint32
	imm   uint32
	width int
}

func (m *machine) operand(s string) loc {
	var l loc

	for prefix, w := range map[string]int{"byte ": 1, "word ": 2, "dword ": 4, "qword ": 8} {
		if strings.HasPrefix(s, prefix) {
			l.width = w
			s = s[len(prefix):]
		}
	}

	if strings.HasPrefix(s, "[") {
		l.mem = true
		l.addr = m.address(s[1 : len(s)-1])

		return l
	}

	if strings.HasPrefix(s, "xmm") {
		l.xmm = s
		return l
	}

	if r, ok := simRegs[s]; ok {
		l.reg = s
		l.width = r.width

		return l
	}

	if a, ok := m.data[s]; ok {
		l.imm = a
		return l
	}

	l.imm = uint32(m.number(s))

	return l
}

func (m *machine) address(expr string) uint32 {
	var sum uint32

	sign := uint32(1)
	start := 0

	for i := 0; i <= len(expr); i++ {
		if i < len(expr) && expr[i] != '+' && expr[i] != '-' {
			continue
		}

		if tok := expr[start:i]; tok != "" {
			sum += sign * m.term(tok)
		}

		if i < len(expr) {
			sign = 1
			if expr[i] == '-' {
				sign = ^uint32(0)
			}
		}

		start = i + 1
	}

	return sum
}

func (m *machine) term(tok string) uint32 {
	if _, ok := simRegs[tok]; ok {
		return m.reg(tok)
	}

	if a, ok := m.data[tok]; ok {
		return a
	}

	return uint32(m.number(tok))
}

func (m *machine) reg(name string) uint32 {
	r := simRegs[name]
	v := m.regs[r.base]

	switch r.width {
	case 1:
		return v & 0xff
	case 2:
		return v & 0xffff
	}

	return v
}

func (m *machine) setReg(name string, v uint32) {
	r := simRegs[name]
	old := m.regs[r.base]

	switch r.width {
	case 1:
		m.regs[r.base] = old&^0xff | v&0xff
	case 2:
		m.regs[r.base] = old&^0xffff | v&0xffff
	default:
		m.regs[r.base] = v
	}
}

func (m *machine) read(l loc, width int) uint32 {
	switch {
	case l.reg != "":
		return m.reg(l.reg)
	case l.mem:
		return m.load(l.addr, width)
	}

	return l.imm
}

func (m *machine) write(l loc, width int, v uint32) {
	switch {
	case l.reg != "":
		m.setReg(l.reg, v)
	case l.mem:
		m.store(l.addr, width, v)
	default:
		m.t.Fatalf("write to immediate")
	}
}

func widthOf(ls ...loc) int {
	for _, l := range ls {
		if l.width != 0 {
			return l.width
		}
	}

	return 4
}

func signExtend(v uint32, width int) uint32 {
	switch width {
	case 1:
		return uint32(int32(int8(v)))
	case 2:
		return uint32(int32(int16(v)))
	}

	return v
}

// readX reads the low width bytes of an xmm register or memory operand.
func (m *machine) readX(l loc, width int) uint64 {
	switch {
	case l.xmm != "" && width == 4:
		return m.xmm[l.xmm] & 0xffffffff
	case l.xmm != "":
		return m.xmm[l.xmm]
	case l.mem && width == 4:
		return uint64(m.load(l.addr, 4))
	case l.mem:
		return uint64(m.load(l.addr, 4)) | uint64(m.load(l.addr+4, 4))<<32
	}

	m.t.Fatalf("bad sse operand %+v", l)

	return 0
}

// writeX writes width bytes to an xmm register or memory. A scalar single
// write into a register keeps the upper half of the low quadword.
func (m *machine) writeX(l loc, width int, v uint64) {
	switch {
	case l.xmm != "" && width == 4:
		m.xmm[l.xmm] = m.xmm[l.xmm]&^0xffffffff | v&0xffffffff
	case l.xmm != "":
		m.xmm[l.xmm] = v
	case l.mem:
		m.store(l.addr, 4, uint32(v))
		if width == 8 {
			m.store(l.addr+4, 4, uint32(v>>32))
		}
	default:
		m.t.Fatalf("bad sse destination %+v", l)
	}
}

func (m *machine) single(l loc) float32 { return math.Float32frombits(uint32(m.readX(l, 4))) }

func (m *machine) double(l loc) float64 { return math.Float64frombits(m.readX(l, 8)) }

func sseWidth(op string) int {
	if strings.HasSuffix(op, "ss") {
		return 4
	}

	return 8
}

func (m *machine) cond(cc string) bool {
	if m.ucomi {
		switch cc {
		case "e", "z":
			return m.ford == 0
		case "ne", "nz":
			return m.ford != 0
		case "b":
			return m.ford < 0
		case "be":
			return m.ford <= 0
		case "a":
			return m.ford > 0
		case "ae":
			return m.ford >= 0
		}

		m.t.Fatalf("condition %q after ucomi", cc)
	}

	a, b := int32(m.fa), int32(m.fb)

	switch cc {
	case "e", "z":
		return m.fa == m.fb
	case "ne", "nz":
		return m.fa != m.fb
	case "l":
		return a < b
	case "le":
		return a <= b
	case "g":
		return a > b
	case "ge":
		return a >= b
	case "b":
		return m.fa < m.fb
	case "be":
		return m.fa <= m.fb
	case "a":
		return m.fa > m.fb
	case "ae":
		return m.fa >= m.fb
	}

	m.t.Fatalf("unknown condition %q", cc)

	return false
}

// slot is one input or output of a call.
type slot struct {
	width int
	bits  uint64
}

func i32(v int32) slot   { return slot{4, uint64(uint32(v))} }
func f32(v float32) slot { return slot{4, uint64(math.Float32bits(v))} }
func f64(v float64) slot { return slot{8, math.Float64bits(v)} }

// call runs sym with 4 byte input slots and returns its 4 byte output slots.
func (m *machine) call(sym string, args []uint32, outs int) []uint32 {
	m.t.Helper()

	in := make([]slot, len(args))
	for i, a := range args {
		in[i] = slot{4, uint64(a)}
	}

	widths := make([]int, outs)
	for i := range widths {
		widths[i] = 4
	}

	res := m.invoke(sym, in, widths)

	out := make([]uint32, outs)
	for i, r := range res {
		out[i] = uint32(r)
	}

	return out
}

// invoke runs sym with the given input slots and returns the bits of its
// output slots, whose widths are given by outs. It also checks the calling
// convention: esp is balanced and the callee saved registers keep their
// values.
func (m *machine) invoke(sym string, args []slot, outs []int) []uint64 {
	m.t.Helper()

	pc, ok := m.labels[sym]
	if !ok {
		m.t.Fatalf("no function %s", sym)
	}

	block := uint32(0)
	for _, a := range args {
		block += uint32(a.width)
	}

	inSize := block
	for _, w := range outs {
		block += uint32(w)
	}

	base := uint32(stackTop) - block

	off := base
	for _, a := range args {
		m.writeX(loc{mem: true, addr: off}, a.width, a.bits)
		off += uint32(a.width)
	}

	for off < base+block {
		m.store(off, 4, 0)
		off += 4
	}

	m.poisonXMM()

	saved := map[string]uint32{"ebx": 0x11111111, "esi": 0x22222222, "edi": 0x33333333, "ebp": 0x44444444}
	for r, v := range saved {
		m.regs[r] = v
	}

	m.regs["esp"] = base
	m.push(sentinel)

	for steps := 0; ; steps++ {
		if steps > maxSteps {
			m.t.Fatalf("%s did not return", sym)
		}

		if pc < 0 || pc >= len(m.code) {
			m.t.Fatalf("pc %d out of range", pc)
		}

		in := m.code[pc]
		pc++

		if in.op == "ret" {
			ret := m.pop()
			if ret == sentinel {
				break
			}

			pc = int(ret)

			continue
		}

		pc = m.step(in, pc)
	}

	if m.regs["esp"] != base {
		m.t.Errorf("esp = %#x after %s, want %#x", m.regs["esp"], sym, base)
	}

	for r, v := range saved {
		if m.regs[r] != v {
			m.t.Errorf("%s clobbered %s", sym, r)
		}
	}

	out := make([]uint64, len(outs))
	off = base + inSize

	for i, w := range outs {
		out[i] = m.readX(loc{mem: true, addr: off}, w)
		off += uint32(w)
	}

	return out
}

func (m *machine) poisonXMM() {
	for i := 0; i < xmmCount; i++ {
		m.xmm["xmm"+strconv.Itoa(i)] = xmmPoison
	}
}

// step executes one instruction and returns the next pc.
func (m *machine) step(in simInsn, pc int) int {
	ops := make([]loc, len(in.args))
	if !strings.HasPrefix(in.op, "j") && in.op != "call" {
		for i, a := range in.args {
			ops[i] = m.operand(a)
		}
	}

	switch in.op {
	case "mov":
		w := widthOf(ops...)
		m.write(ops[0], w, m.read(ops[1], w))
	case "movsx", "movzx":
		w := ops[1].width
		v := m.read(ops[1], w)

		if in.op == "movsx" {
			v = signExtend(v, w)
		}

		m.write(ops[0], 4, v)
	case "add", "sub", "and", "or", "xor":
		w := widthOf(ops...)
		x, y := m.read(ops[0], w), m.read(ops[1], w)

		var v uint32
		switch in.op {
		case "add":
			v = x + y
		case "sub":
			v = x - y
		case "and":
			v = x & y
		case "or":
			v = x | y
		case "xor":
			v = x ^ y
		}

		m.write(ops[0], w, v)
	case "imul":
		if len(ops) == 3 {
			m.write(ops[0], 4, m.read(ops[1], 4)*m.read(ops[2], 4))
		} else {
			m.write(ops[0], 4, m.read(ops[0], 4)*m.read(ops[1], 4))
		}
	case "neg":
		m.write(ops[0], 4, -m.read(ops[0], 4))
	case "not":
		m.write(ops[0], 4, ^m.read(ops[0], 4))
	case "shl", "sar":
		n := m.read(ops[1], 1) & 31
		v := m.read(ops[0], 4)

		if in.op == "shl" {
			v <<= n
		} else {
			v = uint32(int32(v) >> n)
		}

		m.write(ops[0], 4, v)
	case "cdq":
		m.regs["edx"] = 0
		if int32(m.regs["eax"]) < 0 {
			m.regs["edx"] = 0xffffffff
		}
	case "idiv":
		d := int64(int32(m.read(ops[0], 4)))
		if d == 0 {
			m.t.Fatalf("division by zero at %q", in.line)
		}

		n := int64(uint64(m.regs["edx"])<<32 | uint64(m.regs["eax"]))
		m.regs["eax"] = uint32(n / d)
		m.regs["edx"] = uint32(n % d)
	case "cmp":
		m.fa, m.fb = m.read(ops[0], 4), m.read(ops[1], 4)
		m.ucomi = false
	case "test":
		m.fa, m.fb = m.read(ops[0], 4)&m.read(ops[1], 4), 0
		m.ucomi = false
	case "movss", "movsd":
		w := sseWidth(in.op)
		v := m.readX(ops[1], w)

		if ops[0].xmm != "" && ops[1].mem {
			// A load clears the rest of the register.
			m.xmm[ops[0].xmm] = 0
		}

		m.writeX(ops[0], w, v)
	case "movaps":
		m.xmm[ops[0].xmm] = m.xmm[ops[1].xmm]
	case "xorps":
		m.xmm[ops[0].xmm] ^= m.xmm[ops[1].xmm]
	case "addss", "subss", "mulss", "divss":
		x, y := m.single(ops[0]), m.single(ops[1])

		var v float32
		switch in.op[:3] {
		case "add":
			v = x + y
		case "sub":
			v = x - y
		case "mul":
			v = x * y
		case "div":
			v = x / y
		}

		m.writeX(ops[0], 4, uint64(math.Float32bits(v)))
	case "addsd", "subsd", "mulsd", "divsd":
		x, y := m.double(ops[0]), m.double(ops[1])

		var v float64
		switch in.op[:3] {
		case "add":
			v = x + y
		case "sub":
			v = x - y
		case "mul":
			v = x * y
		case "div":
			v = x / y
		}

		m.writeX(ops[0], 8, math.Float64bits(v))
	case "ucomiss", "ucomisd":
		var x, y float64
		if in.op == "ucomiss" {
			x, y = float64(m.single(ops[0])), float64(m.single(ops[1]))
		} else {
			x, y = m.double(ops[0]), m.double(ops[1])
		}

		m.ucomi = true

		switch {
		case x < y:
			m.ford = -1
		case x > y:
			m.ford = 1
		default:
			m.ford = 0
		}
	case "cvtsi2ss":
		m.writeX(ops[0], 4, uint64(math.Float32bits(float32(int32(m.read(ops[1], 4))))))
	case "cvtsi2sd":
		m.writeX(ops[0], 8, math.Float64bits(float64(int32(m.read(ops[1], 4)))))
	case "cvttss2si":
		m.write(ops[0], 4, uint32(int32(m.single(ops[1]))))
	case "cvttsd2si":
		m.write(ops[0], 4, uint32(int32(m.double(ops[1]))))
	case "cvtss2sd":
		m.writeX(ops[0], 8, math.Float64bits(float64(m.single(ops[1]))))
	case "cvtsd2ss":
		m.writeX(ops[0], 4, uint64(math.Float32bits(float32(m.double(ops[1])))))
	case "push":
		m.push(m.read(ops[0], 4))
	case "pop":
		m.write(ops[0], 4, m.pop())
	case "jmp":
		return m.target(in.args[0])
	case "call":
		if _, ok := m.labels[in.args[0]]; ok {
			m.push(uint32(pc))
			m.poisonXMM()

			return m.target(in.args[0])
		}

		f, ok := m.externs[in.args[0]]
		if !ok {
			m.t.Fatalf("call to unknown %s", in.args[0])
		}

		f(m)
	default:
		switch {
		case strings.HasPrefix(in.op, "set"):
			v := uint32(0)
			if m.cond(in.op[3:]) {
				v = 1
			}

			m.write(ops[0], 1, v)
		case strings.HasPrefix(in.op, "j"):
			if m.cond(in.op[1:]) {
				return m.target(in.args[0])
			}
		default:
			m.t.Fatalf("unsupported instruction %q", in.line)
		}
	}

	return pc
}

func (m *machine) target(label string) int {
	pc, ok := m.labels[label]
	if !ok {
		m.t.Fatalf("undefined label %s", label)
	}

	return pc
}
