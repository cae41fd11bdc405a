// Package isx defines the ISX stream: a linear, architecture-neutral list of
// three-address instructions over typed operands, built once per function
// and consumed once by a code generator.
package isx

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paraflow-lang/paraflow/internal/types"
)

// AddrKind classifies an operand.
type AddrKind int

const (
	NoAddr AddrKind = iota
	Const
	Temp
	Var
	Input
	Output
	Global
	Label
)

// Addr is a typed operand. Every operand except labels carries a type.
type Addr struct {
	Kind AddrKind
	Type types.TypeID
	// Name is the source name of a variable, the symbol of a global, or the
	// name of a label.
	Name string
	// ID numbers temporaries, locals and labels within their function and
	// holds the signature index of inputs and outputs.
	ID int

	// Constant payloads. Sym, when set, makes the constant the address of
	// a data symbol; a reference constant without Sym is null.
	Int   int64
	Float float64
	Sym   string
}

// Valid reports whether a is a real operand.
func (a Addr) Valid() bool { return a.Kind != NoAddr }

// IsConst reports whether a is a constant.
func (a Addr) IsConst() bool { return a.Kind == Const }

// Key identifies the storage an operand names. Two operands with the same key
// denote the same value.
type Key struct {
	Kind AddrKind
	ID   int
	Name string
}

// Key returns the storage identity of a. Constants and labels have none.
func (a Addr) Key() Key {
	switch a.Kind {
	case Global:
		return Key{Kind: Global, Name: a.Name}
	case Temp, Var, Input, Output:
		return Key{Kind: a.Kind, ID: a.ID}
	}

	return Key{}
}

// HasStorage reports whether the operand names a value that can live in a
// register or memory.
func (a Addr) HasStorage() bool {
	switch a.Kind {
	case Temp, Var, Input, Output, Global:
		return true
	}

	return false
}

func (a Addr) String() string {
	switch a.Kind {
	case Const:
		switch {
		case a.Sym != "":
			return "$" + a.Sym
		case a.Float != 0:
			return strconv.FormatFloat(a.Float, 'g', -1, 64)
		}

		return strconv.FormatInt(a.Int, 10)
	case Temp:
		return fmt.Sprintf("t%d", a.ID)
	case Var:
		return fmt.Sprintf("%s.%d", a.Name, a.ID)
	case Input, Output:
		return a.Name
	case Global:
		return "@" + a.Name
	case Label:
		return a.Name
	}

	return "_"
}

// Op is an ISX operation.
type Op int

const (
	FuncStart Op = iota
	FuncEnd
	Assign
	Convert
	Plus
	Minus
	Mul
	Div
	Mod
	BitAnd
	BitOr
	BitXor
	ShiftLeft
	ShiftRight
	Negate
	FlipBits
	Eq
	Ne
	Lt
	Le
	Gt
	Ge
	LoadField
	StoreField
	Call
	LabelOp
	Jump
	Beq
	Bne
	Blt
	Ble
	Bgt
	Bge
	Bz
	Bnz
)

var opNames = [...]string{
	FuncStart:  "funcstart",
	FuncEnd:    "funcend",
	Assign:     "assign",
	Convert:    "convert",
	Plus:       "+",
	Minus:      "-",
	Mul:        "*",
	Div:        "/",
	Mod:        "%",
	BitAnd:     "&",
	BitOr:      "|",
	BitXor:     "^",
	ShiftLeft:  "<<",
	ShiftRight: ">>",
	Negate:     "neg",
	FlipBits:   "flip",
	Eq:         "==",
	Ne:         "!=",
	Lt:         "<",
	Le:         "<=",
	Gt:         ">",
	Ge:         ">=",
	LoadField:  "loadfield",
	StoreField: "storefield",
	Call:       "call",
	LabelOp:    "label",
	Jump:       "jmp",
	Beq:        "beq",
	Bne:        "bne",
	Blt:        "blt",
	Ble:        "ble",
	Bgt:        "bgt",
	Bge:        "bge",
	Bz:         "bz",
	Bnz:        "bnz",
}

func (o Op) String() string {
	if o >= 0 && int(o) < len(opNames) {
		return opNames[o]
	}

	return fmt.Sprintf("op(%d)", int(o))
}

// IsBinary reports whether the op computes Dest from Left and Right.
func (o Op) IsBinary() bool { return o >= Plus && o <= ShiftRight || o.IsCompare() }

// IsCompare reports whether the op yields 0 or 1 from two operands.
func (o Op) IsCompare() bool { return o >= Eq && o <= Ge }

// IsBranch reports whether the op may transfer control to Target.
func (o Op) IsBranch() bool { return o >= Jump && o <= Bnz }

// IsCondBranch reports whether the op is a conditional branch.
func (o Op) IsCondBranch() bool { return o > Jump && o <= Bnz }

// Inverse returns the conditional branch taken exactly when o is not.
func (o Op) Inverse() Op {
	switch o {
	case Beq:
		return Bne
	case Bne:
		return Beq
	case Blt:
		return Bge
	case Bge:
		return Blt
	case Ble:
		return Bgt
	case Bgt:
		return Ble
	case Bz:
		return Bnz
	case Bnz:
		return Bz
	}

	panic(fmt.Sprintf("isx: %s has no inverse", o))
}

// Insn is one ISX instruction. Which fields are meaningful depends on Op:
//
//	binary, compare:   Dest = Left op Right
//	Assign, Convert:   Dest = Left
//	Negate, FlipBits:  Dest = op Left
//	LoadField:         Dest = Left[Offset]
//	StoreField:        Left[Offset] = Right
//	Call:              Outs = Callee(Args)
//	LabelOp, Jump:     Target
//	Bxx:               if Left cmp Right goto Target
//	Bz, Bnz:           if Left cmp 0 goto Target
type Insn struct {
	Op     Op
	Dest   Addr
	Left   Addr
	Right  Addr
	Args   []Addr
	Outs   []Addr
	Callee string
	Target Addr
	Offset int
}

// Uses returns the operands read by the instruction, in operand order.
func (in *Insn) Uses() []Addr {
	var out []Addr

	add := func(a Addr) {
		if a.HasStorage() {
			out = append(out, a)
		}
	}

	switch in.Op {
	case Call:
		for _, a := range in.Args {
			add(a)
		}
	default:
		add(in.Left)
		add(in.Right)
	}

	return out
}

// Defs returns the operands written by the instruction.
func (in *Insn) Defs() []Addr {
	switch in.Op {
	case Call:
		return in.Outs
	case StoreField, LabelOp, FuncStart, FuncEnd:
		return nil
	}

	if in.Op.IsBranch() || !in.Dest.Valid() {
		return nil
	}

	return []Addr{in.Dest}
}

func (in *Insn) String() string {
	switch {
	case in.Op == FuncStart || in.Op == FuncEnd:
		return in.Op.String()
	case in.Op == LabelOp:
		return in.Target.String() + ":"
	case in.Op == Jump:
		return "jmp " + in.Target.String()
	case in.Op == Bz || in.Op == Bnz:
		return fmt.Sprintf("%s %s, %s", in.Op, in.Left, in.Target)
	case in.Op.IsCondBranch():
		return fmt.Sprintf("%s %s, %s, %s", in.Op, in.Left, in.Right, in.Target)
	case in.Op.IsBinary():
		return fmt.Sprintf("%s = %s %s %s", in.Dest, in.Left, in.Op, in.Right)
	case in.Op == Assign:
		return fmt.Sprintf("%s = %s", in.Dest, in.Left)
	case in.Op == Convert || in.Op == Negate || in.Op == FlipBits:
		return fmt.Sprintf("%s = %s %s", in.Dest, in.Op, in.Left)
	case in.Op == LoadField:
		return fmt.Sprintf("%s = %s[%d]", in.Dest, in.Left, in.Offset)
	case in.Op == StoreField:
		return fmt.Sprintf("%s[%d] = %s", in.Left, in.Offset, in.Right)
	case in.Op == Call:
		return fmt.Sprintf("(%s) = call %s(%s)", joinAddrs(in.Outs), in.Callee, joinAddrs(in.Args))
	}

	return in.Op.String()
}

func joinAddrs(as []Addr) string {
	parts := make([]string, len(as))
	for i, a := range as {
		parts[i] = a.String()
	}

	return strings.Join(parts, ", ")
}

// Func is the ISX stream of one function.
type Func struct {
	Name    string
	Symbol  string
	Inputs  []Addr
	Outputs []Addr
	Locals  []Addr
	Insns   []Insn
	// Temps is the number of temporaries; they are numbered from zero.
	Temps int

	Registry *types.Registry
}

// String renders the listing. Every operand that occupies storage is shown
// with its type so that the listing fully determines code generation.
func (f *Func) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "function %s (%s)", f.Symbol, f.Name)
	f.writeAddrs(&b, " in", f.Inputs)
	f.writeAddrs(&b, " out", f.Outputs)
	b.WriteString("\n")

	if len(f.Locals) > 0 {
		f.writeAddrs(&b, "  locals", f.Locals)
		b.WriteString("\n")
	}

	temps := make(map[int]types.TypeID)

	for _, in := range f.Insns {
		for _, d := range in.Defs() {
			if d.Kind == Temp {
				temps[d.ID] = d.Type
			}
		}
	}

	if len(temps) > 0 {
		b.WriteString("  temps")
		for id := 0; id < f.Temps; id++ {
			if t, ok := temps[id]; ok {
				fmt.Fprintf(&b, " t%d:%s", id, f.typeName(t))
			}
		}
		b.WriteString("\n")
	}

	for i := range f.Insns {
		fmt.Fprintf(&b, "%5d  %s\n", i, f.Insns[i].String())
	}

	return b.String()
}

func (f *Func) writeAddrs(b *strings.Builder, label string, as []Addr) {
	if len(as) == 0 {
		return
	}

	b.WriteString(label)
	for _, a := range as {
		fmt.Fprintf(b, " %s:%s", a, f.typeName(a.Type))
	}
}

func (f *Func) typeName(t types.TypeID) string {
	if f.Registry == nil {
		return strconv.Itoa(int(t))
	}

	return f.Registry.String(t)
}

// GlobalVar is a module-level variable.
type GlobalVar struct {
	Name   string
	Symbol string
	Type   types.TypeID
}

// StringConst is a string literal placed in the data section.
type StringConst struct {
	Symbol string
	Value  string
}

// Module is the ISX of one translation unit.
type Module struct {
	Funcs   []*Func
	Globals []GlobalVar
	Strings []StringConst
	// Externs are runtime symbols called by the module, sorted.
	Externs  []string
	Registry *types.Registry
}

// String renders every function listing in order.
func (m *Module) String() string {
	var b strings.Builder

	for _, g := range m.Globals {
		fmt.Fprintf(&b, "global @%s:%s\n", g.Symbol, m.Registry.String(g.Type))
	}

	for _, s := range m.Strings {
		fmt.Fprintf(&b, "string $%s = %q\n", s.Symbol, s.Value)
	}

	for _, f := range m.Funcs {
		b.WriteString(f.String())
	}

	return b.String()
}
