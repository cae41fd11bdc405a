package isx

import (
	"fmt"
	"sort"

	"github.com/paraflow-lang/paraflow/internal/errors"
	"github.com/paraflow-lang/paraflow/internal/types"
)

// FuncBuilder appends instructions to one function's stream and tracks
// label placement so that no branch target is left dangling.
type FuncBuilder struct {
	fn     *Func
	labels int
	placed map[int]bool
	used   map[int]Addr
	closed bool
}

// NewFuncBuilder starts a stream and emits FuncStart.
func NewFuncBuilder(name, symbol string, reg *types.Registry) *FuncBuilder {
	b := &FuncBuilder{
		fn:     &Func{Name: name, Symbol: symbol, Registry: reg},
		placed: make(map[int]bool),
		used:   make(map[int]Addr),
	}
	b.Emit(Insn{Op: FuncStart})

	return b
}

// Input declares the next input parameter.
func (b *FuncBuilder) Input(name string, t types.TypeID) Addr {
	a := Addr{Kind: Input, Type: t, Name: name, ID: len(b.fn.Inputs)}
	b.fn.Inputs = append(b.fn.Inputs, a)

	return a
}

// Output declares the next output parameter.
func (b *FuncBuilder) Output(name string, t types.TypeID) Addr {
	a := Addr{Kind: Output, Type: t, Name: name, ID: len(b.fn.Outputs)}
	b.fn.Outputs = append(b.fn.Outputs, a)

	return a
}

// Local declares a frame-resident variable.
func (b *FuncBuilder) Local(name string, t types.TypeID) Addr {
	a := Addr{Kind: Var, Type: t, Name: name, ID: len(b.fn.Locals)}
	b.fn.Locals = append(b.fn.Locals, a)

	return a
}

// Temp returns a fresh temporary of type t.
func (b *FuncBuilder) Temp(t types.TypeID) Addr {
	if t == types.Invalid {
		panic("isx: untyped temporary")
	}

	a := Addr{Kind: Temp, Type: t, ID: b.fn.Temps}
	b.fn.Temps++

	return a
}

// NewLabel returns a label that must be placed before Close.
func (b *FuncBuilder) NewLabel() Addr {
	a := Addr{Kind: Label, ID: b.labels, Name: fmt.Sprintf("L%d", b.labels)}
	b.labels++

	return a
}

// Place emits the label at the current position.
func (b *FuncBuilder) Place(l Addr) {
	if b.placed[l.ID] {
		panic(fmt.Sprintf("isx: label %s placed twice", l))
	}

	b.placed[l.ID] = true
	b.Emit(Insn{Op: LabelOp, Target: l})
}

// Emit appends an instruction.
func (b *FuncBuilder) Emit(in Insn) {
	if b.closed {
		panic("isx: emit after close")
	}

	if in.Op.IsBranch() {
		b.used[in.Target.ID] = in.Target
	}

	b.fn.Insns = append(b.fn.Insns, in)
}

// Len returns the number of instructions emitted so far.
func (b *FuncBuilder) Len() int { return len(b.fn.Insns) }

// Close emits FuncEnd and checks that every referenced label was placed.
func (b *FuncBuilder) Close() (*Func, error) {
	b.Emit(Insn{Op: FuncEnd})
	b.closed = true

	var missing []int
	for id := range b.used {
		if !b.placed[id] {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		sort.Ints(missing)
		return nil, errors.DanglingLabel(b.fn.Name, b.used[missing[0]].Name)
	}

	return b.fn, nil
}
