// Package regalloc implements next-use register allocation over an ISX
// stream. The allocator is target independent: a code generator describes its
// register file, asks for operands to be made resident, and receives the
// spill, reload and move decisions through the Mover it supplies.
package regalloc

import (
	"fmt"
	"sort"
	"strings"

	"github.com/paraflow-lang/paraflow/internal/isx"
)

// RegisterClass represents the register banks of a target
type RegisterClass int

const (
	ClassGPR RegisterClass = iota // General purpose registers
	ClassXMM                      // SSE registers
)

func (c RegisterClass) String() string {
	if c == ClassXMM {
		return "xmm"
	}

	return "gpr"
}

// Register represents a physical register
type Register struct {
	Name  string
	Class RegisterClass
	// CallerSaved registers are clobbered by calls.
	CallerSaved bool
	// Byte registers have an addressable low byte.
	Byte bool
}

// Phase is a state of the per-function allocation.
type Phase int

const (
	Scanning Phase = iota
	Emitting
	Reconciling
	Done
)

var phaseNames = [...]string{"scanning", "emitting", "reconciling", "done"}

func (p Phase) String() string { return phaseNames[p] }

// Mover emits the data movement the allocator decides on.
type Mover interface {
	// Store writes register reg to the memory home of v.
	Store(v isx.Addr, reg int)
	// Load reads v from its memory home into register reg.
	Load(v isx.Addr, reg int)
	// Move copies register src into register dst.
	Move(dst, src int, v isx.Addr)
}

// Descriptor tracks where one value currently lives.
type Descriptor struct {
	Value isx.Addr
	// Reg is the register holding the value, -1 if none.
	Reg int
	// Dirty is set when the register copy is newer than memory.
	Dirty bool
	// Slot is the frame offset of the spill slot, valid when HasSlot.
	Slot    int
	HasSlot bool
}

// State maps values to the registers holding them at a block boundary.
type State map[isx.Key]int

// Allocator binds ISX values to physical registers while a code generator
// walks one function.
type Allocator struct {
	Sched *Schedule

	regs     []Register
	occupant []isx.Key
	occupied []bool
	pinned   []bool
	used     []bool

	desc  map[isx.Key]*Descriptor
	mover Mover
	phase Phase
	pos   int

	width     func(isx.Addr) int
	frameBase int
	slotBytes int
}

// New creates an allocator for sched. Spill slots are laid out below
// frameBase bytes of locals, each slot sized by width.
func New(sched *Schedule, regs []Register, mover Mover, frameBase int, width func(isx.Addr) int) *Allocator {
	if len(regs) == 0 {
		panic("regalloc: empty register file")
	}

	return &Allocator{
		Sched:     sched,
		regs:      regs,
		occupant:  make([]isx.Key, len(regs)),
		occupied:  make([]bool, len(regs)),
		pinned:    make([]bool, len(regs)),
		used:      make([]bool, len(regs)),
		desc:      make(map[isx.Key]*Descriptor),
		mover:     mover,
		width:     width,
		frameBase: frameBase,
	}
}

// Phase returns the current phase.
func (a *Allocator) Phase() Phase { return a.phase }

// Advance moves to phase p. Phases only move forward.
func (a *Allocator) Advance(p Phase) {
	if p <= a.phase {
		panic(fmt.Sprintf("regalloc: phase %s cannot follow %s", p, a.phase))
	}

	a.phase = p
}

func (a *Allocator) require(ps ...Phase) {
	for _, p := range ps {
		if a.phase == p {
			return
		}
	}

	panic(fmt.Sprintf("regalloc: operation not allowed while %s", a.phase))
}

// At sets the instruction whose operands are being placed. Next-use
// distances are measured from it.
func (a *Allocator) At(pos int) {
	a.require(Emitting)
	a.pos = pos
}

// Pos returns the current instruction index.
func (a *Allocator) Pos() int { return a.pos }

// Registers returns the register file.
func (a *Allocator) Registers() []Register { return a.regs }

// Used reports the registers written at least once, in index order.
func (a *Allocator) Used() []int {
	var out []int
	for r, u := range a.used {
		if u {
			out = append(out, r)
		}
	}

	return out
}

// FrameSize returns the bytes of locals plus spill slots.
func (a *Allocator) FrameSize() int { return a.frameBase + a.slotBytes }

func (a *Allocator) descriptor(v isx.Addr) *Descriptor {
	k := v.Key()

	d, ok := a.desc[k]
	if !ok {
		d = &Descriptor{Value: v, Reg: -1}
		a.desc[k] = d
	}

	return d
}

// Descriptor returns the descriptor of v, if v was ever placed.
func (a *Allocator) Descriptor(v isx.Addr) (Descriptor, bool) {
	d, ok := a.desc[v.Key()]
	if !ok {
		return Descriptor{}, false
	}

	return *d, true
}

// Slot returns the spill slot of v, assigning one on first request. Slots are
// never reused within the function.
func (a *Allocator) Slot(v isx.Addr) int {
	d := a.descriptor(v)
	if !d.HasSlot {
		size := a.width(v)
		if size < 4 {
			size = 4
		}

		a.slotBytes += size
		d.Slot = -(a.frameBase + a.slotBytes)
		d.HasSlot = true
	}

	return d.Slot
}

// Resident returns the register holding v.
func (a *Allocator) Resident(v isx.Addr) (int, bool) {
	if !v.HasStorage() {
		return -1, false
	}

	d, ok := a.desc[v.Key()]
	if !ok || d.Reg < 0 {
		return -1, false
	}

	return d.Reg, true
}

// Occupant returns the value held by reg.
func (a *Allocator) Occupant(reg int) (isx.Addr, bool) {
	if !a.occupied[reg] {
		return isx.Addr{}, false
	}

	return a.desc[a.occupant[reg]].Value, true
}

// Pin protects reg from selection until Unpin.
func (a *Allocator) Pin(reg int) { a.pinned[reg] = true }

// Pinned reports whether reg is protected for the current instruction.
func (a *Allocator) Pinned(reg int) bool { return a.pinned[reg] }

// Unpin releases every pinned register.
func (a *Allocator) Unpin() {
	for i := range a.pinned {
		a.pinned[i] = false
	}
}

func (a *Allocator) nextUse(reg int) int {
	return a.Sched.NextUse(a.pos, a.desc[a.occupant[reg]].Value)
}

// Select returns a register from cands for a new value. It prefers an empty
// register, then one whose occupant is dead, then the one whose occupant is
// read furthest in the future, which is spilled. Ties go to the lowest
// register index. Pinned registers are never chosen.
func (a *Allocator) Select(cands []int) int {
	a.require(Emitting)

	cands = sorted(cands)

	for _, r := range cands {
		if !a.pinned[r] && !a.occupied[r] {
			a.used[r] = true
			return r
		}
	}

	for _, r := range cands {
		if !a.pinned[r] && a.nextUse(r) == NoUse {
			a.unbind(r)
			a.used[r] = true

			return r
		}
	}

	best, far := -1, NoUse

	for _, r := range cands {
		if a.pinned[r] {
			continue
		}

		if u := a.nextUse(r); u > far {
			best, far = r, u
		}
	}

	if best < 0 {
		panic(fmt.Sprintf("regalloc: no selectable register among %s at isx #%d", a.names(cands), a.pos))
	}

	a.Spill(best)
	a.used[best] = true

	return best
}

// Scratch selects and pins a register that holds no value.
func (a *Allocator) Scratch(cands []int) int {
	r := a.Select(cands)
	a.Pin(r)

	return r
}

// Claim empties reg for exclusive use by the current instruction, saving
// its occupant if it is still needed.
func (a *Allocator) Claim(reg int) {
	if a.pinned[reg] {
		panic(fmt.Sprintf("regalloc: claiming pinned %s at isx #%d", a.regs[reg].Name, a.pos))
	}

	if a.occupied[reg] {
		v := a.desc[a.occupant[reg]].Value
		if a.Sched.NextUse(a.pos, v) != NoUse || a.Sched.LiveAfter(a.pos, v) {
			a.Spill(reg)
		} else {
			a.unbind(reg)
		}
	}

	a.used[reg] = true
	a.Pin(reg)
}

// Ensure makes v resident in one of cands, loading it from memory or moving
// it from another register as needed, and pins that register.
func (a *Allocator) Ensure(v isx.Addr, cands []int) int {
	a.require(Emitting)

	if r, ok := a.Resident(v); ok {
		if contains(cands, r) {
			a.Pin(r)
			return r
		}

		wasPinned := a.pinned[r]
		a.Pin(r)
		dst := a.Select(cands)
		a.mover.Move(dst, r, v)
		a.pinned[r] = wasPinned

		d := a.desc[v.Key()]
		a.occupied[r] = false
		a.bind(dst, d)
		a.Pin(dst)

		return dst
	}

	r := a.Select(cands)
	a.mover.Load(v, r)
	a.bind(r, a.descriptor(v))
	a.Pin(r)

	return r
}

// Define records that reg now holds the newest value of v.
func (a *Allocator) Define(v isx.Addr, reg int) {
	d := a.descriptor(v)

	if d.Reg >= 0 && d.Reg != reg {
		a.occupied[d.Reg] = false
	}

	if a.occupied[reg] && a.occupant[reg] != v.Key() {
		a.unbind(reg)
	}

	a.bind(reg, d)
	d.Dirty = true
	a.used[reg] = true
}

// Forget drops v from its register without saving it.
func (a *Allocator) Forget(v isx.Addr) {
	if r, ok := a.Resident(v); ok {
		a.unbind(r)
	}
}

// Release drops the operands of the current instruction that are dead after
// it. Their registers become empty.
func (a *Allocator) Release(vs ...isx.Addr) {
	for _, v := range vs {
		r, ok := a.Resident(v)
		if !ok {
			continue
		}

		if !a.Sched.LiveAfter(a.pos, v) {
			a.unbind(r)
		}
	}
}

// Spill stores the occupant of reg if it is dirty and empties reg.
func (a *Allocator) Spill(reg int) {
	d := a.desc[a.occupant[reg]]
	if d.Dirty {
		a.mover.Store(d.Value, reg)
		d.Dirty = false
	}

	a.unbind(reg)
}

// Flush stores the occupant of reg if it is dirty, keeping it resident.
func (a *Allocator) Flush(reg int) {
	if !a.occupied[reg] {
		return
	}

	d := a.desc[a.occupant[reg]]
	if d.Dirty {
		a.mover.Store(d.Value, reg)
		d.Dirty = false
	}
}

// PrepareCall saves what a call may destroy. Caller-saved registers are
// emptied, storing occupants that are still needed after the call. Globals
// are written back and dropped from every register because the callee may
// read or change them.
func (a *Allocator) PrepareCall() {
	a.require(Emitting)

	for r := range a.regs {
		if !a.occupied[r] {
			continue
		}

		v := a.desc[a.occupant[r]].Value

		switch {
		case v.Kind == isx.Global:
			a.Spill(r)
		case a.regs[r].CallerSaved:
			if a.Sched.LiveAfter(a.pos, v) {
				a.Spill(r)
			} else {
				a.unbind(r)
			}
		}
	}
}

// WriteBack stores every dirty value in live and drops values that are not
// in live. It runs at block exits.
func (a *Allocator) WriteBack(live map[isx.Key]bool) {
	for r := range a.regs {
		if !a.occupied[r] {
			continue
		}

		if live[a.occupant[r]] {
			a.Flush(r)
		} else {
			a.unbind(r)
		}
	}
}

// Snapshot captures the current bindings. It is taken after WriteBack, so
// every binding is clean.
func (a *Allocator) Snapshot() State {
	s := make(State)

	for r := range a.regs {
		if a.occupied[r] {
			s[a.occupant[r]] = r
		}
	}

	return s
}

// Reset replaces the bindings with state, whose values must all be clean in
// memory.
func (a *Allocator) Reset(state State) {
	for r := range a.regs {
		if a.occupied[r] {
			a.unbind(r)
		}
	}

	for k, r := range state {
		d := a.desc[k]
		if d == nil {
			d = &Descriptor{Value: a.Sched.Value(k), Reg: -1}
			a.desc[k] = d
		}

		d.Dirty = false
		a.bind(r, d)
	}
}

// Meet intersects the exit states of the known predecessors of a block,
// keeping only values live on entry.
func Meet(states []State, liveIn map[isx.Key]bool) State {
	out := make(State)
	if len(states) == 0 {
		return out
	}

	for k, r := range states[0] {
		if !liveIn[k] {
			continue
		}

		agree := true
		for _, s := range states[1:] {
			if sr, ok := s[k]; !ok || sr != r {
				agree = false
				break
			}
		}

		if agree {
			out[k] = r
		}
	}

	return out
}

// Missing lists, by register index, the bindings of want that the current
// state lacks.
func (a *Allocator) Missing(want State) []Binding {
	var out []Binding

	for k, r := range want {
		if a.occupied[r] && a.occupant[r] == k {
			continue
		}

		out = append(out, Binding{Reg: r, Value: a.Sched.Value(k)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Reg < out[j].Reg })

	return out
}

// Binding is a value held in a register.
type Binding struct {
	Reg   int
	Value isx.Addr
}

// Bindings returns the current bindings in register order.
func (a *Allocator) Bindings() []Binding {
	var out []Binding

	for r := range a.regs {
		if a.occupied[r] {
			out = append(out, Binding{Reg: r, Value: a.desc[a.occupant[r]].Value})
		}
	}

	return out
}

func (a *Allocator) bind(reg int, d *Descriptor) {
	a.occupant[reg] = d.Value.Key()
	a.occupied[reg] = true
	d.Reg = reg
}

func (a *Allocator) unbind(reg int) {
	if !a.occupied[reg] {
		return
	}

	if d := a.desc[a.occupant[reg]]; d != nil && d.Reg == reg {
		d.Reg = -1
		d.Dirty = false
	}

	a.occupied[reg] = false
}

func (a *Allocator) names(regs []int) string {
	parts := make([]string, len(regs))
	for i, r := range regs {
		parts[i] = a.regs[r].Name
	}

	return "{" + strings.Join(parts, ", ") + "}"
}

func sorted(regs []int) []int {
	if sort.IntsAreSorted(regs) {
		return regs
	}

	out := append([]int(nil), regs...)
	sort.Ints(out)

	return out
}

func contains(regs []int, r int) bool {
	for _, x := range regs {
		if x == r {
			return true
		}
	}

	return false
}
