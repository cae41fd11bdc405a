package regalloc

import (
	"fmt"
	"strings"
	"testing"

	"github.com/paraflow-lang/paraflow/internal/isx"
	"github.com/paraflow-lang/paraflow/internal/types"
)

type recorder struct {
	a     *Allocator
	moves []string
}

func (r *recorder) Store(v isx.Addr, reg int) {
	r.a.Slot(v)
	r.moves = append(r.moves, fmt.Sprintf("store %s r%d", v, reg))
}

func (r *recorder) Load(v isx.Addr, reg int) {
	r.moves = append(r.moves, fmt.Sprintf("load %s r%d", v, reg))
}

func (r *recorder) Move(dst, src int, v isx.Addr) {
	r.moves = append(r.moves, fmt.Sprintf("move %s r%d r%d", v, dst, src))
}

type fixture struct {
	reg        *types.Registry
	intT       types.TypeID
	b          *isx.FuncBuilder
	x, y, z, s isx.Addr
	t0, t1, t2 isx.Addr
}

func newFixture() *fixture {
	reg := types.NewRegistry(func(types.Kind) int { return 4 })
	f := &fixture{reg: reg, intT: reg.Scalar(types.Int)}
	f.b = isx.NewFuncBuilder("f", "pf_f", reg)
	f.x = f.b.Input("x", f.intT)
	f.y = f.b.Input("y", f.intT)
	f.z = f.b.Input("z", f.intT)
	f.s = f.b.Output("s", f.intT)
	f.t0 = f.b.Temp(f.intT)
	f.t1 = f.b.Temp(f.intT)
	f.t2 = f.b.Temp(f.intT)

	return f
}

func (f *fixture) one() isx.Addr { return isx.Addr{Kind: isx.Const, Type: f.intT, Int: 1} }

func (f *fixture) emit(op isx.Op, dest, left, right isx.Addr) {
	f.b.Emit(isx.Insn{Op: op, Dest: dest, Left: left, Right: right})
}

func (f *fixture) allocator(t *testing.T, n int) (*Allocator, *recorder) {
	t.Helper()

	fn, err := f.b.Close()
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	regs := make([]Register, n)
	for i := range regs {
		regs[i] = Register{Name: fmt.Sprintf("r%d", i), Class: ClassGPR, CallerSaved: true, Byte: true}
	}

	rec := &recorder{}
	a := New(Analyze(fn), regs, rec, 0, func(isx.Addr) int { return 4 })
	rec.a = a
	a.Advance(Emitting)

	return a, rec
}

func gprs(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}

	return out
}

func TestAnalyzeLoop(t *testing.T) {
	reg := types.NewRegistry(func(types.Kind) int { return 4 })
	intT := reg.Scalar(types.Int)
	b := isx.NewFuncBuilder("loop", "pf_loop", reg)
	n := b.Input("n", intT)
	s := b.Output("s", intT)
	i := b.Local("i", intT)
	top, end := b.NewLabel(), b.NewLabel()

	b.Emit(isx.Insn{Op: isx.Assign, Dest: i, Left: isx.Addr{Kind: isx.Const, Type: intT}}) // 1
	b.Place(top)                                                                          // 2
	b.Emit(isx.Insn{Op: isx.Bge, Left: i, Right: n, Target: end})                         // 3
	b.Emit(isx.Insn{Op: isx.Plus, Dest: i, Left: i, Right: isx.Addr{Kind: isx.Const, Type: intT, Int: 1}})
	b.Emit(isx.Insn{Op: isx.Jump, Target: top}) // 5
	b.Place(end)                                // 6
	b.Emit(isx.Insn{Op: isx.Assign, Dest: s, Left: i})

	fn, err := b.Close()
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	sched := Analyze(fn)

	if len(sched.Blocks) != 4 {
		t.Fatalf("got %d blocks, want 4", len(sched.Blocks))
	}

	wantSuccs := [][]int{{1}, {3, 2}, {1}, nil}
	for bi, want := range wantSuccs {
		got := sched.Blocks[bi].Succs
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Errorf("block %d succs = %v, want %v", bi, got, want)
		}
	}

	if lb, ok := sched.LabelBlock(top.Name); !ok || lb.Index != 1 {
		t.Errorf("label %s opens block %v", top.Name, lb)
	}

	for _, bi := range []int{1, 2, 3} {
		if !sched.Blocks[bi].LiveIn[i.Key()] {
			t.Errorf("i not live into block %d", bi)
		}
	}

	if !sched.Blocks[0].LiveOut[n.Key()] || sched.Blocks[3].LiveIn[n.Key()] {
		t.Errorf("bad liveness for n")
	}

	if sched.Blocks[3].LiveIn[s.Key()] {
		t.Errorf("output s is written before it is read")
	}

	tests := []struct {
		pos  int
		v    isx.Addr
		want int
	}{
		{6, i, 7},
		{4, n, FarUse},
		{7, n, NoUse},
		{2, i, 3},
		{8, s, 8},
		{7, s, NoUse},
		{1, s, NoUse},
	}

	for _, tt := range tests {
		if got := sched.NextUse(tt.pos, tt.v); got != tt.want {
			t.Errorf("NextUse(%d, %s) = %d, want %d", tt.pos, tt.v, got, tt.want)
		}
	}
}

func TestGlobalsNeverDead(t *testing.T) {
	f := newFixture()
	g := isx.Addr{Kind: isx.Global, Type: f.intT, Name: "pfg_g"}
	f.emit(isx.Assign, g, f.x, isx.Addr{})
	f.emit(isx.Assign, g, f.y, isx.Addr{})

	a, _ := f.allocator(t, 2)

	if got := a.Sched.NextUse(2, g); got != FarUse {
		t.Errorf("NextUse of overwritten global = %d, want FarUse", got)
	}

	if got := a.Sched.NextUse(2, f.x); got != NoUse {
		t.Errorf("NextUse of dead input = %d, want NoUse", got)
	}
}

func TestSelectPrefersEmpty(t *testing.T) {
	f := newFixture()
	f.emit(isx.Plus, f.s, f.x, f.y)
	a, rec := f.allocator(t, 3)
	a.At(1)

	if r := a.Select([]int{2, 1, 0}); r != 0 {
		t.Errorf("Select = r%d, want r0", r)
	}

	if len(rec.moves) != 0 {
		t.Errorf("unexpected moves %v", rec.moves)
	}
}

func TestSelectPrefersDeadOccupant(t *testing.T) {
	f := newFixture()
	f.emit(isx.Plus, f.t0, f.x, f.y)  // 1
	f.emit(isx.Plus, f.s, f.t0, f.t0) // 2
	a, rec := f.allocator(t, 2)

	a.At(1)
	a.Ensure(f.x, gprs(2))
	a.Ensure(f.y, gprs(2))
	a.Unpin()
	a.Define(f.t0, a.Select(gprs(2)))

	a.At(2)
	a.Ensure(f.t0, gprs(2))
	r := a.Select(gprs(2))

	if occ, ok := a.Occupant(r); ok {
		t.Fatalf("selected r%d still holds %s", r, occ)
	}

	for _, m := range rec.moves {
		if strings.HasPrefix(m, "store") {
			t.Errorf("dead value was stored: %v", rec.moves)
		}
	}
}

func TestSelectSpillsFurthest(t *testing.T) {
	f := newFixture()
	f.emit(isx.Plus, f.t0, f.x, f.one()) // 1
	f.emit(isx.Plus, f.t1, f.y, f.one()) // 2
	f.emit(isx.Plus, f.s, f.t0, f.t1)    // 3
	a, rec := f.allocator(t, 1)

	a.At(1)
	rx := a.Ensure(f.x, gprs(1))
	a.Unpin()
	a.Define(f.t0, rx)

	a.At(2)
	if r := a.Ensure(f.y, gprs(1)); r != 0 {
		t.Fatalf("y in r%d", r)
	}

	want := []string{"load x r0", "store t0 r0", "load y r0"}
	if strings.Join(rec.moves, "; ") != strings.Join(want, "; ") {
		t.Errorf("moves = %v, want %v", rec.moves, want)
	}

	d, ok := a.Descriptor(f.t0)
	if !ok || d.Reg != -1 || !d.HasSlot || d.Slot != -4 {
		t.Errorf("t0 descriptor = %+v", d)
	}

	if a.FrameSize() != 4 {
		t.Errorf("frame size = %d, want 4", a.FrameSize())
	}
}

func TestSelectTieGoesToLowestIndex(t *testing.T) {
	f := newFixture()
	f.emit(isx.Plus, f.t0, f.x, f.y)     // 1
	f.emit(isx.Plus, f.t1, f.z, f.one()) // 2
	f.emit(isx.Plus, f.t2, f.x, f.y)     // 3
	f.emit(isx.Plus, f.s, f.t1, f.t2)    // 4
	a, _ := f.allocator(t, 2)

	a.At(1)
	a.Ensure(f.x, gprs(2))
	a.Ensure(f.y, gprs(2))
	a.Unpin()

	a.At(2)
	if r := a.Ensure(f.z, gprs(2)); r != 0 {
		t.Errorf("z loaded into r%d, want r0", r)
	}

	if _, ok := a.Resident(f.x); ok {
		t.Errorf("x still resident")
	}

	a.Unpin()
	a.Pin(0)

	if r := a.Select(gprs(2)); r != 1 {
		t.Errorf("Select with r0 pinned = r%d, want r1", r)
	}
}

func TestEnsureMovesBetweenCandidates(t *testing.T) {
	f := newFixture()
	f.emit(isx.Plus, f.s, f.x, f.y)
	a, rec := f.allocator(t, 3)

	a.At(1)
	a.Ensure(f.x, []int{0})
	a.Unpin()

	if r := a.Ensure(f.x, []int{2}); r != 2 {
		t.Fatalf("x in r%d, want r2", r)
	}

	if last := rec.moves[len(rec.moves)-1]; last != "move x r2 r0" {
		t.Errorf("last move = %q", last)
	}

	if _, ok := a.Occupant(0); ok {
		t.Errorf("r0 still occupied")
	}
}

func TestPrepareCall(t *testing.T) {
	f := newFixture()
	g := isx.Addr{Kind: isx.Global, Type: f.intT, Name: "pfg_g"}
	f.emit(isx.Plus, f.t0, f.x, f.y)                 // 1
	f.emit(isx.Assign, g, f.z, isx.Addr{})           // 2
	f.b.Emit(isx.Insn{Op: isx.Call, Callee: "pf_h"}) // 3
	f.emit(isx.Plus, f.s, f.t0, g)                   // 4
	fn, err := f.b.Close()
	if err != nil {
		t.Fatal(err)
	}

	regs := []Register{
		{Name: "eax", CallerSaved: true, Byte: true},
		{Name: "ebx", Byte: true},
		{Name: "ecx", CallerSaved: true, Byte: true},
	}
	rec := &recorder{}
	a := New(Analyze(fn), regs, rec, 0, func(isx.Addr) int { return 4 })
	rec.a = a
	a.Advance(Emitting)

	a.At(1)
	a.Define(f.t0, 0)
	a.At(2)
	a.Define(g, 1)
	a.Define(f.y, 2)

	a.At(3)
	a.PrepareCall()

	if len(a.Bindings()) != 0 {
		t.Errorf("bindings after call preparation: %v", a.Bindings())
	}

	want := []string{"store t0 r0", "store @pfg_g r1"}
	if strings.Join(rec.moves, "; ") != strings.Join(want, "; ") {
		t.Errorf("moves = %v, want %v", rec.moves, want)
	}
}

func TestMeet(t *testing.T) {
	f := newFixture()
	live := map[isx.Key]bool{f.x.Key(): true, f.y.Key(): true}

	got := Meet([]State{
		{f.x.Key(): 0, f.y.Key(): 1, f.z.Key(): 2},
		{f.x.Key(): 0, f.y.Key(): 2, f.z.Key(): 2},
	}, live)

	if len(got) != 1 || got[f.x.Key()] != 0 {
		t.Errorf("Meet = %v", got)
	}

	if len(Meet(nil, live)) != 0 {
		t.Errorf("Meet of no states is not empty")
	}
}

func TestPhasesOnlyMoveForward(t *testing.T) {
	f := newFixture()
	a, _ := f.allocator(t, 1)

	a.Advance(Reconciling)
	a.Advance(Done)

	defer func() {
		if recover() == nil {
			t.Errorf("moving back to emitting did not panic")
		}
	}()

	a.Advance(Emitting)
}
