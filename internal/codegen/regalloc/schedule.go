package regalloc

import (
	"math"
	"sort"

	"github.com/paraflow-lang/paraflow/internal/isx"
)

// Next-use positions that are not instruction indices.
const (
	// NoUse marks a value that is dead at the queried position.
	NoUse = -1
	// FarUse marks a value with no further read in its block that is still
	// live when the block exits.
	FarUse = math.MaxInt32
)

// Block is a maximal straight-line run of ISX instructions.
type Block struct {
	Index int
	// Start and End delimit the instructions [Start, End).
	Start, End int
	// Label is the name of the label that opens the block, if any.
	Label   string
	Succs   []int
	Preds   []int
	LiveIn  map[isx.Key]bool
	LiveOut map[isx.Key]bool
}

type event struct {
	pos   int
	read  bool
	write bool
}

// Schedule is the result of the scanning phase: the control flow graph of one
// function and, for every value, the ordered positions that read or write it.
type Schedule struct {
	Func   *isx.Func
	Blocks []*Block

	blockOf []int
	labels  map[string]int
	events  map[isx.Key][]event
	values  map[isx.Key]isx.Addr
	order   []isx.Key
}

// Analyze scans fn once and builds its schedule.
func Analyze(fn *isx.Func) *Schedule {
	s := &Schedule{
		Func:    fn,
		blockOf: make([]int, len(fn.Insns)),
		labels:  make(map[string]int),
		events:  make(map[isx.Key][]event),
		values:  make(map[isx.Key]isx.Addr),
	}

	s.splitBlocks()
	s.linkBlocks()
	s.scanEvents()
	s.computeLiveness()

	return s
}

func (s *Schedule) splitBlocks() {
	insns := s.Func.Insns
	start := 0

	flush := func(end int) {
		if end <= start {
			return
		}

		b := &Block{Index: len(s.Blocks), Start: start, End: end}
		if insns[start].Op == isx.LabelOp {
			b.Label = insns[start].Target.Name
			s.labels[b.Label] = b.Index
		}

		for i := start; i < end; i++ {
			s.blockOf[i] = b.Index
		}

		s.Blocks = append(s.Blocks, b)
		start = end
	}

	for i, in := range insns {
		if in.Op == isx.LabelOp {
			flush(i)
		}

		if in.Op.IsBranch() {
			flush(i + 1)
		}
	}

	flush(len(insns))
}

func (s *Schedule) linkBlocks() {
	insns := s.Func.Insns

	link := func(from, to int) {
		s.Blocks[from].Succs = append(s.Blocks[from].Succs, to)
		s.Blocks[to].Preds = append(s.Blocks[to].Preds, from)
	}

	for _, b := range s.Blocks {
		last := insns[b.End-1]

		if last.Op.IsBranch() {
			if t, ok := s.labels[last.Target.Name]; ok {
				link(b.Index, t)
			}
		}

		if last.Op != isx.Jump && last.Op != isx.FuncEnd && b.Index+1 < len(s.Blocks) {
			link(b.Index, b.Index+1)
		}
	}
}

func (s *Schedule) note(a isx.Addr, pos int, read, write bool) {
	if !a.HasStorage() {
		return
	}

	k := a.Key()
	if _, ok := s.values[k]; !ok {
		s.values[k] = a
		s.order = append(s.order, k)
	}

	evs := s.events[k]
	if n := len(evs); n > 0 && evs[n-1].pos == pos {
		evs[n-1].read = evs[n-1].read || read
		evs[n-1].write = evs[n-1].write || write

		return
	}

	s.events[k] = append(evs, event{pos: pos, read: read, write: write})
}

func (s *Schedule) scanEvents() {
	for i := range s.Func.Insns {
		in := &s.Func.Insns[i]

		for _, u := range in.Uses() {
			s.note(u, i, true, false)
		}

		for _, d := range in.Defs() {
			s.note(d, i, false, true)
		}

		// The caller reads outputs after the function ends.
		if in.Op == isx.FuncEnd {
			for _, o := range s.Func.Outputs {
				s.note(o, i, true, false)
			}
		}
	}
}

func (s *Schedule) computeLiveness() {
	use := make([]map[isx.Key]bool, len(s.Blocks))
	def := make([]map[isx.Key]bool, len(s.Blocks))

	for _, b := range s.Blocks {
		use[b.Index] = make(map[isx.Key]bool)
		def[b.Index] = make(map[isx.Key]bool)
		b.LiveIn = make(map[isx.Key]bool)
		b.LiveOut = make(map[isx.Key]bool)
	}

	for k, evs := range s.events {
		for _, e := range evs {
			bi := s.blockOf[e.pos]
			if e.read && !def[bi][k] {
				use[bi][k] = true
			}

			if e.write {
				def[bi][k] = true
			}
		}
	}

	for changed := true; changed; {
		changed = false

		for i := len(s.Blocks) - 1; i >= 0; i-- {
			b := s.Blocks[i]

			for _, succ := range b.Succs {
				for k := range s.Blocks[succ].LiveIn {
					if !b.LiveOut[k] {
						b.LiveOut[k] = true
						changed = true
					}
				}
			}

			for k := range use[i] {
				if !b.LiveIn[k] {
					b.LiveIn[k] = true
					changed = true
				}
			}

			for k := range b.LiveOut {
				if !def[i][k] && !b.LiveIn[k] {
					b.LiveIn[k] = true
					changed = true
				}
			}
		}
	}

	// Globals are visible to every callee and to the caller.
	for _, k := range s.order {
		if k.Kind != isx.Global {
			continue
		}

		for _, b := range s.Blocks {
			b.LiveIn[k] = true
			b.LiveOut[k] = true
		}
	}
}

// BlockOf returns the block holding instruction pos.
func (s *Schedule) BlockOf(pos int) *Block { return s.Blocks[s.blockOf[pos]] }

// LabelBlock returns the block opened by the named label.
func (s *Schedule) LabelBlock(name string) (*Block, bool) {
	i, ok := s.labels[name]
	if !ok {
		return nil, false
	}

	return s.Blocks[i], true
}

// Value returns the operand recorded for k.
func (s *Schedule) Value(k isx.Key) isx.Addr { return s.values[k] }

// Values returns every value of the function in order of first appearance.
func (s *Schedule) Values() []isx.Addr {
	out := make([]isx.Addr, len(s.order))
	for i, k := range s.order {
		out[i] = s.values[k]
	}

	return out
}

// NextUse returns the position of the first read of v at or after pos within
// pos's block. A write that comes first makes the value dead. Without any
// further event the result is FarUse if v is live out of the block and NoUse
// otherwise. Globals are never dead.
func (s *Schedule) NextUse(pos int, v isx.Addr) int {
	if !v.HasStorage() {
		return NoUse
	}

	k := v.Key()
	evs := s.events[k]

	if pos >= len(s.blockOf) {
		if k.Kind == isx.Global {
			return FarUse
		}

		return NoUse
	}

	b := s.Blocks[s.blockOf[pos]]
	i := sort.Search(len(evs), func(i int) bool { return evs[i].pos >= pos })

	result := NoUse
	if b.LiveOut[k] {
		result = FarUse
	}

	if i < len(evs) && evs[i].pos < b.End {
		switch {
		case evs[i].read:
			return evs[i].pos
		case evs[i].write:
			result = NoUse
		}
	}

	if result == NoUse && k.Kind == isx.Global {
		return FarUse
	}

	return result
}

// LiveAfter reports whether v may still be read after instruction pos.
func (s *Schedule) LiveAfter(pos int, v isx.Addr) bool {
	if pos+1 < len(s.blockOf) && s.blockOf[pos+1] != s.blockOf[pos] {
		if !v.HasStorage() {
			return false
		}

		return s.BlockOf(pos).LiveOut[v.Key()]
	}

	return s.NextUse(pos+1, v) != NoUse
}
