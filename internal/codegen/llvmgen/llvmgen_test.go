package llvmgen

import (
	"testing"

	"github.com/llir/llvm/ir"
	lltypes "github.com/llir/llvm/ir/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paraflow-lang/paraflow/internal/builtins"
	"github.com/paraflow-lang/paraflow/internal/codegen/pentium"
	"github.com/paraflow-lang/paraflow/internal/isx"
	"github.com/paraflow-lang/paraflow/internal/parser"
	"github.com/paraflow-lang/paraflow/internal/resolver"
	"github.com/paraflow-lang/paraflow/internal/types"
)

const program = `
int total;

class cell {
	int v;
	string name;
	double w;
	to bump(int by) into (int now) { v += by; now = v; }
}

to collatz(int n) into (int steps) {
	int m = n;
	while (m != 1) {
		if (m % 2 == 0) { m = m / 2; } else { m = 3 * m + 1; }
		steps += 1;
		if (steps > 1000) { break; }
	}
}

to odds(int n) into (int s) {
	for (int i = 0; i < n; i += 1) {
		if (i % 2 == 0) { continue; }
		s = s + i;
	}
}

to mix(byte b, short h, float f, double d) into (double r, byte c) {
	r = b + h + f + d;
	c = b + 1;
	if (d >= f && !(b < 0)) { r = -r; }
}

to greet(string who) into (string s) { s = "hi " + who; }

total = collatz(27);
print(greet("you"));
`

func lower(t *testing.T, src string) *isx.Module {
	t.Helper()

	f, err := parser.ParseFile(src, "test.pf")
	require.NoError(t, err)

	u, err := resolver.NewUniverse(types.NewRegistry(TypeSize), builtins.New())
	require.NoError(t, err)

	prog, err := resolver.Resolve(f, u)
	require.NoError(t, err)

	mod, err := isx.Build(prog)
	require.NoError(t, err)

	return mod
}

func pointee(t *testing.T, v lltypes.Type) lltypes.Type {
	t.Helper()

	p, ok := v.(*lltypes.PointerType)
	require.True(t, ok, "%s is not a pointer", v)

	return p.ElemType
}

// checkModule verifies the structural rules LLVM imposes on a module: every
// block ends in a terminator whose successors belong to the same function,
// allocas sit in the entry block and operand types agree.
func checkModule(t *testing.T, m *ir.Module) {
	t.Helper()

	for _, f := range m.Funcs {
		if len(f.Blocks) == 0 {
			continue
		}

		own := make(map[*ir.Block]bool)
		for _, b := range f.Blocks {
			own[b] = true
		}

		for i, b := range f.Blocks {
			assert.Same(t, f, b.Parent, "%s: block %d has another parent", f.Name(), i)
			require.NotNil(t, b.Term, "%s: block %d has no terminator", f.Name(), i)

			for _, s := range b.Term.Succs() {
				assert.True(t, own[s], "%s: branch leaves the function", f.Name())
			}

			for _, inst := range b.Insts {
				switch inst := inst.(type) {
				case *ir.InstAlloca:
					assert.Equal(t, 0, i, "%s: alloca outside the entry block", f.Name())
				case *ir.InstStore:
					assert.True(t, pointee(t, inst.Dst.Type()).Equal(inst.Src.Type()),
						"%s: store of %s into %s", f.Name(), inst.Src.Type(), inst.Dst.Type())
				case *ir.InstLoad:
					assert.True(t, pointee(t, inst.Src.Type()).Equal(inst.ElemType),
						"%s: load of %s from %s", f.Name(), inst.ElemType, inst.Src.Type())
				case *ir.InstICmp:
					assert.True(t, inst.X.Type().Equal(inst.Y.Type()), "%s: icmp operands differ", f.Name())
				case *ir.InstFCmp:
					assert.True(t, inst.X.Type().Equal(inst.Y.Type()), "%s: fcmp operands differ", f.Name())
				case *ir.InstCall:
					callee, ok := inst.Callee.(*ir.Func)
					require.True(t, ok)
					require.Len(t, inst.Args, len(callee.Sig.Params), "%s: call of %s", f.Name(), callee.Name())

					for j, a := range inst.Args {
						assert.True(t, callee.Sig.Params[j].Equal(a.Type()),
							"%s: argument %d of %s is %s", f.Name(), j, callee.Name(), a.Type())
					}
				}
			}
		}
	}
}

func find(t *testing.T, m *ir.Module, name string) *ir.Func {
	t.Helper()

	for _, f := range m.Funcs {
		if f.Name() == name {
			return f
		}
	}

	t.Fatalf("no function %s", name)

	return nil
}

func TestGenerateWellFormed(t *testing.T) {
	m, err := Generate(lower(t, program))
	require.NoError(t, err)

	checkModule(t, m)

	for _, name := range []string{"pf_collatz", "pf_odds", "pf_mix", "pf_greet", "pf_cell_bump", "main"} {
		assert.NotEmpty(t, find(t, m, name).Blocks, name)
	}

	assert.Empty(t, find(t, m, "_pf_print").Blocks)
}

func TestLoopsHaveBackEdges(t *testing.T) {
	m, err := Generate(lower(t, program))
	require.NoError(t, err)

	for _, name := range []string{"pf_collatz", "pf_odds"} {
		f := find(t, m, name)

		index := make(map[*ir.Block]int)
		for i, b := range f.Blocks {
			index[b] = i
		}

		back := 0
		for i, b := range f.Blocks {
			for _, s := range b.Term.Succs() {
				if index[s] <= i {
					back++
				}
			}
		}

		assert.NotZero(t, back, "%s has no loop", name)
	}
}

func TestOutputsArePointers(t *testing.T) {
	m, err := Generate(lower(t, program))
	require.NoError(t, err)

	mix := find(t, m, "pf_mix")
	require.Len(t, mix.Params, 6)

	want := []lltypes.Type{
		lltypes.I8, lltypes.I16, lltypes.Float, lltypes.Double,
		lltypes.NewPointer(lltypes.Double), lltypes.NewPointer(lltypes.I8),
	}
	for i, p := range mix.Params {
		assert.True(t, want[i].Equal(p.Type()), "parameter %d is %s, want %s", i, p.Type(), want[i])
	}
}

func TestTypeSize(t *testing.T) {
	for _, k := range types.ScalarKinds {
		if k.IsReference() {
			assert.Equal(t, ReferenceSize, TypeSize(k), "kind %s", k)
			continue
		}

		assert.Equal(t, pentium.TypeSize(k), TypeSize(k), "kind %s", k)
	}

	assert.Equal(t, ReferenceSize, TypeSize(types.Class))
}
