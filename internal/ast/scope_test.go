package ast

import (
	stderrors "errors"
	"testing"

	"github.com/paraflow-lang/paraflow/internal/errors"
	"github.com/paraflow-lang/paraflow/internal/position"
	"github.com/paraflow-lang/paraflow/internal/types"
)

func newRegistry() *types.Registry {
	return types.NewRegistry(func(types.Kind) int { return 4 })
}

func TestDefineTypeShadowing(t *testing.T) {
	reg := newRegistry()
	root := NewScope(UniverseScope, nil, nil)
	child := NewScope(BlockScope, root, nil)
	pos := position.Position{Line: 1, Column: 1}

	outer, err := root.DefineType(reg, pos, "point", types.Class, &types.ClassPayload{})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := root.DefineType(reg, pos, "point", types.Class, &types.ClassPayload{}); !stderrors.Is(err, errors.ErrDuplicateType) {
		t.Fatalf("redefinition in the same scope: got %v", err)
	}

	inner, err := child.DefineType(reg, pos, "point", types.Class, &types.ClassPayload{})
	if err != nil {
		t.Fatalf("shadowing in a child scope: %v", err)
	}

	if got, _ := child.ResolveType(pos, "point"); got != inner {
		t.Errorf("child resolves to %d, want %d", got, inner)
	}

	if got, _ := root.ResolveType(pos, "point"); got != outer {
		t.Errorf("root resolves to %d, want %d", got, outer)
	}

	if _, err := child.ResolveType(pos, "missing"); !stderrors.Is(err, errors.ErrUnknownType) {
		t.Errorf("unknown type: got %v", err)
	}
}

func TestDefineSymbol(t *testing.T) {
	root := NewScope(FileScope, nil, nil)
	fn := &Def{Name: "f", Kind: DefFunc}
	body := NewScope(FuncScope, root, fn)

	a := &Def{Name: "a", Kind: DefVar}
	b := &Def{Name: "b", Kind: DefVar}

	for _, d := range []*Def{a, b} {
		if err := body.DefineSymbol(d); err != nil {
			t.Fatal(err)
		}
	}

	if err := body.DefineSymbol(&Def{Name: "a"}); !stderrors.Is(err, errors.ErrDuplicateSymbol) {
		t.Fatalf("duplicate: got %v", err)
	}

	if len(body.Defs) != 2 || body.Defs[0] != a || body.Defs[1] != b {
		t.Fatalf("Defs not kept in declaration order: %v", body.Defs)
	}

	if err := root.DefineSymbol(fn); err != nil {
		t.Fatal(err)
	}

	inner := NewScope(BlockScope, body, nil)
	if d, err := inner.Lookup(position.Position{}, "f"); err != nil || d != fn {
		t.Errorf("Lookup(f) = %v, %v", d, err)
	}

	if inner.Func() != fn {
		t.Errorf("Func() did not find the enclosing function")
	}

	if _, err := inner.Lookup(position.Position{}, "nope"); !stderrors.Is(err, errors.ErrUnknownSymbol) {
		t.Errorf("unknown symbol: got %v", err)
	}
}
