package types

import (
	stderrors "errors"
	"testing"

	"github.com/paraflow-lang/paraflow/internal/errors"
	"github.com/paraflow-lang/paraflow/internal/position"
)

func testSize(k Kind) int {
	switch k {
	case Byte:
		return 1
	case Short:
		return 2
	case Long, Double:
		return 8
	default:
		return 4
	}
}

func newClass(r *Registry, name string, fields ...Field) TypeID {
	id := r.New(Class, name, &ClassPayload{})
	for _, f := range fields {
		r.AddMember(id, f)
	}

	return id
}

func TestScalarsPredeclared(t *testing.T) {
	r := NewRegistry(testSize)

	for _, k := range ScalarKinds {
		id := r.Scalar(k)
		if got := r.Kind(id); got != k {
			t.Fatalf("scalar %s has kind %s", k, got)
		}

		if r.String(id) != k.String() {
			t.Errorf("scalar %s renders as %q", k, r.String(id))
		}
	}

	if r.Size(r.Scalar(Long)) != 8 {
		t.Errorf("long size = %d", r.Size(r.Scalar(Long)))
	}
}

func TestCollectionInterned(t *testing.T) {
	r := NewRegistry(testSize)
	a := r.Collection(Array, r.Scalar(Int))
	b := r.Collection(Array, r.Scalar(Int))
	c := r.Collection(List, r.Scalar(Int))

	if a != b {
		t.Fatalf("array of int interned twice: %d, %d", a, b)
	}

	if a == c {
		t.Fatalf("array and list share an id")
	}

	nested := r.Collection(Dir, a)
	if got := r.String(nested); got != "dir of array of int" {
		t.Errorf("String = %q", got)
	}
}

func TestCyclicInheritance(t *testing.T) {
	r := NewRegistry(testSize)
	a := newClass(r, "A")
	b := newClass(r, "B")

	if err := r.SetParent(position.Position{}, a, b); err != nil {
		t.Fatalf("A extends B: %v", err)
	}

	err := r.SetParent(position.Position{}, b, a)
	if !stderrors.Is(err, errors.ErrCyclicInheritance) {
		t.Fatalf("B extends A: got %v, want cyclic inheritance", err)
	}

	if r.Parent(b) != Invalid {
		t.Errorf("rejected parent was kept")
	}

	if err := r.CheckAcyclic(position.Position{}, a); err != nil {
		t.Errorf("A should still be acyclic: %v", err)
	}
}

func TestSelfInheritance(t *testing.T) {
	r := NewRegistry(testSize)
	a := newClass(r, "A")

	if err := r.SetParent(position.Position{}, a, a); !stderrors.Is(err, errors.ErrCyclicInheritance) {
		t.Fatalf("got %v", err)
	}
}

func TestInvalidParent(t *testing.T) {
	r := NewRegistry(testSize)
	a := newClass(r, "A")

	err := r.SetParent(position.Position{}, a, r.Scalar(Int))
	if !stderrors.Is(err, errors.ErrInvalidParent) {
		t.Fatalf("got %v, want invalid parent", err)
	}
}

func TestClassLayout(t *testing.T) {
	r := NewRegistry(testSize)
	base := newClass(r, "shape",
		Field{Name: "x", Type: r.Scalar(Int)},
		Field{Name: "tag", Type: r.Scalar(Byte)},
		Field{Name: "area", Type: r.Func(nil, nil), Method: true},
	)
	child := newClass(r, "circle",
		Field{Name: "r", Type: r.Scalar(Double)},
		Field{Name: "next", Type: base},
	)

	if err := r.SetParent(position.Position{}, child, base); err != nil {
		t.Fatal(err)
	}

	if err := r.Layout(); err != nil {
		t.Fatal(err)
	}

	if got := r.Size(base); got != 5 {
		t.Errorf("shape size = %d, want 5", got)
	}

	if got := r.Size(child); got != 5+8+4 {
		t.Errorf("circle size = %d, want 17", got)
	}

	tests := []struct {
		name string
		off  int
	}{
		{"x", 0},
		{"tag", 4},
		{"r", 5},
		{"next", 13},
	}

	for _, tt := range tests {
		off, _, ok := r.FieldOffset(child, tt.name)
		if !ok || off != tt.off {
			t.Errorf("offset of %s = %d (%v), want %d", tt.name, off, ok, tt.off)
		}
	}

	if _, owner, ok := r.Member(child, "area"); !ok || owner != base {
		t.Errorf("area not found through parent")
	}

	for id := TypeID(1); int(id) <= r.Len(); id++ {
		if r.Size(id) < 0 {
			t.Errorf("%s has negative size", r.String(id))
		}
	}
}

func TestAssignable(t *testing.T) {
	r := NewRegistry(testSize)
	base := newClass(r, "base")
	child := newClass(r, "child")

	if err := r.SetParent(position.Position{}, child, base); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		dst, src TypeID
		want     bool
	}{
		{r.Scalar(Int), r.Scalar(Byte), true},
		{r.Scalar(Double), r.Scalar(Int), true},
		{r.Scalar(String), r.Scalar(Int), false},
		{base, child, true},
		{child, base, false},
		{r.Collection(Array, r.Scalar(Int)), r.Collection(Array, r.Scalar(Int)), true},
	}

	for _, tt := range tests {
		if got := r.Assignable(tt.dst, tt.src); got != tt.want {
			t.Errorf("Assignable(%s, %s) = %v", r.String(tt.dst), r.String(tt.src), got)
		}
	}
}
