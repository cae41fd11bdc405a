package types

import (
	"fmt"
	"strings"

	"github.com/paraflow-lang/paraflow/internal/errors"
	"github.com/paraflow-lang/paraflow/internal/position"
)

// MaxInheritanceDepth bounds every walk up a parent chain.
const MaxInheritanceDepth = 64

// SizeFunc maps a discriminant to its operand width on the target.
type SizeFunc func(Kind) int

type elemKey struct {
	kind Kind
	elem TypeID
}

// Registry is the arena owning every Type of one translation unit.
// It is mutated only during resolution and is read-only afterwards.
type Registry struct {
	sizeOf   SizeFunc
	types    []*Type
	scalars  map[Kind]TypeID
	interned map[elemKey]TypeID
	laidOut  bool
}

// NewRegistry creates a registry with the scalar types predeclared.
func NewRegistry(sizeOf SizeFunc) *Registry {
	r := &Registry{
		sizeOf:   sizeOf,
		types:    []*Type{nil},
		scalars:  make(map[Kind]TypeID, len(ScalarKinds)),
		interned: make(map[elemKey]TypeID),
	}

	for _, k := range ScalarKinds {
		r.scalars[k] = r.New(k, k.String(), nil)
	}

	return r
}

// Scalar returns the predeclared type of a scalar kind.
func (r *Registry) Scalar(k Kind) TypeID {
	id, ok := r.scalars[k]
	if !ok {
		panic(fmt.Sprintf("types: %s is not a scalar kind", k))
	}

	return id
}

// New appends a type node to the arena and returns its ID.
func (r *Registry) New(kind Kind, name string, payload Payload) TypeID {
	checkPayload(kind, payload)

	id := TypeID(len(r.types))
	t := &Type{ID: id, Kind: kind, Name: name, Payload: payload}

	if kind == Class {
		r.laidOut = false
	} else {
		t.Size = r.sizeOf(kind)
	}

	r.types = append(r.types, t)

	return id
}

// Get returns the node for id, or nil for an invalid id.
func (r *Registry) Get(id TypeID) *Type {
	if id <= Invalid || int(id) >= len(r.types) {
		return nil
	}

	return r.types[id]
}

// Kind returns the discriminant of id.
func (r *Registry) Kind(id TypeID) Kind {
	return r.mustGet(id).Kind
}

// Len returns the number of registered types.
func (r *Registry) Len() int { return len(r.types) - 1 }

func (r *Registry) mustGet(id TypeID) *Type {
	t := r.Get(id)
	if t == nil {
		panic(fmt.Sprintf("types: invalid type id %d", id))
	}

	return t
}

// Collection returns the interned composite of kind over elem.
func (r *Registry) Collection(kind Kind, elem TypeID) TypeID {
	if !kind.IsCollection() {
		panic(fmt.Sprintf("types: %s is not a collection kind", kind))
	}

	key := elemKey{kind, elem}
	if id, ok := r.interned[key]; ok {
		return id
	}

	id := r.New(kind, "", &ElemPayload{Elem: elem})
	r.interned[key] = id

	return id
}

// Func registers an anonymous function type.
func (r *Registry) Func(inputs, outputs []Field) TypeID {
	return r.New(Function, "", &FuncPayload{Inputs: inputs, Outputs: outputs})
}

// AddMember appends a field or method to a class.
func (r *Registry) AddMember(class TypeID, f Field) {
	r.classPayload(class).Members = append(r.classPayload(class).Members, f)
	r.laidOut = false
}

func (r *Registry) classPayload(id TypeID) *ClassPayload {
	p := r.mustGet(id).Class()
	if p == nil {
		panic(fmt.Sprintf("types: %s is not a class", r.String(id)))
	}

	return p
}

// SetParent links class to parent. The parent must be a class and the
// resulting chain must be acyclic; on failure the class keeps no parent.
func (r *Registry) SetParent(pos position.Position, class, parent TypeID) error {
	c := r.mustGet(class)
	p := r.Get(parent)

	if p == nil || p.Kind != Class {
		name := "<invalid>"
		if p != nil {
			name = r.String(parent)
		}

		return errors.InvalidParent(pos, c.Name, name)
	}

	r.classPayload(class).Parent = parent
	r.laidOut = false

	if err := r.CheckAcyclic(pos, class); err != nil {
		r.classPayload(class).Parent = Invalid
		return err
	}

	return nil
}

// CheckAcyclic walks the parent links of class and reports a repetition or a
// chain deeper than MaxInheritanceDepth as cyclic inheritance.
func (r *Registry) CheckAcyclic(pos position.Position, class TypeID) error {
	seen := make(map[TypeID]bool)
	chain := []string{}

	for id, depth := class, 0; id != Invalid; depth++ {
		t := r.mustGet(id)
		chain = append(chain, t.Name)

		if seen[id] || depth > MaxInheritanceDepth {
			return errors.CyclicInheritance(pos, r.mustGet(class).Name, chain)
		}

		seen[id] = true
		id = t.Class().Parent
	}

	return nil
}

// Parent returns the parent of a class, or Invalid.
func (r *Registry) Parent(class TypeID) TypeID {
	if p := r.mustGet(class).Class(); p != nil {
		return p.Parent
	}

	return Invalid
}

// Width is the size of a value slot holding a value of type id. Class
// values are references, so their width is the reference width, not the
// instance size.
func (r *Registry) Width(id TypeID) int {
	return r.sizeOf(r.mustGet(id).Kind)
}

// Layout computes the size of every class. It must run after resolution and
// before any instruction stream is built.
func (r *Registry) Layout() error {
	done := make(map[TypeID]bool)

	var size func(id TypeID, depth int) (int, error)
	size = func(id TypeID, depth int) (int, error) {
		t := r.types[id]
		if done[id] {
			return t.Size, nil
		}

		if depth > MaxInheritanceDepth {
			return 0, errors.CyclicInheritance(position.Position{}, t.Name, []string{t.Name})
		}

		total := 0
		p := t.Class()

		if p.Parent != Invalid {
			n, err := size(p.Parent, depth+1)
			if err != nil {
				return 0, err
			}

			total = n
		}

		for _, f := range p.Members {
			if !f.Method {
				total += r.Width(f.Type)
			}
		}

		t.Size = total
		done[id] = true

		return total, nil
	}

	for _, t := range r.types[1:] {
		if t.Kind != Class {
			continue
		}

		if _, err := size(t.ID, 0); err != nil {
			return err
		}
	}

	r.laidOut = true

	return nil
}

// LaidOut reports whether Layout has run since the last mutation.
func (r *Registry) LaidOut() bool { return r.laidOut }

// Size returns the storage size of id. Class sizes are valid only after Layout.
func (r *Registry) Size(id TypeID) int {
	return r.mustGet(id).Size
}

// Fields returns the storage fields of a class, parent fields first.
func (r *Registry) Fields(class TypeID) []Field {
	var out []Field

	if parent := r.Parent(class); parent != Invalid {
		out = r.Fields(parent)
	}

	for _, f := range r.classPayload(class).Members {
		if !f.Method {
			out = append(out, f)
		}
	}

	return out
}

// FieldOffset returns the byte offset of a storage field within an instance.
func (r *Registry) FieldOffset(class TypeID, name string) (int, Field, bool) {
	off := 0

	for _, f := range r.Fields(class) {
		if f.Name == name {
			return off, f, true
		}

		off += r.Width(f.Type)
	}

	return 0, Field{}, false
}

// Member looks a field or method up through the parent chain and reports the
// class that declares it. Members of a child shadow those of its parents.
func (r *Registry) Member(class TypeID, name string) (Field, TypeID, bool) {
	for id, depth := class, 0; id != Invalid && depth <= MaxInheritanceDepth; depth++ {
		p := r.classPayload(id)

		for _, f := range p.Members {
			if f.Name == name {
				return f, id, true
			}
		}

		id = p.Parent
	}

	return Field{}, Invalid, false
}

// IsSubclass reports whether sub equals base or inherits from it.
func (r *Registry) IsSubclass(sub, base TypeID) bool {
	for id, depth := sub, 0; id != Invalid && depth <= MaxInheritanceDepth; depth++ {
		if id == base {
			return true
		}

		id = r.Parent(id)
	}

	return false
}

// Identical reports structural identity. Named classes are identical only to
// themselves; composites are interned so identity reduces to ID equality,
// except for function types which compare by signature.
func (r *Registry) Identical(a, b TypeID) bool {
	if a == b {
		return true
	}

	ta, tb := r.Get(a), r.Get(b)
	if ta == nil || tb == nil || ta.Kind != tb.Kind || ta.Kind != Function {
		return false
	}

	fa, fb := ta.Func(), tb.Func()

	return r.sameFields(fa.Inputs, fb.Inputs) && r.sameFields(fa.Outputs, fb.Outputs)
}

func (r *Registry) sameFields(a, b []Field) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if !r.Identical(a[i].Type, b[i].Type) {
			return false
		}
	}

	return true
}

// Assignable reports whether a value of src may be stored into dst.
// Numeric kinds convert implicitly; class values may widen to a parent.
func (r *Registry) Assignable(dst, src TypeID) bool {
	if r.Identical(dst, src) {
		return true
	}

	td, ts := r.mustGet(dst), r.mustGet(src)

	switch {
	case td.Kind.IsNumeric() && ts.Kind.IsNumeric():
		return true
	case td.Kind == Class && ts.Kind == Class:
		return r.IsSubclass(src, dst)
	}

	return false
}

// String renders a type the way it is written in source.
func (r *Registry) String(id TypeID) string {
	t := r.Get(id)
	if t == nil {
		return "<invalid>"
	}

	if t.Name != "" {
		return t.Name
	}

	switch p := t.Payload.(type) {
	case *ElemPayload:
		return t.Kind.String() + " of " + r.String(p.Elem)
	case *FuncPayload:
		var b strings.Builder

		b.WriteString("(")
		r.writeFields(&b, p.Inputs)
		b.WriteString(")")

		if len(p.Outputs) > 0 {
			b.WriteString(" into (")
			r.writeFields(&b, p.Outputs)
			b.WriteString(")")
		}

		return b.String()
	}

	return t.Kind.String()
}

func (r *Registry) writeFields(b *strings.Builder, fields []Field) {
	for i, f := range fields {
		if i > 0 {
			b.WriteString(", ")
		}

		b.WriteString(r.String(f.Type))

		if f.Name != "" {
			b.WriteString(" ")
			b.WriteString(f.Name)
		}
	}
}
