// Package types defines the paraFlow type vocabulary and the arena that owns
// every type node of a translation unit.
//
// A Type is a tagged node: its Kind selects which Payload it carries. Types are
// referred to by TypeID (an index into the Registry arena), never by pointer
// chains, so a type's registry entry and its use sites share one lifetime.
package types

import "fmt"

// Kind is the discriminant of a type node.
type Kind int

const (
	Byte Kind = iota
	Short
	Int
	Long
	Float
	Double
	String
	Array
	List
	Dir
	Tree
	Pointer
	Class
	Function
)

var kindNames = [...]string{
	Byte:     "byte",
	Short:    "short",
	Int:      "int",
	Long:     "long",
	Float:    "float",
	Double:   "double",
	String:   "string",
	Array:    "array",
	List:     "list",
	Dir:      "dir",
	Tree:     "tree",
	Pointer:  "ptr",
	Class:    "class",
	Function: "function",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsInteger reports whether values of the kind are integers.
func (k Kind) IsInteger() bool { return k >= Byte && k <= Long }

// IsFloat reports whether values of the kind are floating point.
func (k Kind) IsFloat() bool { return k == Float || k == Double }

// IsNumeric reports whether arithmetic applies to the kind.
func (k Kind) IsNumeric() bool { return k.IsInteger() || k.IsFloat() }

// IsCollection reports whether the kind carries an element type.
func (k Kind) IsCollection() bool { return k >= Array && k <= Pointer }

// IsReference reports whether a value of the kind is held as a reference.
func (k Kind) IsReference() bool { return k >= String }

// ScalarKinds are predeclared by every Registry, in this order.
var ScalarKinds = []Kind{Byte, Short, Int, Long, Float, Double, String}

// TypeID indexes a Registry. The zero TypeID is never a valid type.
type TypeID int

// Invalid is the zero TypeID.
const Invalid TypeID = 0

// Field is a named member of a class or a parameter of a function type.
type Field struct {
	Name string
	Type TypeID
	// Method marks class members that are functions; they occupy no storage.
	Method bool
}

// Payload is the kind-specific part of a Type.
type Payload interface{ isPayload() }

// FuncPayload lists a function's inputs and its named outputs.
type FuncPayload struct {
	Inputs  []Field
	Outputs []Field
}

// ClassPayload holds an optional parent and the ordered members.
type ClassPayload struct {
	Parent  TypeID
	Members []Field
}

// ElemPayload is carried by collections and pointers.
type ElemPayload struct {
	Elem TypeID
}

func (*FuncPayload) isPayload()  {}
func (*ClassPayload) isPayload() {}
func (*ElemPayload) isPayload()  {}

// Type is one node of the type graph.
type Type struct {
	ID      TypeID
	Kind    Kind
	Name    string
	Size    int
	Payload Payload
}

// Func returns the function payload, or nil.
func (t *Type) Func() *FuncPayload {
	p, _ := t.Payload.(*FuncPayload)
	return p
}

// Class returns the class payload, or nil.
func (t *Type) Class() *ClassPayload {
	p, _ := t.Payload.(*ClassPayload)
	return p
}

// Elem returns the element type of a collection or pointer, or Invalid.
func (t *Type) Elem() TypeID {
	if p, ok := t.Payload.(*ElemPayload); ok {
		return p.Elem
	}
	return Invalid
}

// checkPayload panics when a payload does not match its discriminant.
func checkPayload(kind Kind, payload Payload) {
	ok := false

	switch kind {
	case Class:
		_, ok = payload.(*ClassPayload)
	case Function:
		_, ok = payload.(*FuncPayload)
	default:
		if kind.IsCollection() {
			_, ok = payload.(*ElemPayload)
		} else {
			ok = payload == nil
		}
	}

	if !ok {
		panic(fmt.Sprintf("types: payload %T does not match kind %s", payload, kind))
	}
}
