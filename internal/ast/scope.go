package ast

import (
	"github.com/paraflow-lang/paraflow/internal/errors"
	"github.com/paraflow-lang/paraflow/internal/position"
	"github.com/paraflow-lang/paraflow/internal/types"
)

// DefKind classifies a Def.
type DefKind int

const (
	DefVar DefKind = iota
	DefGlobal
	DefInput
	DefOutput
	DefField
	DefFunc
	DefClass
)

var defKindNames = [...]string{"var", "global", "input", "output", "field", "function", "class"}

func (k DefKind) String() string { return defKindNames[k] }

// Def is one declared entity. Scope is non-nil exactly for functions and
// classes, which own a nested namespace.
type Def struct {
	Name  string
	Kind  DefKind
	Type  types.TypeID
	Init  Expr
	Scope *Scope
	// Owner is the enclosing function or class, nil at file level.
	Owner *Def
	Pos   position.Position
	// Builtin marks declarations that came from the built-in text; their
	// bodies live in the runtime.
	Builtin bool
	// Symbol is the assembler-level name of a function.
	Symbol string
	// Index is the position of an input or output in its signature.
	Index int
	// Decl is the declaring node, if any.
	Decl Node
}

// IsMethod reports whether d is a function declared inside a class.
func (d *Def) IsMethod() bool {
	return d.Kind == DefFunc && d.Owner != nil && d.Owner.Kind == DefClass
}

// ScopeKind tells what introduced a scope.
type ScopeKind int

const (
	UniverseScope ScopeKind = iota
	FileScope
	ClassScope
	FuncScope
	BlockScope
)

// Scope is a pair of symbol tables (types and values) plus the statements of
// the lexical block, chained to its enclosing scope.
type Scope struct {
	Kind   ScopeKind
	Parent *Scope
	// Owner is the function or class Def that owns the scope, if any.
	Owner *Def
	// Defs lists the value declarations in declaration order.
	Defs  []*Def
	Stmts []Stmt

	types  map[string]types.TypeID
	values map[string]*Def
}

// NewScope creates a scope nested in parent.
func NewScope(kind ScopeKind, parent *Scope, owner *Def) *Scope {
	return &Scope{
		Kind:   kind,
		Parent: parent,
		Owner:  owner,
		types:  make(map[string]types.TypeID),
		values: make(map[string]*Def),
	}
}

// DefineType registers a new named type in this scope's type table.
func (s *Scope) DefineType(reg *types.Registry, pos position.Position, name string, kind types.Kind, payload types.Payload) (types.TypeID, error) {
	if _, ok := s.types[name]; ok {
		return types.Invalid, errors.DuplicateType(pos, name)
	}

	id := reg.New(kind, name, payload)
	s.types[name] = id

	return id, nil
}

// BindType makes name refer to an existing type in this scope.
func (s *Scope) BindType(pos position.Position, name string, id types.TypeID) error {
	if _, ok := s.types[name]; ok {
		return errors.DuplicateType(pos, name)
	}

	s.types[name] = id

	return nil
}

// ResolveType looks name up from s outward.
func (s *Scope) ResolveType(pos position.Position, name string) (types.TypeID, error) {
	for sc := s; sc != nil; sc = sc.Parent {
		if id, ok := sc.types[name]; ok {
			return id, nil
		}
	}

	return types.Invalid, errors.UnknownType(pos, name)
}

// DefineSymbol appends def to the scope and indexes it by name.
func (s *Scope) DefineSymbol(def *Def) error {
	if _, ok := s.values[def.Name]; ok {
		return errors.DuplicateSymbol(def.Pos, def.Name)
	}

	s.Defs = append(s.Defs, def)
	s.values[def.Name] = def

	return nil
}

// LookupLocal finds name in this scope only.
func (s *Scope) LookupLocal(name string) *Def {
	return s.values[name]
}

// Lookup finds name from s outward.
func (s *Scope) Lookup(pos position.Position, name string) (*Def, error) {
	for sc := s; sc != nil; sc = sc.Parent {
		if d, ok := sc.values[name]; ok {
			return d, nil
		}
	}

	return nil, errors.UnknownSymbol(pos, name)
}

// Func returns the innermost enclosing function Def, or nil.
func (s *Scope) Func() *Def {
	for sc := s; sc != nil; sc = sc.Parent {
		if sc.Kind == FuncScope {
			return sc.Owner
		}
	}

	return nil
}

// Root returns the outermost scope of the chain.
func (s *Scope) Root() *Scope {
	sc := s
	for sc.Parent != nil {
		sc = sc.Parent
	}

	return sc
}
