// Package resolver builds the definition graph of a translation unit: it
// declares every type and symbol, checks the program against the type model
// and annotates the syntax tree with types and Defs.
package resolver

import (
	"fmt"

	"github.com/paraflow-lang/paraflow/internal/ast"
	"github.com/paraflow-lang/paraflow/internal/builtins"
	"github.com/paraflow-lang/paraflow/internal/parser"
	"github.com/paraflow-lang/paraflow/internal/position"
	"github.com/paraflow-lang/paraflow/internal/types"
)

// Universe is the root scope seeded with scalar types and the built-in
// declarations. A Universe backs exactly one translation unit because
// resolution adds the unit's types to its registry.
type Universe struct {
	Registry *types.Registry
	Scope    *ast.Scope
	Provider *builtins.Provider
	// StringClass is the class that members of string values resolve against.
	StringClass types.TypeID

	classes map[types.TypeID]*ast.Def
}

// NewUniverse creates the root scope and parses the built-in text into it.
func NewUniverse(reg *types.Registry, provider *builtins.Provider) (*Universe, error) {
	u := &Universe{
		Registry: reg,
		Scope:    ast.NewScope(ast.UniverseScope, nil, nil),
		Provider: provider,
		classes:  make(map[types.TypeID]*ast.Def),
	}

	for _, k := range types.ScalarKinds {
		if err := u.Scope.BindType(position.Position{}, k.String(), reg.Scalar(k)); err != nil {
			return nil, err
		}
	}

	sources := []struct{ name, text string }{
		{"<builtin>", provider.BuiltinCode()},
		{"<string>", provider.StringDef()},
	}

	var files []*ast.File

	for _, src := range sources {
		f, err := parser.ParseFile(src.text, src.name)
		if err != nil {
			return nil, fmt.Errorf("built-in declarations: %w", err)
		}

		files = append(files, f)
	}

	r := newResolver(u, u.Scope, true)
	if err := r.declare(files...); err != nil {
		return nil, fmt.Errorf("built-in declarations: %w", err)
	}

	id, err := u.Scope.ResolveType(position.Position{}, provider.StringClass())
	if err != nil {
		return nil, err
	}

	u.StringClass = id

	return u, nil
}

// ClassDef returns the Def that declares a class type.
func (u *Universe) ClassDef(id types.TypeID) *ast.Def {
	return u.classes[id]
}
