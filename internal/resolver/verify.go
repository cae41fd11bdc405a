package resolver

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/paraflow-lang/paraflow/internal/ast"
	"github.com/paraflow-lang/paraflow/internal/types"
)

// Verify checks the structural invariant of a resolved program: every Def
// reachable from the root has a type with a well-defined size, and every
// expression in a function body is typed. A failure here is a resolver
// defect, not a user error.
func Verify(p *Program) error {
	reg := p.Universe.Registry

	var errs error

	if !reg.LaidOut() {
		errs = multierr.Append(errs, fmt.Errorf("type layout has not run"))
	}

	seen := make(map[*ast.Scope]bool)

	var walk func(sc *ast.Scope)
	walk = func(sc *ast.Scope) {
		if sc == nil || seen[sc] {
			return
		}

		seen[sc] = true

		for _, d := range sc.Defs {
			t := reg.Get(d.Type)

			switch {
			case t == nil:
				errs = multierr.Append(errs, fmt.Errorf("%s: %s %s has no type", d.Pos, d.Kind, d.Name))
			case t.Size < 0:
				errs = multierr.Append(errs, fmt.Errorf("%s: %s %s has negative size", d.Pos, d.Kind, d.Name))
			}

			walk(d.Scope)
		}
	}

	walk(p.Universe.Scope)
	walk(p.Scope)

	for _, fn := range p.Funcs {
		walk(fn.Scope)

		ast.Inspect(fn.Decl, func(n ast.Node) bool {
			switch n := n.(type) {
			case *ast.Block:
				walk(n.Scope)
			case *ast.For:
				walk(n.Scope)
			case ast.Expr:
				if n.Type() == types.Invalid {
					errs = multierr.Append(errs, fmt.Errorf("%s: expression %s has no type", n.GetSpan().Start, n))
				}
			}

			return true
		})
	}

	return errs
}
