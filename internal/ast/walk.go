package ast

// Inspect traverses the tree rooted at n in depth-first order, calling f for
// each node. Children are skipped when f returns false.
func Inspect(n Node, f func(Node) bool) {
	if n == nil || !f(n) {
		return
	}

	switch n := n.(type) {
	case *File:
		for _, c := range n.Nodes {
			Inspect(c, f)
		}
	case *ClassDecl:
		for _, m := range n.Members {
			Inspect(m, f)
		}
	case *FuncDecl:
		if n.Body != nil {
			Inspect(n.Body, f)
		}
	case *VarDecl:
		inspectExpr(n.Init, f)
	case *Block:
		for _, s := range n.Stmts {
			Inspect(s, f)
		}
	case *Assign:
		for _, t := range n.Targets {
			Inspect(t, f)
		}
		Inspect(n.Value, f)
	case *ExprStmt:
		Inspect(n.X, f)
	case *If:
		Inspect(n.Cond, f)
		Inspect(n.Then, f)
		if n.Else != nil {
			Inspect(n.Else, f)
		}
	case *While:
		Inspect(n.Cond, f)
		Inspect(n.Body, f)
	case *For:
		if n.Init != nil {
			Inspect(n.Init, f)
		}
		inspectExpr(n.Cond, f)
		if n.Post != nil {
			Inspect(n.Post, f)
		}
		Inspect(n.Body, f)
	case *Binary:
		Inspect(n.X, f)
		Inspect(n.Y, f)
	case *Unary:
		Inspect(n.X, f)
	case *Call:
		Inspect(n.Fun, f)
		for _, a := range n.Args {
			Inspect(a, f)
		}
	case *Member:
		Inspect(n.X, f)
	case *Index:
		Inspect(n.X, f)
		Inspect(n.Index, f)
	case *Tuple:
		for _, e := range n.Elems {
			Inspect(e, f)
		}
	case *Convert:
		Inspect(n.X, f)
	}
}

// inspectExpr guards against typed nil expressions stored in an interface.
func inspectExpr(e Expr, f func(Node) bool) {
	if e != nil {
		Inspect(e, f)
	}
}
