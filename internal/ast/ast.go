// Package ast defines the syntax tree of a paraFlow translation unit and the
// definition graph (Def and Scope) that resolution attaches to it.
//
// The parser produces nodes with spans only. The resolver then fills in the
// semantic fields: every expression gets a types.TypeID, every identifier
// its *Def, and every declaration a Def registered in a Scope.
package ast

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paraflow-lang/paraflow/internal/position"
	"github.com/paraflow-lang/paraflow/internal/types"
)

// Node is implemented by every syntax node.
type Node interface {
	GetSpan() position.Span
	String() string
}

// Stmt is a statement node.
type Stmt interface {
	Node
	stmtNode()
}

// Expr is an expression node. Type is valid after resolution.
type Expr interface {
	Node
	exprNode()
	Type() types.TypeID
	SetType(types.TypeID)
}

// Decl is a top-level or class-member declaration.
type Decl interface {
	Node
	declNode()
}

type typed struct {
	T types.TypeID
}

func (t *typed) Type() types.TypeID      { return t.T }
func (t *typed) SetType(id types.TypeID) { t.T = id }

// File is the parser output for one source file.
type File struct {
	Span position.Span
	Name string
	// Nodes holds ClassDecl, FuncDecl, VarDecl and statements in source order.
	Nodes []Node
}

func (f *File) GetSpan() position.Span { return f.Span }
func (f *File) String() string {
	parts := make([]string, len(f.Nodes))
	for i, n := range f.Nodes {
		parts[i] = n.String()
	}

	return strings.Join(parts, "\n")
}

// ===== Types as written =====

// TypeRef is a type as written in source: a name, or a collection keyword
// applied to an element type.
type TypeRef struct {
	Span position.Span
	Name string
	// Kind is a collection kind when Elem is set.
	Kind types.Kind
	Elem *TypeRef
}

func (t *TypeRef) GetSpan() position.Span { return t.Span }
func (t *TypeRef) String() string {
	if t.Elem != nil {
		return t.Kind.String() + " of " + t.Elem.String()
	}

	return t.Name
}

// ===== Declarations =====

// Param is one input or output of a function.
type Param struct {
	Span position.Span
	Type *TypeRef
	Name string
	Def  *Def
}

func (p *Param) GetSpan() position.Span { return p.Span }
func (p *Param) String() string         { return p.Type.String() + " " + p.Name }

// ClassDecl declares a class with an optional parent.
type ClassDecl struct {
	Span    position.Span
	Name    string
	Parent  string
	Members []Decl
	Def     *Def
}

func (c *ClassDecl) GetSpan() position.Span { return c.Span }
func (c *ClassDecl) declNode()              {}
func (c *ClassDecl) String() string {
	s := "class " + c.Name
	if c.Parent != "" {
		s += " extends " + c.Parent
	}

	return s
}

// FuncDecl declares a function. Flow functions have no side effects; the
// distinction is recorded but not enforced.
type FuncDecl struct {
	Span    position.Span
	Flow    bool
	Name    string
	Inputs  []*Param
	Outputs []*Param
	Body    *Block
	Def     *Def
}

func (f *FuncDecl) GetSpan() position.Span { return f.Span }
func (f *FuncDecl) declNode()              {}
func (f *FuncDecl) String() string {
	kw := "to"
	if f.Flow {
		kw = "flow"
	}

	s := fmt.Sprintf("%s %s(%s)", kw, f.Name, joinParams(f.Inputs))
	if len(f.Outputs) > 0 {
		s += " into (" + joinParams(f.Outputs) + ")"
	}

	return s
}

func joinParams(ps []*Param) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.String()
	}

	return strings.Join(parts, ", ")
}

// VarDecl declares a variable, a class field or a global.
type VarDecl struct {
	Span    position.Span
	TypeRef *TypeRef
	Name    string
	Init    Expr
	Def     *Def
}

func (v *VarDecl) GetSpan() position.Span { return v.Span }
func (v *VarDecl) declNode()              {}
func (v *VarDecl) stmtNode()              {}
func (v *VarDecl) String() string {
	s := v.TypeRef.String() + " " + v.Name
	if v.Init != nil {
		s += " = " + v.Init.String()
	}

	return s
}

// ===== Statements =====

// Block is a braced statement list with its own scope.
type Block struct {
	Span  position.Span
	Stmts []Stmt
	Scope *Scope
}

func (b *Block) GetSpan() position.Span { return b.Span }
func (b *Block) stmtNode()              {}
func (b *Block) String() string         { return fmt.Sprintf("{ %d statements }", len(b.Stmts)) }

// Assign stores Value into Targets. Op is OpNone for plain assignment and the
// arithmetic operator for compound forms such as +=. Several targets receive
// the outputs of a multi-output call in order.
type Assign struct {
	Span    position.Span
	Targets []Expr
	Op      Op
	Value   Expr
}

func (a *Assign) GetSpan() position.Span { return a.Span }
func (a *Assign) stmtNode()              {}
func (a *Assign) String() string {
	parts := make([]string, len(a.Targets))
	for i, t := range a.Targets {
		parts[i] = t.String()
	}

	lhs := strings.Join(parts, ", ")
	if len(a.Targets) > 1 {
		lhs = "(" + lhs + ")"
	}

	op := "="
	if a.Op != OpNone {
		op = a.Op.String() + "="
	}

	return fmt.Sprintf("%s %s %s", lhs, op, a.Value)
}

// ExprStmt evaluates an expression for its effects.
type ExprStmt struct {
	Span position.Span
	X    Expr
}

func (e *ExprStmt) GetSpan() position.Span { return e.Span }
func (e *ExprStmt) stmtNode()              {}
func (e *ExprStmt) String() string         { return e.X.String() }

// If is a conditional with an optional else branch (a Block or another If).
type If struct {
	Span position.Span
	Cond Expr
	Then *Block
	Else Stmt
}

func (i *If) GetSpan() position.Span { return i.Span }
func (i *If) stmtNode()              {}
func (i *If) String() string         { return "if (" + i.Cond.String() + ")" }

// While is a top-tested loop.
type While struct {
	Span position.Span
	Cond Expr
	Body *Block
}

func (w *While) GetSpan() position.Span { return w.Span }
func (w *While) stmtNode()              {}
func (w *While) String() string         { return "while (" + w.Cond.String() + ")" }

// For is a C-style loop. Any of Init, Cond and Post may be nil.
type For struct {
	Span  position.Span
	Init  Stmt
	Cond  Expr
	Post  Stmt
	Body  *Block
	Scope *Scope
}

func (f *For) GetSpan() position.Span { return f.Span }
func (f *For) stmtNode()              {}
func (f *For) String() string         { return "for (...)" }

// Break leaves the innermost loop.
type Break struct{ Span position.Span }

func (b *Break) GetSpan() position.Span { return b.Span }
func (b *Break) stmtNode()              {}
func (b *Break) String() string         { return "break" }

// Continue jumps to the next iteration of the innermost loop.
type Continue struct{ Span position.Span }

func (c *Continue) GetSpan() position.Span { return c.Span }
func (c *Continue) stmtNode()              {}
func (c *Continue) String() string         { return "continue" }

// Return leaves the function. Outputs keep whatever was last assigned.
type Return struct{ Span position.Span }

func (r *Return) GetSpan() position.Span { return r.Span }
func (r *Return) stmtNode()              {}
func (r *Return) String() string         { return "return" }

// ===== Expressions =====

// Ident names a variable, parameter, field, function or class.
type Ident struct {
	typed
	Span position.Span
	Name string
	Def  *Def
}

func (i *Ident) GetSpan() position.Span { return i.Span }
func (i *Ident) exprNode()              {}
func (i *Ident) String() string         { return i.Name }

// IntLit is an integer literal.
type IntLit struct {
	typed
	Span  position.Span
	Value int64
}

func (l *IntLit) GetSpan() position.Span { return l.Span }
func (l *IntLit) exprNode()              {}
func (l *IntLit) String() string         { return strconv.FormatInt(l.Value, 10) }

// FloatLit is a floating point literal.
type FloatLit struct {
	typed
	Span  position.Span
	Value float64
}

func (l *FloatLit) GetSpan() position.Span { return l.Span }
func (l *FloatLit) exprNode()              {}
func (l *FloatLit) String() string         { return strconv.FormatFloat(l.Value, 'g', -1, 64) }

// StringLit is a string literal with escapes already decoded.
type StringLit struct {
	typed
	Span  position.Span
	Value string
}

func (l *StringLit) GetSpan() position.Span { return l.Span }
func (l *StringLit) exprNode()              {}
func (l *StringLit) String() string         { return strconv.Quote(l.Value) }

// Binary is a binary operation.
type Binary struct {
	typed
	Span position.Span
	Op   Op
	X, Y Expr
}

func (b *Binary) GetSpan() position.Span { return b.Span }
func (b *Binary) exprNode()              {}
func (b *Binary) String() string {
	return fmt.Sprintf("(%s %s %s)", b.X, b.Op, b.Y)
}

// Unary is a prefix operation.
type Unary struct {
	typed
	Span position.Span
	Op   Op
	X    Expr
}

func (u *Unary) GetSpan() position.Span { return u.Span }
func (u *Unary) exprNode()              {}
func (u *Unary) String() string         { return u.Op.String() + u.X.String() }

// Call invokes a function or a method. After resolution Func is the callee
// and, for method calls, Recv is the receiver passed as the implicit self.
type Call struct {
	typed
	Span position.Span
	Fun  Expr
	Args []Expr
	Func *Def
	Recv Expr
}

func (c *Call) GetSpan() position.Span { return c.Span }
func (c *Call) exprNode()              {}
func (c *Call) String() string {
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		parts[i] = a.String()
	}

	return fmt.Sprintf("%s(%s)", c.Fun, strings.Join(parts, ", "))
}

// Member selects a field or method of X.
type Member struct {
	typed
	Span position.Span
	X    Expr
	Name string
	// Offset is the byte offset of a field within the instance.
	Offset int
	// Method is set when the member is a method; the node is then only
	// valid as the Fun of a Call.
	Method *Def
}

func (m *Member) GetSpan() position.Span { return m.Span }
func (m *Member) exprNode()              {}
func (m *Member) String() string         { return m.X.String() + "." + m.Name }

// Index subscripts a collection.
type Index struct {
	typed
	Span  position.Span
	X     Expr
	Index Expr
}

func (i *Index) GetSpan() position.Span { return i.Span }
func (i *Index) exprNode()              {}
func (i *Index) String() string         { return fmt.Sprintf("%s[%s]", i.X, i.Index) }

// Tuple is a parenthesized list of expressions. It is valid only as the
// target list of an assignment.
type Tuple struct {
	typed
	Span  position.Span
	Elems []Expr
}

func (t *Tuple) GetSpan() position.Span { return t.Span }
func (t *Tuple) exprNode()              {}
func (t *Tuple) String() string {
	parts := make([]string, len(t.Elems))
	for i, e := range t.Elems {
		parts[i] = e.String()
	}

	return "(" + strings.Join(parts, ", ") + ")"
}

// Convert is an implicit numeric conversion inserted by the resolver.
type Convert struct {
	typed
	Span position.Span
	X    Expr
}

func (c *Convert) GetSpan() position.Span { return c.Span }
func (c *Convert) exprNode()              {}
func (c *Convert) String() string         { return fmt.Sprintf("convert(%s)", c.X) }
