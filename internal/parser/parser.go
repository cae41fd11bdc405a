// Package parser implements a recursive descent parser for the paraFlow
// declaration and statement subset. Built-in declarations and user programs
// are parsed by the same grammar.
package parser

import (
	"strconv"

	"go.uber.org/multierr"

	"github.com/paraflow-lang/paraflow/internal/ast"
	"github.com/paraflow-lang/paraflow/internal/errors"
	"github.com/paraflow-lang/paraflow/internal/lexer"
	"github.com/paraflow-lang/paraflow/internal/position"
	"github.com/paraflow-lang/paraflow/internal/types"
)

// bailout unwinds the parser to the enclosing top-level declaration.
type bailout struct{}

// Parser holds the token stream of one file.
type Parser struct {
	filename string
	tokens   []lexer.Token
	current  int
	errs     error
}

// New creates a parser over src.
func New(src, filename string) *Parser {
	return &Parser{filename: filename, tokens: lexer.Tokenize(src, filename)}
}

// ParseFile parses a whole file. A syntax error abandons the current
// top-level declaration; parsing resumes at the next one and all errors are
// returned together.
func ParseFile(src, filename string) (*ast.File, error) {
	return New(src, filename).Parse()
}

// Parse runs the parser to the end of input.
func (p *Parser) Parse() (*ast.File, error) {
	file := &ast.File{Name: p.filename}
	start := p.peek().Span.Start

	for !p.at(lexer.TokenEOF) {
		if n := p.topLevel(); n != nil {
			file.Nodes = append(file.Nodes, n)
		}
	}

	file.Span = position.Span{Start: start, End: p.peek().Span.End}

	return file, p.errs
}

func (p *Parser) topLevel() (n ast.Node) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(bailout); !ok {
				panic(r)
			}
			p.synchronize()
			n = nil
		}
	}()

	switch p.peek().Type {
	case lexer.TokenClass:
		return p.classDecl()
	case lexer.TokenTo, lexer.TokenFlow:
		return p.funcDecl()
	default:
		return p.statement()
	}
}

// synchronize skips to just past the next ';' or '}' at brace depth zero,
// or to the next declaration keyword.
func (p *Parser) synchronize() {
	depth := 0

	for !p.at(lexer.TokenEOF) {
		switch p.peek().Type {
		case lexer.TokenLBrace:
			depth++
		case lexer.TokenRBrace:
			depth--
			if depth <= 0 {
				p.advance()
				return
			}
		case lexer.TokenSemicolon:
			if depth == 0 {
				p.advance()
				return
			}
		case lexer.TokenClass, lexer.TokenTo, lexer.TokenFlow:
			if depth == 0 {
				return
			}
		}

		p.advance()
	}
}

// ===== token helpers =====

func (p *Parser) peek() lexer.Token { return p.tokens[p.current] }

func (p *Parser) peekAt(n int) lexer.Token {
	if i := p.current + n; i < len(p.tokens) {
		return p.tokens[i]
	}

	return p.tokens[len(p.tokens)-1]
}

func (p *Parser) at(tt lexer.TokenType) bool { return p.peek().Type == tt }

func (p *Parser) advance() lexer.Token {
	tok := p.peek()
	if tok.Type != lexer.TokenEOF {
		p.current++
	}

	return tok
}

func (p *Parser) accept(tt lexer.TokenType) bool {
	if p.at(tt) {
		p.advance()
		return true
	}

	return false
}

func (p *Parser) expect(tt lexer.TokenType) lexer.Token {
	tok := p.peek()
	if tok.Type != tt {
		p.fail(tok, "expected %s, found %s", tt, describe(tok))
	}

	return p.advance()
}

func (p *Parser) fail(tok lexer.Token, format string, args ...interface{}) {
	if tok.Type == lexer.TokenError {
		p.errs = multierr.Append(p.errs, errors.Syntax(tok.Span.Start, "%s", tok.Literal))
	} else {
		p.errs = multierr.Append(p.errs, errors.Syntax(tok.Span.Start, format, args...))
	}

	panic(bailout{})
}

func describe(tok lexer.Token) string {
	switch tok.Type {
	case lexer.TokenIdentifier, lexer.TokenInteger, lexer.TokenFloat, lexer.TokenString:
		return strconv.Quote(tok.Literal)
	}

	return tok.Type.String()
}

func (p *Parser) span(start position.Position) position.Span {
	prev := p.tokens[max(p.current-1, 0)]
	return position.Span{Start: start, End: prev.Span.End}
}

// ===== declarations =====

func (p *Parser) classDecl() *ast.ClassDecl {
	start := p.expect(lexer.TokenClass).Span.Start
	c := &ast.ClassDecl{Name: p.expect(lexer.TokenIdentifier).Literal}

	if p.accept(lexer.TokenExtends) {
		c.Parent = p.expect(lexer.TokenIdentifier).Literal
	}

	p.expect(lexer.TokenLBrace)

	for !p.at(lexer.TokenRBrace) && !p.at(lexer.TokenEOF) {
		switch p.peek().Type {
		case lexer.TokenTo, lexer.TokenFlow:
			c.Members = append(c.Members, p.funcDecl())
		default:
			c.Members = append(c.Members, p.varDecl())
		}
	}

	p.expect(lexer.TokenRBrace)
	c.Span = p.span(start)

	return c
}

func (p *Parser) funcDecl() *ast.FuncDecl {
	kw := p.advance()
	f := &ast.FuncDecl{Flow: kw.Type == lexer.TokenFlow}
	f.Name = p.expect(lexer.TokenIdentifier).Literal

	p.expect(lexer.TokenLParen)
	if !p.at(lexer.TokenRParen) {
		f.Inputs = p.params()
	}
	p.expect(lexer.TokenRParen)

	if p.accept(lexer.TokenInto) {
		if p.accept(lexer.TokenLParen) {
			f.Outputs = p.params()
			p.expect(lexer.TokenRParen)
		} else {
			f.Outputs = []*ast.Param{p.param()}
		}
	}

	f.Body = p.block()
	f.Span = p.span(kw.Span.Start)

	return f
}

func (p *Parser) params() []*ast.Param {
	ps := []*ast.Param{p.param()}
	for p.accept(lexer.TokenComma) {
		ps = append(ps, p.param())
	}

	return ps
}

func (p *Parser) param() *ast.Param {
	start := p.peek().Span.Start
	tr := p.typeRef()
	name := p.expect(lexer.TokenIdentifier).Literal

	return &ast.Param{Type: tr, Name: name, Span: p.span(start)}
}

var collectionKinds = map[lexer.TokenType]types.Kind{
	lexer.TokenArray: types.Array,
	lexer.TokenList:  types.List,
	lexer.TokenDir:   types.Dir,
	lexer.TokenTree:  types.Tree,
	lexer.TokenPtr:   types.Pointer,
}

func (p *Parser) typeRef() *ast.TypeRef {
	tok := p.peek()

	if kind, ok := collectionKinds[tok.Type]; ok {
		p.advance()
		p.expect(lexer.TokenOf)
		elem := p.typeRef()

		return &ast.TypeRef{Kind: kind, Elem: elem, Span: p.span(tok.Span.Start)}
	}

	p.expect(lexer.TokenIdentifier)

	return &ast.TypeRef{Name: tok.Literal, Span: tok.Span}
}

// startsVarDecl reports whether the upcoming tokens are a type followed by
// a name.
func (p *Parser) startsVarDecl() bool {
	if _, ok := collectionKinds[p.peek().Type]; ok {
		return true
	}

	return p.at(lexer.TokenIdentifier) && p.peekAt(1).Type == lexer.TokenIdentifier
}

func (p *Parser) varDecl() *ast.VarDecl {
	start := p.peek().Span.Start
	v := &ast.VarDecl{TypeRef: p.typeRef()}
	v.Name = p.expect(lexer.TokenIdentifier).Literal

	if p.accept(lexer.TokenAssign) {
		v.Init = p.expression()
	}

	p.expect(lexer.TokenSemicolon)
	v.Span = p.span(start)

	return v
}
