package parser

import (
	"github.com/paraflow-lang/paraflow/internal/ast"
	"github.com/paraflow-lang/paraflow/internal/lexer"
)

var assignOps = map[lexer.TokenType]ast.Op{
	lexer.TokenAssign:      ast.OpNone,
	lexer.TokenPlusAssign:  ast.OpAdd,
	lexer.TokenMinusAssign: ast.OpSub,
	lexer.TokenMulAssign:   ast.OpMul,
	lexer.TokenDivAssign:   ast.OpDiv,
	lexer.TokenModAssign:   ast.OpMod,
}

func (p *Parser) statement() ast.Stmt {
	tok := p.peek()

	switch tok.Type {
	case lexer.TokenLBrace:
		return p.block()
	case lexer.TokenIf:
		return p.ifStmt()
	case lexer.TokenWhile:
		p.advance()
		w := &ast.While{Cond: p.expression()}
		w.Body = p.body()
		w.Span = p.span(tok.Span.Start)

		return w
	case lexer.TokenFor:
		return p.forStmt()
	case lexer.TokenBreak:
		p.advance()
		p.expect(lexer.TokenSemicolon)

		return &ast.Break{Span: p.span(tok.Span.Start)}
	case lexer.TokenContinue:
		p.advance()
		p.expect(lexer.TokenSemicolon)

		return &ast.Continue{Span: p.span(tok.Span.Start)}
	case lexer.TokenReturn:
		p.advance()
		p.expect(lexer.TokenSemicolon)

		return &ast.Return{Span: p.span(tok.Span.Start)}
	case lexer.TokenClass, lexer.TokenTo, lexer.TokenFlow:
		p.fail(tok, "declaration of %s is only allowed at file or class level", describe(tok))
	}

	if p.startsVarDecl() {
		return p.varDecl()
	}

	s := p.simpleStmt()
	p.expect(lexer.TokenSemicolon)

	return s
}

// simpleStmt parses an assignment or an expression statement without the
// trailing semicolon.
func (p *Parser) simpleStmt() ast.Stmt {
	start := p.peek().Span.Start
	x := p.expression()

	if op, ok := assignOps[p.peek().Type]; ok {
		p.advance()

		targets := []ast.Expr{x}
		if t, ok := x.(*ast.Tuple); ok {
			if op != ast.OpNone {
				p.fail(p.tokens[p.current-1], "compound assignment to a tuple")
			}
			targets = t.Elems
		}

		value := p.expression()

		return &ast.Assign{Targets: targets, Op: op, Value: value, Span: p.span(start)}
	}

	return &ast.ExprStmt{X: x, Span: p.span(start)}
}

func (p *Parser) block() *ast.Block {
	start := p.expect(lexer.TokenLBrace).Span.Start
	b := &ast.Block{}

	for !p.at(lexer.TokenRBrace) && !p.at(lexer.TokenEOF) {
		b.Stmts = append(b.Stmts, p.statement())
	}

	p.expect(lexer.TokenRBrace)
	b.Span = p.span(start)

	return b
}

// body parses a loop or branch body. A single statement is wrapped in a
// block so that every body has its own scope.
func (p *Parser) body() *ast.Block {
	if p.at(lexer.TokenLBrace) {
		return p.block()
	}

	start := p.peek().Span.Start
	s := p.statement()

	return &ast.Block{Stmts: []ast.Stmt{s}, Span: p.span(start)}
}

func (p *Parser) ifStmt() *ast.If {
	start := p.expect(lexer.TokenIf).Span.Start
	s := &ast.If{Cond: p.expression()}
	s.Then = p.body()

	if p.accept(lexer.TokenElse) {
		if p.at(lexer.TokenIf) {
			s.Else = p.ifStmt()
		} else {
			s.Else = p.body()
		}
	}

	s.Span = p.span(start)

	return s
}

func (p *Parser) forStmt() *ast.For {
	start := p.expect(lexer.TokenFor).Span.Start
	f := &ast.For{}

	p.expect(lexer.TokenLParen)

	if !p.at(lexer.TokenSemicolon) {
		if p.startsVarDecl() {
			f.Init = p.varDecl()
		} else {
			f.Init = p.simpleStmt()
			p.expect(lexer.TokenSemicolon)
		}
	} else {
		p.advance()
	}

	if !p.at(lexer.TokenSemicolon) {
		f.Cond = p.expression()
	}
	p.expect(lexer.TokenSemicolon)

	if !p.at(lexer.TokenRParen) {
		f.Post = p.simpleStmt()
	}
	p.expect(lexer.TokenRParen)

	f.Body = p.body()
	f.Span = p.span(start)

	return f
}
