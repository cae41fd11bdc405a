package parser

import (
	"strconv"

	"github.com/paraflow-lang/paraflow/internal/ast"
	"github.com/paraflow-lang/paraflow/internal/lexer"
)

type binaryOp struct {
	op   ast.Op
	prec int
}

// binaryOps lists the binary operators with C precedence; higher binds
// tighter.
var binaryOps = map[lexer.TokenType]binaryOp{
	lexer.TokenOr:     {ast.OpOrOr, 1},
	lexer.TokenAnd:    {ast.OpAndAnd, 2},
	lexer.TokenBitOr:  {ast.OpBitOr, 3},
	lexer.TokenBitXor: {ast.OpBitXor, 4},
	lexer.TokenBitAnd: {ast.OpBitAnd, 5},
	lexer.TokenEq:     {ast.OpEq, 6},
	lexer.TokenNe:     {ast.OpNe, 6},
	lexer.TokenLt:     {ast.OpLt, 7},
	lexer.TokenLe:     {ast.OpLe, 7},
	lexer.TokenGt:     {ast.OpGt, 7},
	lexer.TokenGe:     {ast.OpGe, 7},
	lexer.TokenShl:    {ast.OpShl, 8},
	lexer.TokenShr:    {ast.OpShr, 8},
	lexer.TokenPlus:   {ast.OpAdd, 9},
	lexer.TokenMinus:  {ast.OpSub, 9},
	lexer.TokenMul:    {ast.OpMul, 10},
	lexer.TokenDiv:    {ast.OpDiv, 10},
	lexer.TokenMod:    {ast.OpMod, 10},
}

var unaryOps = map[lexer.TokenType]ast.Op{
	lexer.TokenMinus:  ast.OpNeg,
	lexer.TokenNot:    ast.OpNot,
	lexer.TokenBitNot: ast.OpCompl,
}

func (p *Parser) expression() ast.Expr {
	return p.binary(1)
}

// binary is a precedence climbing loop over left-associative operators.
func (p *Parser) binary(minPrec int) ast.Expr {
	x := p.unary()

	for {
		bin, ok := binaryOps[p.peek().Type]
		if !ok || bin.prec < minPrec {
			return x
		}

		p.advance()
		y := p.binary(bin.prec + 1)
		x = &ast.Binary{Op: bin.op, X: x, Y: y, Span: x.GetSpan().Union(y.GetSpan())}
	}
}

func (p *Parser) unary() ast.Expr {
	tok := p.peek()
	if op, ok := unaryOps[tok.Type]; ok {
		p.advance()
		x := p.unary()

		return &ast.Unary{Op: op, X: x, Span: p.span(tok.Span.Start)}
	}

	return p.postfix(p.primary())
}

func (p *Parser) postfix(x ast.Expr) ast.Expr {
	for {
		start := x.GetSpan().Start

		switch p.peek().Type {
		case lexer.TokenLParen:
			p.advance()

			var args []ast.Expr
			if !p.at(lexer.TokenRParen) {
				args = append(args, p.expression())
				for p.accept(lexer.TokenComma) {
					args = append(args, p.expression())
				}
			}

			p.expect(lexer.TokenRParen)
			x = &ast.Call{Fun: x, Args: args, Span: p.span(start)}
		case lexer.TokenDot:
			p.advance()
			name := p.expect(lexer.TokenIdentifier).Literal
			x = &ast.Member{X: x, Name: name, Span: p.span(start)}
		case lexer.TokenLBracket:
			p.advance()
			idx := p.expression()
			p.expect(lexer.TokenRBracket)
			x = &ast.Index{X: x, Index: idx, Span: p.span(start)}
		default:
			return x
		}
	}
}

func (p *Parser) primary() ast.Expr {
	tok := p.advance()

	switch tok.Type {
	case lexer.TokenIdentifier:
		return &ast.Ident{Name: tok.Literal, Span: tok.Span}
	case lexer.TokenInteger:
		v, err := strconv.ParseInt(tok.Literal, 0, 64)
		if err != nil {
			p.fail(tok, "invalid integer literal %s", tok.Literal)
		}

		return &ast.IntLit{Value: v, Span: tok.Span}
	case lexer.TokenFloat:
		v, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			p.fail(tok, "invalid float literal %s", tok.Literal)
		}

		return &ast.FloatLit{Value: v, Span: tok.Span}
	case lexer.TokenString:
		s, err := strconv.Unquote(tok.Literal)
		if err != nil {
			p.fail(tok, "invalid string literal %s", tok.Literal)
		}

		return &ast.StringLit{Value: s, Span: tok.Span}
	case lexer.TokenLParen:
		x := p.expression()
		if !p.at(lexer.TokenComma) {
			p.expect(lexer.TokenRParen)
			return x
		}

		elems := []ast.Expr{x}
		for p.accept(lexer.TokenComma) {
			elems = append(elems, p.expression())
		}

		p.expect(lexer.TokenRParen)

		return &ast.Tuple{Elems: elems, Span: p.span(tok.Span.Start)}
	}

	p.fail(tok, "expected expression, found %s", describe(tok))

	return nil
}
