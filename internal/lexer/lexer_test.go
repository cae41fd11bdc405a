package lexer

import "testing"

func TestNextToken(t *testing.T) {
	input := `to add(int x, int y) into (int sum) {
	sum = x + y; // add
	/* block
	   comment */ sum <<= 0x1F;
}`

	tests := []struct {
		expectedType    TokenType
		expectedLiteral string
	}{
		{TokenTo, "to"},
		{TokenIdentifier, "add"},
		{TokenLParen, "("},
		{TokenIdentifier, "int"},
		{TokenIdentifier, "x"},
		{TokenComma, ","},
		{TokenIdentifier, "int"},
		{TokenIdentifier, "y"},
		{TokenRParen, ")"},
		{TokenInto, "into"},
		{TokenLParen, "("},
		{TokenIdentifier, "int"},
		{TokenIdentifier, "sum"},
		{TokenRParen, ")"},
		{TokenLBrace, "{"},
		{TokenIdentifier, "sum"},
		{TokenAssign, "="},
		{TokenIdentifier, "x"},
		{TokenPlus, "+"},
		{TokenIdentifier, "y"},
		{TokenSemicolon, ";"},
		{TokenIdentifier, "sum"},
		{TokenShl, "<<"},
		{TokenAssign, "="},
		{TokenInteger, "0x1F"},
		{TokenSemicolon, ";"},
		{TokenRBrace, "}"},
		{TokenEOF, ""},
	}

	l := New(input, "add.pf")

	for i, tt := range tests {
		tok := l.NextToken()
		if tok.Type != tt.expectedType {
			t.Fatalf("tests[%d] - tokentype wrong. expected=%q, got=%q (%q)", i, tt.expectedType, tok.Type, tok.Literal)
		}
		if tok.Literal != tt.expectedLiteral {
			t.Fatalf("tests[%d] - literal wrong. expected=%q, got=%q", i, tt.expectedLiteral, tok.Literal)
		}
	}
}

func TestTokenPositions(t *testing.T) {
	toks := Tokenize("int a;\n  a = 1.5e3;", "p.pf")

	want := []struct {
		typ       TokenType
		line, col int
	}{
		{TokenIdentifier, 1, 1},
		{TokenIdentifier, 1, 5},
		{TokenSemicolon, 1, 6},
		{TokenIdentifier, 2, 3},
		{TokenAssign, 2, 5},
		{TokenFloat, 2, 7},
		{TokenSemicolon, 2, 12},
		{TokenEOF, 2, 13},
	}

	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(toks), len(want), toks)
	}

	for i, w := range want {
		got := toks[i]
		if got.Type != w.typ || got.Span.Start.Line != w.line || got.Span.Start.Column != w.col {
			t.Errorf("token %d = %s at %d:%d, want %s at %d:%d",
				i, got.Type, got.Span.Start.Line, got.Span.Start.Column, w.typ, w.line, w.col)
		}
	}
}

func TestLexErrors(t *testing.T) {
	tests := []string{
		`"unterminated`,
		`/* never closed`,
		`a @ b`,
	}

	for _, input := range tests {
		toks := Tokenize(input, "")
		last := toks[len(toks)-2]
		if last.Type != TokenError {
			t.Errorf("%q: expected an error token, got %v", input, toks)
		}
	}
}
