// Package lexer implements the paraFlow lexical analyzer.
package lexer

import (
	"fmt"

	"github.com/paraflow-lang/paraflow/internal/position"
)

// TokenType represents the type of a token
type TokenType int

// String returns a string representation of the token type
func (tt TokenType) String() string {
	if name, ok := tokenNames[tt]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(tt))
}

const (
	TokenEOF TokenType = iota
	TokenError

	// literals
	TokenIdentifier
	TokenInteger
	TokenFloat
	TokenString

	// keywords
	TokenClass
	TokenExtends
	TokenTo
	TokenFlow
	TokenInto
	TokenIf
	TokenElse
	TokenWhile
	TokenFor
	TokenBreak
	TokenContinue
	TokenReturn
	TokenOf
	TokenArray
	TokenList
	TokenDir
	TokenTree
	TokenPtr

	// operators
	TokenPlus
	TokenMinus
	TokenMul
	TokenDiv
	TokenMod
	TokenAssign
	TokenPlusAssign
	TokenMinusAssign
	TokenMulAssign
	TokenDivAssign
	TokenModAssign
	TokenEq
	TokenNe
	TokenLt
	TokenLe
	TokenGt
	TokenGe
	TokenAnd
	TokenOr
	TokenNot
	TokenBitAnd
	TokenBitOr
	TokenBitXor
	TokenBitNot
	TokenShl
	TokenShr

	// punctuation
	TokenLParen
	TokenRParen
	TokenLBrace
	TokenRBrace
	TokenLBracket
	TokenRBracket
	TokenSemicolon
	TokenComma
	TokenDot
)

// Token represents a lexical token with position information
type Token struct {
	Type    TokenType
	Literal string
	Span    position.Span
}

// String returns a string representation of the token
func (t Token) String() string {
	return fmt.Sprintf("{Type: %s, Literal: %q, Pos: %s}", t.Type, t.Literal, t.Span.Start)
}

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenError:      "ERROR",
	TokenIdentifier: "IDENTIFIER",
	TokenInteger:    "INTEGER",
	TokenFloat:      "FLOAT",
	TokenString:     "STRING",

	TokenClass:    "class",
	TokenExtends:  "extends",
	TokenTo:       "to",
	TokenFlow:     "flow",
	TokenInto:     "into",
	TokenIf:       "if",
	TokenElse:     "else",
	TokenWhile:    "while",
	TokenFor:      "for",
	TokenBreak:    "break",
	TokenContinue: "continue",
	TokenReturn:   "return",
	TokenOf:       "of",
	TokenArray:    "array",
	TokenList:     "list",
	TokenDir:      "dir",
	TokenTree:     "tree",
	TokenPtr:      "ptr",

	TokenPlus:        "+",
	TokenMinus:       "-",
	TokenMul:         "*",
	TokenDiv:         "/",
	TokenMod:         "%",
	TokenAssign:      "=",
	TokenPlusAssign:  "+=",
	TokenMinusAssign: "-=",
	TokenMulAssign:   "*=",
	TokenDivAssign:   "/=",
	TokenModAssign:   "%=",
	TokenEq:          "==",
	TokenNe:          "!=",
	TokenLt:          "<",
	TokenLe:          "<=",
	TokenGt:          ">",
	TokenGe:          ">=",
	TokenAnd:         "&&",
	TokenOr:          "||",
	TokenNot:         "!",
	TokenBitAnd:      "&",
	TokenBitOr:       "|",
	TokenBitXor:      "^",
	TokenBitNot:      "~",
	TokenShl:         "<<",
	TokenShr:         ">>",

	TokenLParen:    "(",
	TokenRParen:    ")",
	TokenLBrace:    "{",
	TokenRBrace:    "}",
	TokenLBracket:  "[",
	TokenRBracket:  "]",
	TokenSemicolon: ";",
	TokenComma:     ",",
	TokenDot:       ".",
}

var keywords = map[string]TokenType{
	"class":    TokenClass,
	"extends":  TokenExtends,
	"to":       TokenTo,
	"flow":     TokenFlow,
	"into":     TokenInto,
	"if":       TokenIf,
	"else":     TokenElse,
	"while":    TokenWhile,
	"for":      TokenFor,
	"break":    TokenBreak,
	"continue": TokenContinue,
	"return":   TokenReturn,
	"of":       TokenOf,
	"array":    TokenArray,
	"list":     TokenList,
	"dir":      TokenDir,
	"tree":     TokenTree,
	"ptr":      TokenPtr,
}

// operators maps one- and two-character operator spellings to tokens.
// Two-character forms are tried first.
var operators = map[string]TokenType{
	"+=": TokenPlusAssign, "-=": TokenMinusAssign, "*=": TokenMulAssign,
	"/=": TokenDivAssign, "%=": TokenModAssign, "==": TokenEq, "!=": TokenNe,
	"<=": TokenLe, ">=": TokenGe, "&&": TokenAnd, "||": TokenOr,
	"<<": TokenShl, ">>": TokenShr,

	"+": TokenPlus, "-": TokenMinus, "*": TokenMul, "/": TokenDiv, "%": TokenMod,
	"=": TokenAssign, "<": TokenLt, ">": TokenGt, "!": TokenNot, "&": TokenBitAnd,
	"|": TokenBitOr, "^": TokenBitXor, "~": TokenBitNot, "(": TokenLParen,
	")": TokenRParen, "{": TokenLBrace, "}": TokenRBrace, "[": TokenLBracket,
	"]": TokenRBracket, ";": TokenSemicolon, ",": TokenComma, ".": TokenDot,
}

// Lexer turns source text into tokens
type Lexer struct {
	input        string
	filename     string
	position     int  // current position in input (points to current char)
	readPosition int  // current reading position in input (after current char)
	ch           byte // current char under examination
	line         int
	column       int
}

// New creates a lexer over input; filename is used in positions
func New(input, filename string) *Lexer {
	l := &Lexer{input: input, filename: filename, line: 1}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.column = 0
	}

	if l.readPosition >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPosition]
	}

	l.position = l.readPosition
	l.readPosition++
	l.column++
}

func (l *Lexer) peekChar() byte {
	if l.readPosition >= len(l.input) {
		return 0
	}
	return l.input[l.readPosition]
}

func (l *Lexer) pos() position.Position {
	return position.Position{Filename: l.filename, Line: l.line, Column: l.column, Offset: l.position}
}

func (l *Lexer) atEOF() bool { return l.position >= len(l.input) }

// skipTrivia skips whitespace and comments. An unterminated block comment
// is reported as an error token.
func (l *Lexer) skipTrivia() *Token {
	for !l.atEOF() {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\r' || l.ch == '\n':
			l.readChar()
		case l.ch == '/' && l.peekChar() == '/':
			for !l.atEOF() && l.ch != '\n' {
				l.readChar()
			}
		case l.ch == '/' && l.peekChar() == '*':
			start := l.pos()
			l.readChar()
			l.readChar()

			for !(l.ch == '*' && l.peekChar() == '/') {
				if l.atEOF() {
					tok := Token{Type: TokenError, Literal: "unterminated comment", Span: position.Span{Start: start, End: l.pos()}}
					return &tok
				}
				l.readChar()
			}

			l.readChar()
			l.readChar()
		default:
			return nil
		}
	}

	return nil
}

// NextToken scans the input and returns the next token
func (l *Lexer) NextToken() Token {
	if errTok := l.skipTrivia(); errTok != nil {
		return *errTok
	}

	start := l.pos()
	if l.atEOF() {
		return Token{Type: TokenEOF, Span: position.Span{Start: start, End: start}}
	}

	var tok Token

	switch {
	case isLetter(l.ch) || l.ch == '_':
		tok = l.readIdentifier()
	case isDigit(l.ch):
		tok = l.readNumber()
	case l.ch == '"':
		tok = l.readString()
	default:
		tok = l.readOperator()
	}

	tok.Span = position.Span{Start: start, End: l.pos()}

	return tok
}

func (l *Lexer) readIdentifier() Token {
	start := l.position
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}

	word := l.input[start:l.position]
	if kw, ok := keywords[word]; ok {
		return Token{Type: kw, Literal: word}
	}

	return Token{Type: TokenIdentifier, Literal: word}
}

func (l *Lexer) readNumber() Token {
	start := l.position
	typ := TokenInteger

	if l.ch == '0' && (l.peekChar() == 'x' || l.peekChar() == 'X') {
		l.readChar()
		l.readChar()
		for isHexDigit(l.ch) {
			l.readChar()
		}

		return Token{Type: typ, Literal: l.input[start:l.position]}
	}

	for isDigit(l.ch) {
		l.readChar()
	}

	if l.ch == '.' && isDigit(l.peekChar()) {
		typ = TokenFloat
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}

	if l.ch == 'e' || l.ch == 'E' {
		typ = TokenFloat
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}

	return Token{Type: typ, Literal: l.input[start:l.position]}
}

// readString returns the literal including its quotes; the parser decodes
// escapes.
func (l *Lexer) readString() Token {
	start := l.position
	l.readChar()

	for l.ch != '"' {
		if l.atEOF() || l.ch == '\n' {
			return Token{Type: TokenError, Literal: "unterminated string"}
		}
		if l.ch == '\\' {
			l.readChar()
		}
		l.readChar()
	}

	l.readChar()

	return Token{Type: TokenString, Literal: l.input[start:l.position]}
}

func (l *Lexer) readOperator() Token {
	if l.readPosition < len(l.input) {
		two := l.input[l.position : l.readPosition+1]
		if tt, ok := operators[two]; ok {
			l.readChar()
			l.readChar()
			return Token{Type: tt, Literal: two}
		}
	}

	one := string(l.ch)
	l.readChar()

	if tt, ok := operators[one]; ok {
		return Token{Type: tt, Literal: one}
	}

	return Token{Type: TokenError, Literal: fmt.Sprintf("unexpected character %q", one)}
}

// Tokenize scans the whole input. The result always ends with TokenEOF.
func Tokenize(input, filename string) []Token {
	l := New(input, filename)

	var toks []Token
	for {
		tok := l.NextToken()
		toks = append(toks, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			if tok.Type == TokenError {
				toks = append(toks, Token{Type: TokenEOF, Span: tok.Span})
			}
			return toks
		}
	}
}

func isLetter(ch byte) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z'
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

func isHexDigit(ch byte) bool {
	return isDigit(ch) || 'a' <= ch && ch <= 'f' || 'A' <= ch && ch <= 'F'
}
