package predicate

import (
	"fmt"
	"strings"
	"unicode"
)

// Token represents a lexical token
type Token struct {
	Type   TokenType
	Value  string
	Pos    int
}

// TokenType represents the type of a token
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Keywords
	TokenAnd
	TokenOr
	TokenContains
	TokenStartsWith
	TokenEndsWith
	TokenCount

	// Identifiers and literals
	TokenIdentifier
	TokenString
	TokenNumber

	// Operators
	TokenEquals        // =
	TokenNotEquals     // !=, <>
	TokenLessThan      // <
	TokenGreaterThan   // >
	TokenLessEquals    // <=
	TokenGreaterEquals // >=

	// Delimiters
	TokenLeftParen  // (
	TokenRightParen // )
)

var keywords = map[string]TokenType{
	"AND":         TokenAnd,
	"OR":          TokenOr,
	"CONTAINS":    TokenContains,
	"STARTS_WITH": TokenStartsWith,
	"ENDS_WITH":   TokenEndsWith,
	"COUNT":       TokenCount,
}

// Lexer tokenizes a predicate expression
type Lexer struct {
	input string
	pos   int
}

// NewLexer creates a lexer for the given input
func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

// Next returns the next token from the input
func (l *Lexer) Next() Token {
	l.skipWhitespace()

	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: l.pos}
	}

	start := l.pos
	ch := l.input[l.pos]

	switch {
	case ch == '(':
		l.pos++
		return Token{Type: TokenLeftParen, Value: "(", Pos: start}
	case ch == ')':
		l.pos++
		return Token{Type: TokenRightParen, Value: ")", Pos: start}
	case ch == '=':
		l.pos++
		return Token{Type: TokenEquals, Value: "=", Pos: start}
	case ch == '!':
		if l.peekAt(1) == '=' {
			l.pos += 2
			return Token{Type: TokenNotEquals, Value: "!=", Pos: start}
		}
		return Token{Type: TokenError, Value: fmt.Sprintf("unexpected character %q", ch), Pos: start}
	case ch == '<':
		switch l.peekAt(1) {
		case '=':
			l.pos += 2
			return Token{Type: TokenLessEquals, Value: "<=", Pos: start}
		case '>':
			l.pos += 2
			return Token{Type: TokenNotEquals, Value: "<>", Pos: start}
		}
		l.pos++
		return Token{Type: TokenLessThan, Value: "<", Pos: start}
	case ch == '>':
		if l.peekAt(1) == '=' {
			l.pos += 2
			return Token{Type: TokenGreaterEquals, Value: ">=", Pos: start}
		}
		l.pos++
		return Token{Type: TokenGreaterThan, Value: ">", Pos: start}
	case ch == '\'' || ch == '"':
		return l.lexString(ch)
	case unicode.IsDigit(rune(ch)) || (ch == '-' && unicode.IsDigit(rune(l.peekAt(1)))):
		return l.lexNumber()
	case unicode.IsLetter(rune(ch)) || ch == '_':
		return l.lexIdentifier()
	}

	return Token{Type: TokenError, Value: fmt.Sprintf("unexpected character %q", ch), Pos: start}
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
}

func (l *Lexer) peekAt(offset int) byte {
	if l.pos+offset >= len(l.input) {
		return 0
	}
	return l.input[l.pos+offset]
}

func (l *Lexer) lexString(quote byte) Token {
	start := l.pos
	l.pos++ // opening quote

	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == '\\' && l.peekAt(1) == quote {
			sb.WriteByte(quote)
			l.pos += 2
			continue
		}
		if ch == quote {
			l.pos++
			return Token{Type: TokenString, Value: sb.String(), Pos: start}
		}
		sb.WriteByte(ch)
		l.pos++
	}

	return Token{Type: TokenError, Value: "unterminated string", Pos: start}
}

func (l *Lexer) lexNumber() Token {
	start := l.pos
	if l.input[l.pos] == '-' {
		l.pos++
	}
	seenDot := false
	seenExp := false
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if unicode.IsDigit(rune(ch)) {
			l.pos++
			continue
		}
		if ch == '.' && !seenDot && !seenExp {
			seenDot = true
			l.pos++
			continue
		}
		if (ch == 'e' || ch == 'E') && !seenExp {
			seenExp = true
			l.pos++
			if l.pos < len(l.input) && (l.input[l.pos] == '+' || l.input[l.pos] == '-') {
				l.pos++
			}
			continue
		}
		break
	}
	return Token{Type: TokenNumber, Value: l.input[start:l.pos], Pos: start}
}

func (l *Lexer) lexIdentifier() Token {
	start := l.pos
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if unicode.IsLetter(rune(ch)) || unicode.IsDigit(rune(ch)) || ch == '_' {
			l.pos++
			continue
		}
		break
	}
	value := l.input[start:l.pos]

	if tokType, ok := keywords[strings.ToUpper(value)]; ok {
		return Token{Type: tokType, Value: value, Pos: start}
	}
	return Token{Type: TokenIdentifier, Value: value, Pos: start}
}
