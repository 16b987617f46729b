package predicate

import (
	"fmt"
	"strconv"
)

// Expr is a parsed predicate expression that can be evaluated against a
// discovery source (an advertisement's fields and metadata).
type Expr interface {
	Eval(src Source) bool
	String() string
}

// Source exposes the fields a predicate can reference. Field returns the
// value of a named field (built-in or metadata) and whether it exists.
// MetadataCount returns the number of metadata entries, for count().
type Source interface {
	Field(name string) (string, bool)
	MetadataCount() int
}

// Parse parses a predicate expression string.
func Parse(input string) (Expr, error) {
	p := &parser{lexer: NewLexer(input)}
	p.advance()
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.current.Type != TokenEOF {
		return nil, fmt.Errorf("%w: unexpected %q at position %d", ErrSyntax, p.current.Value, p.current.Pos)
	}
	return expr, nil
}

type parser struct {
	lexer   *Lexer
	current Token
}

func (p *parser) advance() {
	p.current = p.lexer.Next()
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.current.Type == TokenOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.current.Type == TokenAnd {
		p.advance()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseTerm() (Expr, error) {
	if p.current.Type == TokenLeftParen {
		p.advance()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.current.Type != TokenRightParen {
			return nil, fmt.Errorf("%w: expected ')' at position %d", ErrSyntax, p.current.Pos)
		}
		p.advance()
		return expr, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	op := p.current.Type
	switch op {
	case TokenEquals, TokenNotEquals, TokenLessThan, TokenLessEquals,
		TokenGreaterThan, TokenGreaterEquals, TokenContains, TokenStartsWith, TokenEndsWith:
		p.advance()
	default:
		return nil, fmt.Errorf("%w: expected comparison operator at position %d, got %q",
			ErrSyntax, p.current.Pos, p.current.Value)
	}

	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	return &comparisonExpr{op: op, left: left, right: right}, nil
}

func (p *parser) parseOperand() (operand, error) {
	switch p.current.Type {
	case TokenCount:
		p.advance()
		if p.current.Type != TokenLeftParen {
			return operand{}, fmt.Errorf("%w: expected '(' after count at position %d", ErrSyntax, p.current.Pos)
		}
		p.advance()
		if p.current.Type != TokenIdentifier {
			return operand{}, fmt.Errorf("%w: expected identifier inside count() at position %d", ErrSyntax, p.current.Pos)
		}
		field := p.current.Value
		p.advance()
		if p.current.Type != TokenRightParen {
			return operand{}, fmt.Errorf("%w: expected ')' to close count() at position %d", ErrSyntax, p.current.Pos)
		}
		p.advance()
		return operand{kind: operandCount, field: field}, nil
	case TokenIdentifier:
		op := operand{kind: operandField, field: p.current.Value}
		p.advance()
		return op, nil
	case TokenString:
		op := operand{kind: operandLiteral, literal: p.current.Value}
		p.advance()
		return op, nil
	case TokenNumber:
		op := operand{kind: operandLiteral, literal: p.current.Value, numeric: true}
		p.advance()
		return op, nil
	case TokenError:
		return operand{}, fmt.Errorf("%w: %s", ErrSyntax, p.current.Value)
	}
	return operand{}, fmt.Errorf("%w: unexpected %q at position %d", ErrSyntax, p.current.Value, p.current.Pos)
}

type operandKind int

const (
	operandField operandKind = iota
	operandLiteral
	operandCount
)

type operand struct {
	kind    operandKind
	field   string
	literal string
	numeric bool
}

// resolve returns the operand's value against a source. The bool reports
// whether the value exists (a missing field makes its comparison false).
func (o operand) resolve(src Source) (string, bool) {
	switch o.kind {
	case operandField:
		return src.Field(o.field)
	case operandCount:
		return strconv.Itoa(src.MetadataCount()), true
	default:
		return o.literal, true
	}
}

func (o operand) String() string {
	switch o.kind {
	case operandField:
		return o.field
	case operandCount:
		return "count(" + o.field + ")"
	default:
		if o.numeric {
			return o.literal
		}
		return "'" + o.literal + "'"
	}
}
