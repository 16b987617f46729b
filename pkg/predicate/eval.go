package predicate

import (
	"strconv"
	"strings"
)

type binaryExpr struct {
	op    string // "and" | "or"
	left  Expr
	right Expr
}

func (e *binaryExpr) Eval(src Source) bool {
	if e.op == "and" {
		return e.left.Eval(src) && e.right.Eval(src)
	}
	return e.left.Eval(src) || e.right.Eval(src)
}

func (e *binaryExpr) String() string {
	return "(" + e.left.String() + " " + e.op + " " + e.right.String() + ")"
}

type comparisonExpr struct {
	op    TokenType
	left  operand
	right operand
}

func (e *comparisonExpr) Eval(src Source) bool {
	left, ok := e.left.resolve(src)
	if !ok {
		return false
	}
	right, ok := e.right.resolve(src)
	if !ok {
		return false
	}

	switch e.op {
	case TokenContains:
		return strings.Contains(left, right)
	case TokenStartsWith:
		return strings.HasPrefix(left, right)
	case TokenEndsWith:
		return strings.HasSuffix(left, right)
	}

	// Ordering comparisons are numeric when both sides parse as numbers,
	// lexicographic otherwise.
	lf, lerr := strconv.ParseFloat(left, 64)
	rf, rerr := strconv.ParseFloat(right, 64)
	if lerr == nil && rerr == nil {
		switch e.op {
		case TokenEquals:
			return lf == rf
		case TokenNotEquals:
			return lf != rf
		case TokenLessThan:
			return lf < rf
		case TokenLessEquals:
			return lf <= rf
		case TokenGreaterThan:
			return lf > rf
		case TokenGreaterEquals:
			return lf >= rf
		}
		return false
	}

	switch e.op {
	case TokenEquals:
		return left == right
	case TokenNotEquals:
		return left != right
	case TokenLessThan:
		return left < right
	case TokenLessEquals:
		return left <= right
	case TokenGreaterThan:
		return left > right
	case TokenGreaterEquals:
		return left >= right
	}
	return false
}

func (e *comparisonExpr) String() string {
	var op string
	switch e.op {
	case TokenEquals:
		op = "="
	case TokenNotEquals:
		op = "!="
	case TokenLessThan:
		op = "<"
	case TokenLessEquals:
		op = "<="
	case TokenGreaterThan:
		op = ">"
	case TokenGreaterEquals:
		op = ">="
	case TokenContains:
		op = "contains"
	case TokenStartsWith:
		op = "starts_with"
	case TokenEndsWith:
		op = "ends_with"
	}
	return e.left.String() + " " + op + " " + e.right.String()
}

// MatchString parses and evaluates a predicate in one step. A parse error
// evaluates to false.
func MatchString(input string, src Source) bool {
	expr, err := Parse(input)
	if err != nil {
		return false
	}
	return expr.Eval(src)
}
