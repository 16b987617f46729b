package predicate

import "errors"

var (
	// ErrSyntax indicates the predicate expression could not be parsed
	ErrSyntax = errors.New("predicate syntax error")
)
