package predicate

import (
	"strconv"
	"strings"
)

// Builder helpers assemble the predicate strings the coordination core uses
// during discovery. Values are quoted so metadata containing spaces or
// operators cannot change the expression's shape.

// quote wraps a string value in single quotes, escaping embedded quotes.
func quote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "\\'") + "'"
}

// formatFloat renders a float with enough precision to round-trip.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 17, 64)
}

// FieldEquals builds `field = 'value'`.
func FieldEquals(field, value string) string {
	return field + " = " + quote(value)
}

// FieldNotEquals builds `field != 'value'`.
func FieldNotEquals(field, value string) string {
	return field + " != " + quote(value)
}

// FieldLess builds `field < value` for numeric fields.
func FieldLess(field string, value float64) string {
	return field + " < " + formatFloat(value)
}

// NamePrefix builds `name starts_with 'prefix'`.
func NamePrefix(prefix string) string {
	return "name starts_with " + quote(prefix)
}

// And joins clauses with and, parenthesizing each.
func And(clauses ...string) string {
	wrapped := make([]string, 0, len(clauses))
	for _, c := range clauses {
		if c == "" {
			continue
		}
		wrapped = append(wrapped, "("+c+")")
	}
	return strings.Join(wrapped, " and ")
}

// Or joins clauses with or, parenthesizing each.
func Or(clauses ...string) string {
	wrapped := make([]string, 0, len(clauses))
	for _, c := range clauses {
		if c == "" {
			continue
		}
		wrapped = append(wrapped, "("+c+")")
	}
	return strings.Join(wrapped, " or ")
}
