package predicate

import (
	"errors"
	"testing"
)

// mapSource is a test Source backed by a plain map.
type mapSource map[string]string

func (m mapSource) Field(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

func (m mapSource) MetadataCount() int {
	return len(m)
}

func TestParseAndEval(t *testing.T) {
	src := mapSource{
		"session":         "lab-a",
		"name":            "lab-a-control-n1",
		"node_role":       "coordinator",
		"node_uid":        "uid-1",
		"random_roll":     "0.25",
		"node_started_at": "1000.5",
		"channel_count":   "8",
	}

	tests := []struct {
		name  string
		expr  string
		match bool
	}{
		{"equality", "session = 'lab-a'", true},
		{"equality miss", "session = 'lab-b'", false},
		{"not equals", "node_uid != 'uid-2'", true},
		{"role filter", "node_role = 'coordinator'", true},
		{"numeric less", "random_roll < 0.5", true},
		{"numeric less miss", "random_roll < 0.1", false},
		{"numeric less equal boundary", "random_roll <= 0.25", true},
		{"strictly better excludes equal", "random_roll < 0.25", false},
		{"started before", "node_started_at < 2000", true},
		{"prefix", "name starts_with 'lab-a-control'", true},
		{"suffix", "name ends_with 'n1'", true},
		{"contains", "name contains 'control'", true},
		{"and", "session = 'lab-a' and random_roll < 0.5", true},
		{"and short circuit", "session = 'lab-b' and random_roll < 0.5", false},
		{"or", "session = 'lab-b' or node_role = 'coordinator'", true},
		{"parens precedence", "(session = 'lab-b' or session = 'lab-a') and channel_count > 4", true},
		{"and binds tighter than or", "session = 'lab-b' and channel_count > 4 or node_role = 'coordinator'", true},
		{"missing field is false", "no_such_field = 'x'", false},
		{"missing field negation is false", "no_such_field != 'x'", false},
		{"count", "count(metadata) >= 7", true},
		{"count miss", "count(metadata) > 100", false},
		{"numeric greater equal", "channel_count >= 8", true},
		{"double quoted string", `session = "lab-a"`, true},
		{"keyword case insensitive", "session = 'lab-a' AND random_roll < 0.5", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := Parse(tt.expr)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.expr, err)
			}
			if got := expr.Eval(src); got != tt.match {
				t.Errorf("Eval(%q) = %v, want %v", tt.expr, got, tt.match)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"empty", ""},
		{"dangling operator", "session ="},
		{"missing operator", "session 'lab-a'"},
		{"unterminated string", "session = 'lab-a"},
		{"unbalanced paren", "(session = 'lab-a'"},
		{"trailing garbage", "session = 'lab-a' session"},
		{"bad count", "count metadata > 1"},
		{"lone and", "and"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.expr)
			if err == nil {
				t.Errorf("Parse(%q) succeeded, want error", tt.expr)
			}
			if err != nil && !errors.Is(err, ErrSyntax) {
				t.Errorf("Parse(%q) error = %v, want ErrSyntax", tt.expr, err)
			}
		})
	}
}

func TestBuilders(t *testing.T) {
	src := mapSource{
		"session":     "lab-a",
		"node_role":   "participant",
		"random_roll": "0.75",
		"name":        "lab-a-data-eeg-n2",
	}

	filter := And(
		FieldEquals("session", "lab-a"),
		FieldLess("random_roll", 0.8),
		NamePrefix("lab-a-data"),
	)
	expr, err := Parse(filter)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", filter, err)
	}
	if !expr.Eval(src) {
		t.Errorf("built filter %q did not match", filter)
	}

	// Quoting must survive hostile values.
	hostile := FieldEquals("session", "x' or name != '")
	if _, err := Parse(hostile); err != nil {
		t.Errorf("Parse(%q) failed: %v", hostile, err)
	}
	if MatchString(hostile, src) {
		t.Errorf("hostile value matched: %q", hostile)
	}

	or := Or(FieldEquals("node_role", "coordinator"), FieldEquals("node_role", "participant"))
	if !MatchString(or, src) {
		t.Errorf("or filter %q did not match", or)
	}
}

func TestRoundTripString(t *testing.T) {
	input := "(session = 'lab-a') and ((random_roll < 0.5) or (node_role = 'coordinator'))"
	expr, err := Parse(input)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	reparsed, err := Parse(expr.String())
	if err != nil {
		t.Fatalf("Parse of String() output %q failed: %v", expr.String(), err)
	}
	src := mapSource{"session": "lab-a", "random_roll": "0.9", "node_role": "coordinator"}
	if expr.Eval(src) != reparsed.Eval(src) {
		t.Errorf("String() round trip changed evaluation")
	}
}
