package storage

import (
	"fmt"
	"slices"
	"strings"
)

// Op is a filter clause operator.
type Op string

const (
	// OpEq matches when the field equals the single value.
	OpEq Op = "eq"
	// OpNe matches when the field is absent or differs from the single value.
	OpNe Op = "ne"
	// OpIn matches when the field equals any of the values.
	OpIn Op = "in"
	// OpExists matches when the field is present and non-empty.
	OpExists Op = "exists"
)

// Clause is a single condition over one metadata field.
type Clause struct {
	Field  string   `json:"field"`
	Op     Op       `json:"op"`
	Values []string `json:"values,omitempty"`
}

// Eq builds an equality clause.
func Eq(field, value string) Clause {
	return Clause{Field: field, Op: OpEq, Values: []string{value}}
}

// Ne builds an inequality clause.
func Ne(field, value string) Clause {
	return Clause{Field: field, Op: OpNe, Values: []string{value}}
}

// In builds a set membership clause.
func In(field string, values ...string) Clause {
	return Clause{Field: field, Op: OpIn, Values: values}
}

// Exists builds a presence clause.
func Exists(field string) Clause {
	return Clause{Field: field, Op: OpExists}
}

// Validate checks the clause is well formed.
func (c Clause) Validate() error {
	if c.Field == "" {
		return fmt.Errorf("%w: clause without field", ErrInvalidFilter)
	}
	switch c.Op {
	case OpEq, OpNe:
		if len(c.Values) != 1 {
			return fmt.Errorf("%w: %s on %q takes exactly one value", ErrInvalidFilter, c.Op, c.Field)
		}
	case OpIn:
		if len(c.Values) == 0 {
			return fmt.Errorf("%w: in on %q needs at least one value", ErrInvalidFilter, c.Field)
		}
	case OpExists:
		if len(c.Values) != 0 {
			return fmt.Errorf("%w: exists on %q takes no values", ErrInvalidFilter, c.Field)
		}
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, c.Op)
	}
	return nil
}

// Match reports whether metadata satisfies the clause.
func (c Clause) Match(metadata map[string]string) bool {
	value, ok := metadata[c.Field]
	switch c.Op {
	case OpEq:
		return ok && value == c.Values[0]
	case OpNe:
		return !ok || value != c.Values[0]
	case OpIn:
		return ok && slices.Contains(c.Values, value)
	case OpExists:
		return ok && value != ""
	}
	return false
}

func (c Clause) String() string {
	switch c.Op {
	case OpEq:
		return c.Field + "=" + c.Values[0]
	case OpNe:
		return c.Field + "!=" + c.Values[0]
	case OpIn:
		return c.Field + "=" + strings.Join(c.Values, "|")
	case OpExists:
		return c.Field + "?"
	}
	return c.Field + " " + string(c.Op)
}

// Filter is a conjunction of clauses. A nil or empty Filter matches every document.
type Filter struct {
	Clauses []Clause `json:"clauses"`
}

// NewFilter creates a filter from clauses.
func NewFilter(clauses ...Clause) *Filter {
	return &Filter{Clauses: clauses}
}

// Empty reports whether the filter has no clauses.
func (f *Filter) Empty() bool {
	return f == nil || len(f.Clauses) == 0
}

// Validate checks every clause.
func (f *Filter) Validate() error {
	if f == nil {
		return nil
	}
	for _, c := range f.Clauses {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Match reports whether metadata satisfies every clause.
func (f *Filter) Match(metadata map[string]string) bool {
	if f == nil {
		return true
	}
	for _, c := range f.Clauses {
		if !c.Match(metadata) {
			return false
		}
	}
	return true
}

func (f *Filter) String() string {
	if f.Empty() {
		return ""
	}
	parts := make([]string, len(f.Clauses))
	for i, c := range f.Clauses {
		parts[i] = c.String()
	}
	return strings.Join(parts, " AND ")
}

// ParseFilter builds a filter from command-line expressions:
//
//	field=value    equality
//	field!=value   inequality
//	field=a|b|c    membership
//	field?         presence
func ParseFilter(exprs []string) (*Filter, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	f := &Filter{}
	for _, expr := range exprs {
		c, err := parseClause(expr)
		if err != nil {
			return nil, err
		}
		f.Clauses = append(f.Clauses, c)
	}
	return f, nil
}

func parseClause(expr string) (Clause, error) {
	expr = strings.TrimSpace(expr)
	if field, ok := strings.CutSuffix(expr, "?"); ok && !strings.Contains(field, "=") {
		c := Exists(strings.TrimSpace(field))
		return c, c.Validate()
	}
	if field, value, ok := strings.Cut(expr, "!="); ok {
		c := Ne(strings.TrimSpace(field), strings.TrimSpace(value))
		return c, c.Validate()
	}
	field, value, ok := strings.Cut(expr, "=")
	if !ok {
		return Clause{}, fmt.Errorf("%w: %q is not field=value", ErrInvalidFilter, expr)
	}
	field = strings.TrimSpace(field)
	value = strings.TrimSpace(value)
	var c Clause
	if strings.Contains(value, "|") {
		values := strings.Split(value, "|")
		for i := range values {
			values[i] = strings.TrimSpace(values[i])
		}
		c = In(field, values...)
	} else {
		c = Eq(field, value)
	}
	return c, c.Validate()
}
