// Package idfilter implements command-line ID filters: per-field predicates
// built from scalar values and inclusive numeric ranges, used to select a
// subset of data products by their identity fields.
//
// A filter is parsed from one or more tokens. Each token is either a single
// literal (`120`, `0x2a`) or an inclusive range of two literals separated by
// a hyphen (`123-127`, `0x02-0x03`). Hex literals must carry the `0x` prefix.
// An empty filter matches every value; values and ranges within one filter
// combine by OR.
package idfilter

import (
	"fmt"
	"strconv"
	"strings"
)

// Filter is a predicate over one identity field.
//
// The zero value is not usable; construct with New. Format is a printf verb
// (e.g. "%05d", "%016x") used when the filter is rendered back to text or
// turned into a glob pattern; it never affects parsing or matching.
type Filter struct {
	name   string
	format string

	values []uint64
	ranges []Range
}

// Range is an inclusive [Lo, Hi] interval. Lo <= Hi always holds after
// parsing; endpoints supplied in either order are normalized.
type Range struct {
	Lo uint64
	Hi uint64
}

// SyntaxError reports a malformed filter token. It identifies the offending
// field and token so the error can be surfaced before any I/O is attempted.
type SyntaxError struct {
	Field  string
	Token  string
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid %s filter token %q: %s", e.Field, e.Token, e.Reason)
}

// New creates an empty filter for the named field. format is the printf verb
// used for rendering; "%d" is used when empty.
func New(name, format string) *Filter {
	if format == "" {
		format = "%d"
	}
	return &Filter{name: name, format: format}
}

// Name returns the field name the filter applies to.
func (f *Filter) Name() string { return f.name }

// Empty reports whether the filter has no values or ranges. An empty filter
// matches everything.
func (f *Filter) Empty() bool {
	return len(f.values) == 0 && len(f.ranges) == 0
}

// Values returns the scalar values of the filter.
func (f *Filter) Values() []uint64 { return f.values }

// Ranges returns the normalized ranges of the filter.
func (f *Filter) Ranges() []Range { return f.ranges }

// Parse parses filter tokens into values and ranges. Parsing is all-or-
// nothing: on error the filter is left unchanged and a *SyntaxError is
// returned.
func (f *Filter) Parse(tokens []string) error {
	var values []uint64
	var ranges []Range

	for _, tok := range tokens {
		lo, hi, isRange, err := f.parseToken(tok)
		if err != nil {
			return err
		}
		if isRange {
			ranges = append(ranges, Range{Lo: lo, Hi: hi})
		} else {
			values = append(values, lo)
		}
	}

	f.values = values
	f.ranges = ranges
	return nil
}

// ParseValue parses a single literal using the filter's syntax rules.
func (f *Filter) ParseValue(s string) (uint64, error) {
	v, err := parseLiteral(s)
	if err != nil {
		return 0, &SyntaxError{Field: f.name, Token: s, Reason: err.Error()}
	}
	return v, nil
}

// Match reports whether v satisfies the filter. An empty filter matches
// every value; otherwise v must equal one of the values or fall within one
// of the inclusive ranges.
func (f *Filter) Match(v uint64) bool {
	if f.Empty() {
		return true
	}
	for _, fv := range f.values {
		if v == fv {
			return true
		}
	}
	for _, r := range f.ranges {
		if v >= r.Lo && v <= r.Hi {
			return true
		}
	}
	return false
}

// GlobPattern returns a glob fragment matching the filter. A filter holding
// exactly one scalar narrows to that formatted value; anything else falls
// back to "*" and relies on Match after filename parsing.
func (f *Filter) GlobPattern() string {
	if len(f.values) == 1 && len(f.ranges) == 0 {
		return fmt.Sprintf(f.format, f.values[0])
	}
	return "*"
}

// String renders the filter back into token form, space-separated.
func (f *Filter) String() string {
	var sb strings.Builder
	for _, v := range f.values {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, f.format, v)
	}
	for _, r := range f.ranges {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, f.format+"-"+f.format, r.Lo, r.Hi)
	}
	return sb.String()
}

// parseToken splits a token into a scalar or a range at the hyphen
// separator. Hex prefixes carry no hyphen, so the split is unambiguous.
func (f *Filter) parseToken(tok string) (lo, hi uint64, isRange bool, err error) {
	if tok == "" {
		return 0, 0, false, &SyntaxError{Field: f.name, Token: tok, Reason: "empty token"}
	}

	parts := strings.Split(tok, "-")
	switch len(parts) {
	case 1:
		v, perr := parseLiteral(parts[0])
		if perr != nil {
			return 0, 0, false, &SyntaxError{Field: f.name, Token: tok, Reason: perr.Error()}
		}
		return v, v, false, nil
	case 2:
		a, perr := parseLiteral(parts[0])
		if perr != nil {
			return 0, 0, false, &SyntaxError{Field: f.name, Token: tok, Reason: perr.Error()}
		}
		b, perr := parseLiteral(parts[1])
		if perr != nil {
			return 0, 0, false, &SyntaxError{Field: f.name, Token: tok, Reason: perr.Error()}
		}
		// Endpoints may appear in either order; normalize to Lo <= Hi.
		if a > b {
			a, b = b, a
		}
		return a, b, true, nil
	default:
		return 0, 0, false, &SyntaxError{Field: f.name, Token: tok, Reason: "more than one range separator"}
	}
}

// parseLiteral parses a decimal or 0x-prefixed hex literal.
func parseLiteral(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty literal")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("not a hex literal")
		}
		return v, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not a decimal literal")
	}
	return v, nil
}
