package repo

import (
	"fmt"
	"regexp"
	"strings"
)

// Template placeholders follow the {field} / {field:spec} convention, where
// spec is a printf-style width/format specifier without the leading percent
// sign ("{catid:05d}", "{objid:016x}"). Placeholders may occur anywhere in a
// path-valued string and are resolved per identity.
var placeholderRe = regexp.MustCompile(`\{(\w+)(?::([0-9]*[dxXs]))?\}`)

// variableRe matches $name repository variables in directory formats.
var variableRe = regexp.MustCompile(`\$(\w+)`)

// UnknownFieldError reports a placeholder that cannot be bound.
type UnknownFieldError struct {
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unresolvable placeholder {%s}", e.Field)
}

// ExpandTemplate substitutes {field} placeholders in s with the given field
// values. A placeholder naming a field absent from the map yields an
// *UnknownFieldError; the template is otherwise returned verbatim.
func ExpandTemplate(s string, fields map[string]any) (string, error) {
	var expandErr error
	out := placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		groups := placeholderRe.FindStringSubmatch(m)
		name, spec := groups[1], groups[2]

		v, ok := fields[name]
		if !ok {
			if expandErr == nil {
				expandErr = &UnknownFieldError{Field: name}
			}
			return m
		}
		if spec == "" {
			return fmt.Sprintf("%v", v)
		}
		return fmt.Sprintf("%"+spec, v)
	})
	if expandErr != nil {
		return "", expandErr
	}
	return out, nil
}

// HasPlaceholders reports whether s contains any {field} placeholder.
func HasPlaceholders(s string) bool {
	return placeholderRe.MatchString(s)
}

// expandGlob substitutes {field} placeholders with pre-rendered glob
// fragments, ignoring format specifiers. Unknown placeholders widen to "*".
func expandGlob(s string, globs map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if g, ok := globs[name]; ok {
			return g
		}
		return "*"
	})
}

// expandVars substitutes $name repository variables. Unknown variables are
// an error: a directory format referencing an unset variable would silently
// widen the walk.
func expandVars(s string, vars map[string]string) (string, error) {
	var expandErr error
	out := variableRe.ReplaceAllStringFunc(s, func(m string) string {
		name := strings.TrimPrefix(m, "$")
		v, ok := vars[name]
		if !ok {
			if expandErr == nil {
				expandErr = fmt.Errorf("undefined repository variable $%s", name)
			}
			return m
		}
		return v
	})
	if expandErr != nil {
		return "", expandErr
	}
	return out, nil
}
