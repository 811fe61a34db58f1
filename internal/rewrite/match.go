// Package rewrite implements the declarative match/expand rewrite engine:
// the reference hook that also defines the host↔sandbox data contract.
// Semantics are grounded directly on
// http-forward-proxy/src/config/rewrite.rs and redirect.rs — match,
// expand, firing order, and the file-path derivation algorithm are
// transcribed rule-for-rule, not reinvented.
package rewrite

import (
	"fmt"
	"regexp"
	"strings"
)

// MatchValue is a predicate over a string: exact equality, substring
// containment, or a regular expression.
type MatchValue struct {
	kind  matchKind
	exact string
	re    *regexp.Regexp
}

type matchKind int

const (
	kindExact matchKind = iota
	kindContains
	kindRegex
)

// Exact builds a MatchValue requiring byte-for-byte equality.
func Exact(s string) MatchValue { return MatchValue{kind: kindExact, exact: s} }

// Contains builds a MatchValue requiring substring containment.
func Contains(s string) MatchValue { return MatchValue{kind: kindContains, exact: s} }

// RegexMatch builds a MatchValue from a compiled regular expression.
func RegexMatch(re *regexp.Regexp) MatchValue { return MatchValue{kind: kindRegex, re: re} }

// CompileRegex compiles pattern and wraps it as a MatchValue, for config
// loaders that only have the source pattern string.
func CompileRegex(pattern string) (MatchValue, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return MatchValue{}, fmt.Errorf("rewrite: invalid regex %q: %w", pattern, err)
	}
	return RegexMatch(re), nil
}

// Matches reports whether value satisfies the predicate.
func (m MatchValue) Matches(value string) bool {
	switch m.kind {
	case kindExact:
		return value == m.exact
	case kindContains:
		return strings.Contains(value, m.exact)
	case kindRegex:
		return m.re != nil && m.re.MatchString(value)
	default:
		return false
	}
}

// Expand produces replacement text for value using template, following
// the exact rules of rewrite.rs's MatchValue::expand:
//   - Exact:    "$0" in template is replaced with the matched string.
//   - Contains: "$0" becomes the full value, "$1" becomes the matched substring.
//   - Regex:    a pattern with no capture groups does a replace_all of
//     every match in value with template; a pattern with groups expands the template against the
//     first match's captures ($1, $name, ...). A non-matching value always
//     yields "".
func (m MatchValue) Expand(value, template string) string {
	switch m.kind {
	case kindExact:
		if value != m.exact {
			return ""
		}
		return strings.ReplaceAll(template, "$0", m.exact)
	case kindContains:
		if !strings.Contains(value, m.exact) {
			return ""
		}
		out := strings.ReplaceAll(template, "$0", value)
		out = strings.ReplaceAll(out, "$1", m.exact)
		return out
	case kindRegex:
		if m.re == nil || !m.re.MatchString(value) {
			return ""
		}
		if m.re.NumSubexp() == 0 {
			return m.re.ReplaceAllString(value, template)
		}
		loc := m.re.FindStringSubmatchIndex(value)
		if loc == nil {
			return ""
		}
		return string(m.re.ExpandString(nil, template, value, loc))
	default:
		return ""
	}
}
