package enablement

import (
	"regexp"
	"strings"
)

// Override is one path-scoped enable or disable rule for an extension.
type Override struct {
	baseRule       string
	isDisable      bool
	includeSubdirs bool
}

// FromInput builds an Override from user input. A leading "!" marks a
// disabling rule.
func FromInput(rule string, includeSubdirs bool) Override {
	rule, disable := strings.CutPrefix(rule, "!")
	return Override{
		baseRule:       normalizeRule(rule),
		isDisable:      disable,
		includeSubdirs: includeSubdirs,
	}
}

// FromFileRule parses the persisted form, where a trailing "*" marks a
// recursive rule.
func FromFileRule(rule string) Override {
	rule, disable := strings.CutPrefix(rule, "!")
	rule, recursive := strings.CutSuffix(rule, "*")
	return Override{
		baseRule:       normalizeRule(rule),
		isDisable:      disable,
		includeSubdirs: recursive,
	}
}

// BaseRule returns the normalized path, always with leading and trailing
// slashes.
func (o Override) BaseRule() string { return o.baseRule }

// IsDisable reports whether the rule disables the extension.
func (o Override) IsDisable() bool { return o.isDisable }

// IncludeSubdirs reports whether the rule applies recursively.
func (o Override) IncludeSubdirs() bool { return o.includeSubdirs }

// ConflictsWith reports whether both rules target the same path but differ
// in recursion or polarity.
func (o Override) ConflictsWith(other Override) bool {
	if o.baseRule != other.baseRule {
		return false
	}
	return o.includeSubdirs != other.includeSubdirs || o.isDisable != other.isDisable
}

// IsEqualTo reports whether both rules are identical.
func (o Override) IsEqualTo(other Override) bool {
	return o == other
}

// Regex returns the anchored pattern matched against normalized paths.
func (o Override) Regex() *regexp.Regexp {
	return globToRegex(o.globPattern())
}

// IsChildOf reports whether this rule is made redundant by a recursive
// parent rule.
func (o Override) IsChildOf(parent Override) bool {
	if !parent.includeSubdirs {
		return false
	}
	return parent.Regex().MatchString(o.baseRule)
}

// MatchesPath reports whether path falls under the rule.
func (o Override) MatchesPath(path string) bool {
	return o.Regex().MatchString(path)
}

// Output renders the rule in its persisted form.
func (o Override) Output() string {
	out := o.globPattern()
	if o.isDisable {
		out = "!" + out
	}
	return out
}

func (o Override) globPattern() string {
	if o.includeSubdirs {
		return o.baseRule + "*"
	}
	return o.baseRule
}

// NormalizePath converts a filesystem path to the slash form rules are
// matched against.
func NormalizePath(path string) string {
	return normalizeRule(path)
}

func normalizeRule(rule string) string {
	rule = strings.ReplaceAll(rule, `\`, "/")
	if !strings.HasPrefix(rule, "/") {
		rule = "/" + rule
	}
	if !strings.HasSuffix(rule, "/") {
		rule += "/"
	}
	return rule
}

// A "/*" suffix becomes an optional "/anything" group so that the directory
// itself matches with or without its trailing slash.
var globStar = regexp.MustCompile(`(/?)\*`)

func globToRegex(glob string) *regexp.Regexp {
	escaped := strings.NewReplacer(
		`\`, `\\`, ".", `\.`, "+", `\+`, "?", `\?`, "^", `\^`, "$", `\$`,
		"{", `\{`, "}", `\}`, "(", `\(`, ")", `\)`, "|", `\|`, "[", `\[`, "]", `\]`,
	).Replace(glob)
	pattern := globStar.ReplaceAllString(escaped, "(${1}.*)?")
	return regexp.MustCompile("^" + pattern + "$")
}

// Reconcile returns a new rule list with newRule appended. Existing rules
// that conflict with, equal, or are children of newRule are dropped.
func Reconcile(existing []Override, newRule Override) []Override {
	out := make([]Override, 0, len(existing)+1)
	for _, rule := range existing {
		if rule.ConflictsWith(newRule) || rule.IsEqualTo(newRule) || rule.IsChildOf(newRule) {
			continue
		}
		out = append(out, rule)
	}
	return append(out, newRule)
}

// Evaluate applies rules to path in order. The last matching rule wins and
// the default is enabled.
func Evaluate(rules []Override, path string) bool {
	enabled := true
	for _, rule := range rules {
		if rule.MatchesPath(path) {
			enabled = !rule.isDisable
		}
	}
	return enabled
}
