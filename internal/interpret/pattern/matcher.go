// Package pattern implements the deterministic, rule-based reading
// interpreter. Rules are an ordered list of (group, extractor, confidence)
// tuples evaluated in priority order.
package pattern

import (
	"regexp"

	"github.com/tjfontaine/carelog/internal/domain"
)

// Extractor turns a regexp submatch over normalized text into a reading
// payload. Returning false rejects the match (for example an implausible
// value) and lets the cascade continue.
type Extractor func(match []string, normalized string) (domain.Reading, bool)

// Rule is one pattern inside a group.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Extract Extractor
}

// Group is an ordered set of rules that produce one reading kind at a
// fixed confidence.
type Group struct {
	Kind       domain.ReadingKind
	Confidence float64
	Rules      []Rule
}

// Matcher evaluates rule groups in order. It is safe for concurrent use.
type Matcher struct {
	groups []Group
}

// New creates a matcher over the given groups.
func New(groups []Group) *Matcher {
	return &Matcher{groups: groups}
}

var defaultMatcher = New(DefaultGroups())

// Default returns the shared matcher with the built-in rule cascade.
func Default() *Matcher {
	return defaultMatcher
}

// Match interprets text. It never fails: when no rule accepts the text the
// result is Unrecognized with zero confidence.
func (m *Matcher) Match(text string) domain.Reading {
	r, _ := m.MatchRule(text)
	return r
}

// MatchRule is Match but also reports the name of the rule that fired,
// or "" when nothing matched.
func (m *Matcher) MatchRule(text string) (domain.Reading, string) {
	normalized := Normalize(text)
	if normalized == "" {
		return domain.Unrecognized(text, domain.InterpreterPattern, "empty message"), ""
	}

	for _, g := range m.groups {
		for _, rule := range g.Rules {
			for _, sub := range rule.Pattern.FindAllStringSubmatch(normalized, -1) {
				r, ok := rule.Extract(sub, normalized)
				if !ok {
					continue
				}
				r.Kind = g.Kind
				r.Confidence = g.Confidence
				r.SourceText = text
				r.Interpreter = domain.InterpreterPattern
				return r, rule.Name
			}
		}
	}

	return domain.Unrecognized(text, domain.InterpreterPattern, "no pattern matched"), ""
}
