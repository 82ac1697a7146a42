package pattern

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// Normalize lowercases text, folds Devanagari digits to ASCII and
// collapses runs of whitespace.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= '०' && r <= '९':
			b.WriteRune('0' + (r - '०'))
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// boundary matches a position that is not inside a word in any script.
// Go's \b is ASCII-only, which breaks Devanagari matras.
const (
	leftBoundary  = `(?:^|[^\p{L}\p{M}\p{N}])`
	rightBoundary = `(?:[^\p{L}\p{M}\p{N}]|$)`
)

// alternation builds a regexp alternation from literal terms, longest
// first so multi-word synonyms win over their prefixes. Spaces inside a
// term match any whitespace run.
func alternation(terms []string) string {
	sorted := append([]string(nil), terms...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	parts := make([]string, len(sorted))
	for i, t := range sorted {
		words := strings.Fields(t)
		for j, w := range words {
			words[j] = regexp.QuoteMeta(w)
		}
		parts[i] = strings.Join(words, `\s+`)
	}
	return "(?:" + strings.Join(parts, "|") + ")"
}

// keywords compiles a whole-word matcher for any of terms.
func keywords(terms ...string) *regexp.Regexp {
	return regexp.MustCompile(leftBoundary + alternation(terms) + rightBoundary)
}
