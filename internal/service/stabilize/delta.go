// Package stabilize turns overlapping recognizer hypotheses into stable,
// rate-limited text.
package stabilize

import (
	"regexp"
	"strings"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	strippedPunct = strings.NewReplacer(".", "", ",", "", "!", "", "?", "")
)

// Normalize trims, collapses whitespace runs to a single space and removes
// the punctuation recognizers tend to revise (. , ! ?).
func Normalize(text string) string {
	text = whitespaceRun.ReplaceAllString(strings.TrimSpace(text), " ")
	return strippedPunct.Replace(text)
}

// Delta returns what an appending consumer needs to go from prev to curr.
//
//   - prev empty: all of curr.
//   - identical: empty span.
//   - curr extends prev: the appended tail.
//   - anything else (a revision or truncation of text already sent): all of
//     curr with reset set, consumers replace their text instead of appending.
//
// Comparison is per rune.
func Delta(prev, curr string) (span string, reset bool) {
	if curr == "" || prev == curr {
		return "", false
	}
	if prev == "" {
		return curr, false
	}

	p, c := []rune(prev), []rune(curr)
	prefix := commonPrefixLen(p, c)
	if prefix < len(p) {
		return curr, true
	}
	return string(c[prefix:]), false
}

func commonPrefixLen(a, b []rune) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
