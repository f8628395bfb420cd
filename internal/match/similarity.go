package match

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Similarity returns the Ratcliff/Obershelp ratio of a and b, compared
// character by character after lowercasing: 2*M/T where M is the number of
// matched characters and T the combined length. The result is in [0, 1];
// two empty strings score 1.
func Similarity(a, b string) float64 {
	m := difflib.NewMatcher(chars(strings.ToLower(a)), chars(strings.ToLower(b)))
	return m.Ratio()
}

func chars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
