// Package textnorm cleans raw OCR label text before extraction.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	// weightRe matches a numeric weight followed by a unit marker ("2.8 lbs", "41lb", "12 oz").
	weightRe = regexp.MustCompile(`\b\d+(\.\d+)?\s?(lbs?|oz|kgs?)\b`)

	countryRe = regexp.MustCompile(`\b(united states of america|united states|usa)\b`)

	noiseRe = regexp.MustCompile(`\b(priority|ground|shipping|ship to|from|fedex|ups|usps|dhl|express|overnight)\b`)

	spaceRe = regexp.MustCompile(`\s+`)
)

// Normalize lowercases text, folds diacritics, strips weight annotations,
// country names and carrier/service-level noise, and collapses whitespace.
//
// Removal runs to a fixed point, so Normalize(Normalize(x)) == Normalize(x).
func Normalize(text string) string {
	out := Fold(text)
	for {
		next := strip(Fold(out))
		if next == out {
			return out
		}
		out = next
	}
}

func strip(s string) string {
	s = weightRe.ReplaceAllString(s, " ")
	s = countryRe.ReplaceAllString(s, " ")
	s = noiseRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// Fold lowercases text and reduces accented letters to their base form
// ("José" -> "jose"). It does not remove any tokens.
func Fold(text string) string {
	if text == "" {
		return ""
	}
	lower := strings.ToLower(text)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, lower)
	if err != nil {
		return lower
	}
	return folded
}
