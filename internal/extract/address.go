package extract

import (
	"context"
	"regexp"
	"strings"
)

// streetTypes are the street-type markers the pattern strategy accepts.
var streetTypes = []string{
	"dr", "drive", "st", "street", "rd", "road", "ave", "avenue",
	"blvd", "boulevard", "ln", "lane", "pkwy", "parkway", "way",
	"ct", "court", "pl", "place", "cir", "circle",
}

// streetAddressRe matches: street number (2-5 digits), street name tokens,
// a street-type marker, then anything on the same line up to a ZIP or ZIP+4.
var streetAddressRe = regexp.MustCompile(
	`(?i)\b\d{2,5}\s+[a-z0-9 ]+?\s+(?:` + strings.Join(streetTypes, "|") + `)\b[^\n]*?\b\d{5}(?:-\d{4})?\b`)

// PatternAddresses finds a structured street address with a regular
// expression. It needs a ZIP code to anchor the end of the span.
type PatternAddresses struct{}

// NewPatternAddresses creates a PatternAddresses.
func NewPatternAddresses() *PatternAddresses {
	return &PatternAddresses{}
}

// ExtractAddress implements AddressExtractor. It returns the first match
// verbatim and never fails.
func (PatternAddresses) ExtractAddress(_ context.Context, text string) (string, error) {
	return streetAddressRe.FindString(text), nil
}
