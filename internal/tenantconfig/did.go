package tenantconfig

import (
	"regexp"
	"strings"
)

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// NormaliseDID strips leading/trailing and embedded whitespace from a phone
// number and verifies the result is a valid E.164 number (spec.md §3 "DID
// Mapping"). Normalisation is idempotent: NormaliseDID(NormaliseDID(x)) ==
// NormaliseDID(x), and any whitespace variant of the same number normalises
// identically (spec.md §8 property 4).
func NormaliseDID(raw string) (string, bool) {
	stripped := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	if stripped == "" {
		return "", false
	}
	if !e164Pattern.MatchString(stripped) {
		return "", false
	}
	return stripped, true
}
