// Package iban normalizes, validates and formats international bank account
// numbers. Validation covers structure, country-specific length and the
// ISO 7064 MOD 97-10 checksum.
package iban

import (
	"fmt"
	"regexp"
	"strings"
)

var structurePattern = regexp.MustCompile(`^[A-Z]{2}[0-9]{2}[A-Z0-9]+$`)

// countryLengths holds the exact length for the countries the pipeline
// routinely sees. Other countries are accepted at any plausible length.
var countryLengths = map[string]int{
	"DE": 22, "AT": 20, "CH": 21, "FR": 27, "IT": 27, "ES": 24,
	"NL": 18, "BE": 16, "LU": 20, "PT": 25, "PL": 28, "CZ": 24,
	"GB": 22, "IE": 22, "DK": 18, "SE": 24, "NO": 15, "FI": 18,
}

const (
	minLength = 15
	maxLength = 34
)

// Reason classifies why validation rejected an account number.
type Reason string

const (
	ReasonFormat   Reason = "format"
	ReasonLength   Reason = "length"
	ReasonChecksum Reason = "checksum"
)

// ValidationError describes a rejected account number.
type ValidationError struct {
	Reason Reason
	Detail string
}

func (e *ValidationError) Error() string {
	return e.Detail
}

// Normalize strips all whitespace and uppercases. It is idempotent.
func Normalize(iban string) string {
	return strings.ToUpper(strings.Join(strings.Fields(iban), ""))
}

// Validate checks structure, country length and checksum of an account
// number, normalizing it first. It returns nil for a valid number and a
// *ValidationError otherwise.
func Validate(iban string) error {
	normalized := Normalize(iban)

	if normalized == "" {
		return &ValidationError{Reason: ReasonFormat, Detail: "IBAN is empty"}
	}

	if !structurePattern.MatchString(normalized) {
		return &ValidationError{Reason: ReasonFormat, Detail: "Invalid IBAN format"}
	}

	country := normalized[:2]
	if expected, ok := countryLengths[country]; ok {
		if len(normalized) != expected {
			return &ValidationError{
				Reason: ReasonLength,
				Detail: fmt.Sprintf("Invalid length for %s: expected %d, got %d", country, expected, len(normalized)),
			}
		}
	} else if len(normalized) < minLength || len(normalized) > maxLength {
		return &ValidationError{
			Reason: ReasonLength,
			Detail: fmt.Sprintf("Invalid IBAN length: %d", len(normalized)),
		}
	}

	if !checksumValid(normalized) {
		return &ValidationError{Reason: ReasonChecksum, Detail: "Invalid IBAN checksum"}
	}

	return nil
}

// checksumValid runs ISO 7064 MOD 97-10 with a rolling remainder so the
// rearranged numeral never has to exist as one large integer.
func checksumValid(iban string) bool {
	rearranged := iban[4:] + iban[:4]

	remainder := 0
	for _, c := range rearranged {
		switch {
		case c >= '0' && c <= '9':
			remainder = (remainder*10 + int(c-'0')) % 97
		case c >= 'A' && c <= 'Z':
			remainder = (remainder*100 + int(c-'A') + 10) % 97
		default:
			return false
		}
	}

	return remainder == 1
}

// Country reports the two-letter country prefix of a normalized number.
func Country(iban string) string {
	normalized := Normalize(iban)
	if len(normalized) < 2 {
		return ""
	}
	return normalized[:2]
}

// RoutingCode extracts the German Bankleitzahl from a DE account number,
// which occupies positions 4-12 of the 22 character identifier.
func RoutingCode(iban string) (string, bool) {
	normalized := Normalize(iban)
	if !strings.HasPrefix(normalized, "DE") || len(normalized) != 22 {
		return "", false
	}
	return normalized[4:12], true
}

// Mask renders an account number safe for notifications: first four and
// last four characters with the middle elided. Short values pass through.
func Mask(iban string) string {
	normalized := Normalize(iban)
	if len(normalized) <= 8 {
		return normalized
	}
	return normalized[:4] + "..." + normalized[len(normalized)-4:]
}

// FormatGrouped renders an account number in display groups of four,
// e.g. "DE89 3704 0044 0532 0130 00".
func FormatGrouped(iban string) string {
	normalized := Normalize(iban)

	var b strings.Builder
	for i, c := range normalized {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(c)
	}

	return b.String()
}
