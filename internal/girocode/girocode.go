// Package girocode parses EPC 069-12 payment QR payloads (Girocodes) as
// printed on German invoices. A payload carries everything needed for a SEPA
// credit transfer, so a successful parse needs no vision model at all.
package girocode

import (
	"regexp"
	"strings"

	"github.com/zombor/bill-pay/internal/iban"
	"github.com/zombor/bill-pay/internal/money"
)

const (
	serviceTag     = "BCD"
	identification = "SCT"
	charsetUTF8    = "1"
)

var (
	amountPattern       = regexp.MustCompile(`^([A-Z]{3})(\d+(?:\.\d{1,2})?)$`)
	currencyOnlyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
	numberPattern       = regexp.MustCompile(`[\d.]+`)
)

// Data is the payment information carried by a Girocode.
type Data struct {
	BIC       string
	Recipient string
	IBAN      string
	Amount    money.Amount
	Currency  string
	Purpose   string
	Reference string
	Text      string
}

// PaymentReference returns the structured reference, falling back to the
// free-text line when no structured reference is present.
func (d *Data) PaymentReference() string {
	if d.Reference != "" {
		return d.Reference
	}
	return d.Text
}

// Parse interprets a QR payload as a Girocode. It returns nil when the
// payload is not a Girocode at all; callers treat that as "try the next
// extraction stage", not as an error.
func Parse(payload string) *Data {
	lines := strings.Split(strings.TrimSpace(payload), "\n")
	for i := range lines {
		lines[i] = strings.TrimSuffix(lines[i], "\r")
	}

	if len(lines) < 8 {
		return nil
	}
	if lines[0] != serviceTag {
		return nil
	}
	if lines[1] != "001" && lines[1] != "002" {
		return nil
	}
	if lines[2] != charsetUTF8 {
		return nil
	}
	if lines[3] != identification {
		return nil
	}

	// Trailing elements (purpose, reference, text) are optional.
	for len(lines) < 12 {
		lines = append(lines, "")
	}

	account := iban.Normalize(lines[6])
	recipient := lines[5]
	if account == "" || recipient == "" {
		return nil
	}

	currency, amount := parseAmount(lines[7])

	return &Data{
		BIC:       lines[4],
		Recipient: recipient,
		IBAN:      account,
		Amount:    amount,
		Currency:  currency,
		Purpose:   lines[8],
		Reference: lines[9],
		Text:      lines[10],
	}
}

// parseAmount interprets the amount line, normally "EUR123.45". A bare
// currency code or an empty line means an unspecified amount. Anything else
// is salvaged by taking the first number in the line.
func parseAmount(line string) (string, money.Amount) {
	currency := "EUR"

	if line == "" {
		return currency, money.Amount{}
	}

	if m := amountPattern.FindStringSubmatch(line); m != nil {
		amount, err := money.Parse(m[2])
		if err != nil {
			return m[1], money.Amount{}
		}
		return m[1], amount
	}

	if currencyOnlyPattern.MatchString(line) {
		return line, money.Amount{}
	}

	if num := numberPattern.FindString(line); num != "" {
		if amount, err := money.Parse(num); err == nil {
			return currency, amount
		}
	}

	return currency, money.Amount{}
}
