package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value with two decimal places of precision. The zero
// value is 0.00 and is safe to use.
type Amount struct {
	d decimal.Decimal
}

// Parse converts a decimal string like "123.45" into an Amount. Values are
// rounded to two decimal places.
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Amount{}, fmt.Errorf("parsing amount %q: %w", s, err)
	}

	return Amount{d: d.Round(2)}, nil
}

// FromFloat converts a float into an Amount, rounding to two decimal places.
func FromFloat(f float64) Amount {
	return Amount{d: decimal.NewFromFloat(f).Round(2)}
}

// FromInt converts a whole number of currency units into an Amount.
func FromInt(n int64) Amount {
	return Amount{d: decimal.NewFromInt(n)}
}

func (a Amount) Float64() float64 {
	f, _ := a.d.Float64()
	return f
}

// String renders the amount with exactly two decimal places, e.g. "123.45".
func (a Amount) String() string {
	return a.d.StringFixed(2)
}

// German renders the amount in German convention, e.g. "1.234,56".
func (a Amount) German() string {
	fixed := a.d.StringFixed(2)

	neg := strings.HasPrefix(fixed, "-")
	fixed = strings.TrimPrefix(fixed, "-")

	whole, frac, _ := strings.Cut(fixed, ".")
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	b.WriteByte(',')
	b.WriteString(frac)

	return b.String()
}

func (a Amount) IsZero() bool {
	return a.d.IsZero()
}

func (a Amount) IsNegative() bool {
	return a.d.IsNegative()
}

func (a Amount) Equal(b Amount) bool {
	return a.d.Equal(b.d)
}

func (a Amount) LessThan(b Amount) bool {
	return a.d.LessThan(b.d)
}

func (a Amount) Add(b Amount) Amount {
	return Amount{d: a.d.Add(b.d)}
}

func (a Amount) Sub(b Amount) Amount {
	return Amount{d: a.d.Sub(b.d)}
}

func (a Amount) Abs() Amount {
	return Amount{d: a.d.Abs()}
}

// MarshalJSON encodes the amount as a bare JSON number with two decimal
// places, matching the persisted state format.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.d.StringFixed(2)), nil
}

// UnmarshalJSON accepts either a JSON number or a quoted decimal string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		a.d = decimal.Zero
		return nil
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("parsing amount %q: %w", s, err)
	}

	a.d = d.Round(2)
	return nil
}
