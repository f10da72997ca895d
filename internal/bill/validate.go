package bill

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/zombor/bill-pay/internal/iban"
	"github.com/zombor/bill-pay/internal/money"
)

// ValidationError rejects a bill before it is created. The asset is still
// consumed; the operator gets a parse-error notification instead of a bill.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Amounts validate as their float value so numeric tags apply.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if amount, ok := field.Interface().(money.Amount); ok {
			return amount.Float64()
		}
		return nil
	}, money.Amount{})

	if err := v.RegisterValidation("iban_account", func(fl validator.FieldLevel) bool {
		return iban.Validate(fl.Field().String()) == nil
	}); err != nil {
		panic(err)
	}

	return v
}

// Validate checks the payment fields of a freshly extracted bill. The first
// failing field is reported as a *ValidationError.
func (b *Bill) Validate() error {
	err := validate.Struct(b)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
		fe := fieldErrors[0]
		return &ValidationError{Field: strings.ToLower(fe.Field()), Reason: reasonFor(fe)}
	}
	return fmt.Errorf("validating bill: %w", err)
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "iban_account":
		if value, ok := fe.Value().(string); ok {
			if err := iban.Validate(value); err != nil {
				return err.Error()
			}
		}
		return "is not a valid account identifier"
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "iso4217":
		return "is not a valid currency code"
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}
