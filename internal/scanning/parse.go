package scanning

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/zombor/bill-pay/internal/iban"
)

// parseInvoiceJSON extracts invoice data from a model response. Models wrap
// their JSON in prose or code fences often enough that we slice from the
// first { to the last } before decoding. Parsing never fails: an unusable
// response yields empty fields with zero confidence, and the raw text is
// kept for debugging.
func parseInvoiceJSON(text string) *InvoiceData {
	data := &InvoiceData{
		Currency:    "EUR",
		Confidence:  map[string]float64{},
		RawResponse: text,
	}

	startIdx := strings.Index(text, "{")
	endIdx := strings.LastIndex(text, "}")
	if startIdx == -1 || endIdx < startIdx {
		return data
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(text[startIdx:endIdx+1]), &fields); err != nil {
		return data
	}

	data.Recipient = stringField(fields, "recipient")
	data.IBAN = iban.Normalize(stringField(fields, "iban"))
	data.BIC = strings.ToUpper(stringField(fields, "bic"))
	data.Amount = floatField(fields, "amount")
	if currency := stringField(fields, "currency"); currency != "" {
		data.Currency = strings.ToUpper(currency)
	}
	data.Reference = stringField(fields, "reference")
	data.DueDate = stringField(fields, "due_date")
	data.InvoiceNumber = stringField(fields, "invoice_number")
	data.Description = stringField(fields, "description")
	data.OriginalText = stringField(fields, "original_text")
	data.Translation = stringField(fields, "english_translation")

	if confidence, ok := fields["confidence"].(map[string]any); ok {
		for key, value := range confidence {
			if score, ok := value.(float64); ok {
				data.Confidence[key] = score
			}
		}
	}

	return data
}

// stringField returns a trimmed string value; nulls and non-strings come
// back empty.
func stringField(fields map[string]any, key string) string {
	if value, ok := fields[key].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

// floatField accepts a JSON number or a numeric string, anything else is 0.
func floatField(fields map[string]any, key string) float64 {
	switch value := fields[key].(type) {
	case float64:
		return value
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return parsed
		}
	}
	return 0
}
