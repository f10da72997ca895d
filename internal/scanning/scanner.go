package scanning

// InvoiceData contains payment information extracted from an invoice. Amounts
// stay as plain numbers here; the service layer converts them into money
// values when it builds a bill.
type InvoiceData struct {
	Recipient     string             `json:"recipient"`
	IBAN          string             `json:"iban"`
	BIC           string             `json:"bic"`
	Amount        float64            `json:"amount"`
	Currency      string             `json:"currency"`
	Reference     string             `json:"reference"`
	DueDate       string             `json:"due_date"`
	InvoiceNumber string             `json:"invoice_number"`
	Description   string             `json:"description"`
	OriginalText  string             `json:"original_text"`
	Translation   string             `json:"english_translation"`
	Confidence    map[string]float64 `json:"confidence"`
	RawResponse   string             `json:"-"`
}

// confidenceKeys are the fields whose extraction confidence decides whether a
// bill needs a human double check.
var confidenceKeys = []string{"recipient", "iban", "amount", "reference"}

// OverallConfidence is the unweighted mean of the key field confidences.
// Fields the model did not score count as zero.
func (d *InvoiceData) OverallConfidence() float64 {
	total := 0.0
	for _, key := range confidenceKeys {
		total += d.Confidence[key]
	}
	return total / float64(len(confidenceKeys))
}

// Scanner defines the interface for invoice scanning operations. A scan
// receives every page of one invoice: multi page PDFs and photo bursts of
// long invoices arrive as one call.
type Scanner interface {
	// ScanInvoice analyzes invoice pages and extracts payment data
	ScanInvoice(pages [][]byte, contentTypes []string) (*InvoiceData, error)
	// Close closes the scanner and releases resources
	Close() error
}
