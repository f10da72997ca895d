package bill

import (
	"time"

	"github.com/zombor/bill-pay/internal/money"
)

// Provenance of a bill's payment data.
const (
	SourceGirocode = "girocode"
	SourceVision   = "vision"
)

// Bill is one invoice on its way to being paid. The store owns all bills;
// callers hand in ids and get copies back.
type Bill struct {
	ID            string       `json:"id"`
	Recipient     string       `json:"recipient" validate:"required"`
	IBAN          string       `json:"iban" validate:"required,iban_account"`
	BIC           string       `json:"bic,omitempty"`
	Amount        money.Amount `json:"amount" validate:"gte=0.01"`
	Currency      string       `json:"currency" validate:"required,iso4217"`
	Reference     string       `json:"reference,omitempty"`
	DueDate       string       `json:"due_date,omitempty"`
	InvoiceNumber string       `json:"invoice_number,omitempty"`

	Source       string   `json:"source"`
	AssetIDs     []string `json:"asset_ids"`
	Description  string   `json:"description,omitempty"`
	OriginalText string   `json:"original_text,omitempty"`
	Translation  string   `json:"translation,omitempty"`

	Confidence       float64 `json:"confidence"`
	LowConfidence    bool    `json:"low_confidence,omitempty"`
	DuplicateWarning bool    `json:"duplicate_warning,omitempty"`
	Error            string  `json:"error,omitempty"`

	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	PaidAt     *time.Time `json:"paid_at,omitempty"`
	TransferID int64      `json:"transfer_id,omitempty"`
}

// ReviewFlags lists why a bill deserves a closer look before approval.
func (b *Bill) ReviewFlags() []string {
	var flags []string
	if b.DuplicateWarning {
		flags = append(flags, "duplicate")
	}
	if b.LowConfidence {
		flags = append(flags, "low_confidence")
	}
	return flags
}
