// Package rail talks to the external payment rail that executes SEPA credit
// transfers. Only the rail's own status vocabulary lives here; mapping it
// onto bill lifecycle states is the bill package's business.
package rail

import (
	"context"
	"fmt"

	"github.com/zombor/bill-pay/internal/money"
)

// Payment is one outgoing credit transfer request.
type Payment struct {
	Recipient string
	IBAN      string
	Amount    money.Amount
	Currency  string
	Reference string
}

// Balance is the available balance for one currency.
type Balance struct {
	Currency string       `json:"currency"`
	Amount   money.Amount `json:"amount"`
}

// Transfer is the rail's view of a payment.
type Transfer struct {
	ID             int64        `json:"id"`
	Reference      string       `json:"reference"`
	Status         string       `json:"status"`
	SourceCurrency string       `json:"source_currency"`
	SourceValue    money.Amount `json:"source_value"`
	TargetCurrency string       `json:"target_currency"`
	TargetValue    money.Amount `json:"target_value"`
	RecipientName  string       `json:"recipient_name"`
	Created        string       `json:"created"`
	Rate           float64      `json:"rate"`
}

// Transfer statuses the rail reports.
const (
	statusWaitingForAuthorization = "waiting_for_authorization"
)

var (
	completeStatuses = map[string]bool{
		"outgoing_payment_sent": true,
		"funds_converted":       true,
	}
	pendingStatuses = map[string]bool{
		"incoming_payment_waiting":    true,
		"processing":                  true,
		statusWaitingForAuthorization: true,
	}
	failedStatuses = map[string]bool{
		"cancelled":      true,
		"funds_refunded": true,
		"bounced_back":   true,
	}
)

// Complete reports whether the money has left for good.
func (t Transfer) Complete() bool {
	return completeStatuses[t.Status]
}

// Pending reports whether the transfer is still moving.
func (t Transfer) Pending() bool {
	return pendingStatuses[t.Status]
}

// Failed reports whether the transfer will never complete.
func (t Transfer) Failed() bool {
	return failedStatuses[t.Status]
}

// NeedsTwoFactor reports whether the rail wants an approval in its app.
func (t Transfer) NeedsTwoFactor() bool {
	return t.Status == statusWaitingForAuthorization
}

// Result is the outcome of a successfully submitted payment. Status carries
// the rail's raw transfer status.
type Result struct {
	TransferID     int64
	Status         string
	NeedsTwoFactor bool
}

// Rail is the payment execution boundary.
type Rail interface {
	// Balance returns the available balance for a currency.
	Balance(ctx context.Context, currency string) (Balance, error)
	// ExecutePayment runs the full payment pipeline: balance check, quote,
	// recipient, transfer, funding.
	ExecutePayment(ctx context.Context, payment Payment) (Result, error)
	// Transfer fetches the current state of a transfer.
	Transfer(ctx context.Context, id int64) (Transfer, error)
	// TransfersNeedingApproval lists transfers waiting for two factor
	// authorization.
	TransfersNeedingApproval(ctx context.Context) ([]Transfer, error)
}

// Error is a failed rail API call.
type Error struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: rail API error (status %d): %s", e.Op, e.StatusCode, e.Body)
}

// Transient reports whether retrying later could help.
func (e *Error) Transient() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// InsufficientBalanceError aborts a payment before any transfer is created.
type InsufficientBalanceError struct {
	Available money.Amount
	Needed    money.Amount
	Currency  string
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("Insufficient balance: %s %s available, %s %s needed",
		e.Available, e.Currency, e.Needed, e.Currency)
}
