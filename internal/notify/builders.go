package notify

import (
	"fmt"
	"strings"

	"github.com/zombor/bill-pay/internal/iban"
	"github.com/zombor/bill-pay/internal/money"
)

// The builders render amounts in German notation and never include a full
// account number, only the masked form.

func NewBill(billID, recipient string, amount money.Amount, account, reference string, flags []string) Notification {
	var b strings.Builder
	fmt.Fprintf(&b, "%s EUR to %s", amount.German(), iban.Mask(account))
	if reference != "" {
		fmt.Fprintf(&b, "\nReference: %s", reference)
	}
	if len(flags) > 0 {
		fmt.Fprintf(&b, "\nFlagged: %s", strings.Join(flags, ", "))
	}

	return Notification{
		ID:      billID,
		Title:   fmt.Sprintf("New bill: %s", recipient),
		Message: b.String(),
	}
}

func PaymentSent(billID, recipient string, amount money.Amount, account string, transferID int64) Notification {
	return Notification{
		ID:    billID,
		Title: fmt.Sprintf("Payment sent: %s", recipient),
		Message: fmt.Sprintf("%s EUR to %s (transfer %d)",
			amount.German(), iban.Mask(account), transferID),
	}
}

func ApprovalNeeded(billID, recipient string, amount money.Amount, transferID int64) Notification {
	return Notification{
		ID:    billID,
		Title: fmt.Sprintf("Approval needed: %s", recipient),
		Message: fmt.Sprintf("Transfer %d over %s EUR is waiting for authorization in the Wise app",
			transferID, amount.German()),
	}
}

func AwaitingFunding(billID, recipient string, amount money.Amount, transferID int64) Notification {
	return Notification{
		ID:    billID,
		Title: fmt.Sprintf("Awaiting funding: %s", recipient),
		Message: fmt.Sprintf("Transfer %d over %s EUR is waiting for incoming funds",
			transferID, amount.German()),
	}
}

func PaymentFailed(billID, recipient string, amount money.Amount, reason string) Notification {
	return Notification{
		ID:      billID,
		Title:   fmt.Sprintf("Payment failed: %s", recipient),
		Message: fmt.Sprintf("%s EUR to %s: %s", amount.German(), recipient, reason),
	}
}

func PaymentRejected(billID, recipient string, amount money.Amount) Notification {
	return Notification{
		ID:      billID,
		Title:   fmt.Sprintf("Bill rejected: %s", recipient),
		Message: fmt.Sprintf("%s EUR will not be paid", amount.German()),
	}
}

func InsufficientBalance(billID, recipient string, available, needed money.Amount) Notification {
	return Notification{
		ID:    billID,
		Title: fmt.Sprintf("Insufficient balance: %s", recipient),
		Message: fmt.Sprintf("%s EUR available, %s EUR needed",
			available.German(), needed.German()),
	}
}

func ParseError(assetName, reason string) Notification {
	return Notification{
		ID:      "parse-" + assetName,
		Title:   "Could not read invoice",
		Message: fmt.Sprintf("%s: %s", assetName, reason),
	}
}

func AuthAlert(message string) Notification {
	return Notification{
		ID:      "auth",
		Title:   "Source authentication needs attention",
		Message: message,
	}
}

func PollSummary(added, duplicates, failures int) Notification {
	return Notification{
		ID:    "poll",
		Title: "Bill poll complete",
		Message: fmt.Sprintf("%d new, %d duplicates, %d errors",
			added, duplicates, failures),
	}
}
