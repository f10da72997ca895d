package bill

import "fmt"

// Status is the lifecycle state of a bill. Raw strings appear only in the
// serialized state file and on the command line.
type Status string

const (
	StatusPending             Status = "pending"
	StatusAwaiting2FA         Status = "awaiting_2fa"
	StatusAwaitingFunding     Status = "awaiting_funding"
	StatusInsufficientBalance Status = "insufficient_balance"
	StatusProcessing          Status = "processing"
	StatusPaid                Status = "paid"
	StatusRejected            Status = "rejected"
	StatusFailed              Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusAwaiting2FA,
	StatusAwaitingFunding,
	StatusInsufficientBalance,
	StatusProcessing,
	StatusPaid,
	StatusRejected,
	StatusFailed,
}

// ParseStatus validates a raw status string from the CLI or state file.
func ParseStatus(raw string) (Status, error) {
	for _, status := range allStatuses {
		if string(status) == raw {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown status %q (known: %s)", raw, statusList())
}

func statusList() string {
	list := ""
	for i, status := range allStatuses {
		if i > 0 {
			list += ", "
		}
		list += string(status)
	}
	return list
}

// Terminal statuses end a bill's lifecycle; setting one on a pending bill
// archives it.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusRejected || s == StatusFailed
}

// Transitional statuses wait on the payment rail and are swept by the
// reconciler.
func (s Status) Transitional() bool {
	return s == StatusAwaiting2FA || s == StatusAwaitingFunding || s == StatusProcessing
}

// railStatusTable maps the rail's transfer status vocabulary onto bill
// statuses. Rail statuses not listed here leave the bill untouched.
var railStatusTable = map[string]Status{
	"outgoing_payment_sent":     StatusPaid,
	"funds_converted":           StatusPaid,
	"cancelled":                 StatusFailed,
	"funds_refunded":            StatusFailed,
	"bounced_back":              StatusFailed,
	"waiting_for_authorization": StatusAwaiting2FA,
	"incoming_payment_waiting":  StatusAwaitingFunding,
	"processing":                StatusProcessing,
}

// FromRailStatus translates a rail transfer status. ok is false for rail
// statuses outside the known vocabulary.
func FromRailStatus(railStatus string) (Status, bool) {
	status, ok := railStatusTable[railStatus]
	return status, ok
}
