package bill

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zombor/bill-pay/internal/intake"
	"github.com/zombor/bill-pay/internal/notify"
	"github.com/zombor/bill-pay/internal/rail"
)

// ReconcileResult summarizes one transfer sweep.
type ReconcileResult struct {
	Checked int      `json:"checked"`
	Updated int      `json:"updated"`
	Bills   []Bill   `json:"bills,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// CheckTransfers sweeps archived bills still waiting on the rail and pulls
// their transfer status. Rail errors for one transfer do not stop the sweep;
// nothing is written unless a status actually changed.
func (s *Service) CheckTransfers(ctx context.Context) (*ReconcileResult, error) {
	type candidate struct {
		id         string
		transferID int64
		status     Status
	}
	var candidates []candidate
	err := s.store.View(func(doc *Document) error {
		for i := range doc.History {
			b := &doc.History[i]
			if b.Status.Transitional() && b.TransferID != 0 {
				candidates = append(candidates, candidate{b.ID, b.TransferID, b.Status})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading bills: %w", err)
	}

	result := &ReconcileResult{Checked: len(candidates)}

	type change struct {
		status     Status
		railStatus string
	}
	changes := map[string]change{}
	for _, c := range candidates {
		transfer, err := s.rail.Transfer(ctx, c.transferID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("transfer %d: %v", c.transferID, err))
			continue
		}
		mapped, ok := FromRailStatus(transfer.Status)
		if !ok {
			slog.Warn("Unknown rail status", "transfer_id", c.transferID, "status", transfer.Status)
			continue
		}
		if mapped != c.status {
			changes[c.id] = change{status: mapped, railStatus: transfer.Status}
		}
	}

	if len(changes) == 0 {
		return result, nil
	}

	now := s.clock.Now()
	var updated []Bill
	err = s.store.Update(func(doc *Document) error {
		for i := range doc.History {
			b := &doc.History[i]
			ch, ok := changes[b.ID]
			if !ok {
				continue
			}
			b.Status = ch.status
			if ch.status == StatusPaid && b.PaidAt == nil {
				b.PaidAt = &now
			}
			updated = append(updated, *b)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("saving bills: %w", err)
	}

	for _, b := range updated {
		switch b.Status {
		case StatusPaid:
			s.notify(ctx, notify.PaymentSent(b.ID, b.Recipient, b.Amount, b.IBAN, b.TransferID))
			s.clearNotification(ctx, b.ID)
		case StatusFailed:
			s.notify(ctx, notify.PaymentFailed(b.ID, b.Recipient, b.Amount, "transfer "+changes[b.ID].railStatus))
			s.clearNotification(ctx, b.ID)
		}
	}

	result.Updated = len(updated)
	result.Bills = updated
	return result, nil
}

// StatusReport is the operator's one-look overview. Each section degrades
// into its error field on its own; a down rail does not hide pending bills.
type StatusReport struct {
	Pending       []Bill             `json:"pending"`
	Balance       *rail.Balance      `json:"balance,omitempty"`
	BalanceError  string             `json:"balance_error,omitempty"`
	Auth          *intake.AuthHealth `json:"auth,omitempty"`
	AuthError     string             `json:"auth_error,omitempty"`
	NeedsApproval []rail.Transfer    `json:"needs_approval,omitempty"`
	ApprovalError string             `json:"approval_error,omitempty"`
}

// Status gathers pending bills, the rail balance, source auth health and
// transfers waiting for two factor approval.
func (s *Service) Status(ctx context.Context) (*StatusReport, error) {
	report := &StatusReport{Pending: []Bill{}}
	err := s.store.View(func(doc *Document) error {
		report.Pending = append(report.Pending, doc.Pending...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading bills: %w", err)
	}

	if balance, err := s.rail.Balance(ctx, s.cfg.Currency); err != nil {
		report.BalanceError = err.Error()
	} else {
		report.Balance = &balance
	}

	if health, err := s.source.AuthHealth(ctx); err != nil {
		report.AuthError = err.Error()
	} else {
		report.Auth = &health
	}

	if transfers, err := s.rail.TransfersNeedingApproval(ctx); err != nil {
		report.ApprovalError = err.Error()
	} else {
		report.NeedsApproval = transfers
	}

	return report, nil
}
