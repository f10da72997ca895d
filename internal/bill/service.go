package bill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/bill-pay/internal/bankdir"
	"github.com/zombor/bill-pay/internal/dedup"
	"github.com/zombor/bill-pay/internal/girocode"
	"github.com/zombor/bill-pay/internal/intake"
	"github.com/zombor/bill-pay/internal/money"
	"github.com/zombor/bill-pay/internal/notify"
	"github.com/zombor/bill-pay/internal/rail"
	"github.com/zombor/bill-pay/internal/scanning"
)

// IDGenerator generates unique ids for bills
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (defaultIDGenerator) Generate() string {
	return uuid.NewString()[:8]
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// CodeDecoder finds and parses a structured payment code in an image.
type CodeDecoder interface {
	DecodeImage(data []byte) (*girocode.Data, error)
}

// DedupLedger answers whether a payment was already made recently.
type DedupLedger interface {
	IsDuplicate(account string, amount money.Amount, reference string) (bool, error)
	CheckSimilar(account string, amount money.Amount) ([]dedup.Record, error)
	RecordPayment(account string, amount money.Amount, reference string) error
}

// BankLookup resolves an account number to its bank.
type BankLookup interface {
	Lookup(ctx context.Context, account string) (bankdir.LookupResult, error)
}

// Config carries the tunables of the pipeline.
type Config struct {
	Currency            string
	ConfidenceThreshold float64
	GroupWindow         time.Duration
	BackupDir           string
	BackupRetention     time.Duration
}

// Service drives bills through their lifecycle: intake and extraction,
// duplicate checks, approval, payment execution and reconciliation.
type Service struct {
	store    Store
	source   intake.Source
	scanner  scanning.Scanner
	decoder  CodeDecoder
	ledger   DedupLedger
	banks    BankLookup
	rail     rail.Rail
	notifier notify.Notifier
	cfg      Config
	ids      IDGenerator
	clock    TimeSource
}

// NewService creates a Service with default id generator and time source.
func NewService(store Store, source intake.Source, scanner scanning.Scanner, decoder CodeDecoder, ledger DedupLedger, banks BankLookup, railClient rail.Rail, notifier notify.Notifier, cfg Config) *Service {
	return NewServiceWithDeps(store, source, scanner, decoder, ledger, banks, railClient, notifier, cfg, defaultIDGenerator{}, defaultTimeSource{})
}

// NewServiceWithDeps creates a Service with custom id generator and time
// source for testing.
func NewServiceWithDeps(store Store, source intake.Source, scanner scanning.Scanner, decoder CodeDecoder, ledger DedupLedger, banks BankLookup, railClient rail.Rail, notifier notify.Notifier, cfg Config, ids IDGenerator, clock TimeSource) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "EUR"
	}
	return &Service{
		store:    store,
		source:   source,
		scanner:  scanner,
		decoder:  decoder,
		ledger:   ledger,
		banks:    banks,
		rail:     railClient,
		notifier: notifier,
		cfg:      cfg,
		ids:      ids,
		clock:    clock,
	}
}

func (s *Service) notify(ctx context.Context, n notify.Notification) {
	if err := s.notifier.Notify(ctx, n); err != nil {
		slog.Warn("Notification failed", "id", n.ID, "error", err)
	}
}

func (s *Service) clearNotification(ctx context.Context, id string) {
	if err := s.notifier.Clear(ctx, id); err != nil {
		slog.Warn("Clearing notification failed", "id", id, "error", err)
	}
}

// Approve executes the payment for a pending bill. The bill moves to the
// status the rail reports; only an insufficient balance keeps it pending for
// a later retry.
func (s *Service) Approve(ctx context.Context, id string) (*Bill, error) {
	var approved Bill
	found := false
	err := s.store.View(func(doc *Document) error {
		if b := doc.FindPending(id); b != nil {
			approved = *b
			found = true
			return nil
		}
		if b := doc.FindHistory(id); b != nil {
			return fmt.Errorf("bill %s is already %s", id, b.Status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("bill %s not found", id)
	}

	payment := rail.Payment{
		Recipient: approved.Recipient,
		IBAN:      approved.IBAN,
		Amount:    approved.Amount,
		Currency:  approved.Currency,
		Reference: approved.Reference,
	}

	result, err := s.rail.ExecutePayment(ctx, payment)
	if err != nil {
		return s.recordPaymentFailure(ctx, id, err)
	}

	// The transfer exists now; remember the payment so the same invoice
	// photographed again gets flagged.
	if err := s.ledger.RecordPayment(approved.IBAN, approved.Amount, approved.Reference); err != nil {
		slog.Warn("Could not record payment fingerprint", "bill", id, "error", err)
	}

	status, ok := FromRailStatus(result.Status)
	if !ok {
		// Funding statuses (COMPLETED and friends) are not transfer
		// statuses; a funded transfer with no waiting state counts as paid.
		status = StatusPaid
	}
	if result.NeedsTwoFactor {
		status = StatusAwaiting2FA
	}

	now := s.clock.Now()
	err = s.store.Update(func(doc *Document) error {
		b := doc.FindPending(id)
		if b == nil {
			return fmt.Errorf("bill %s disappeared from pending", id)
		}
		b.TransferID = result.TransferID
		b.Status = status
		b.Error = ""
		if status == StatusPaid && b.PaidAt == nil {
			b.PaidAt = &now
		}
		approved = *doc.Archive(id)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("saving bill: %w", err)
	}

	switch status {
	case StatusPaid:
		s.notify(ctx, notify.PaymentSent(id, approved.Recipient, approved.Amount, approved.IBAN, approved.TransferID))
	case StatusAwaiting2FA:
		s.notify(ctx, notify.ApprovalNeeded(id, approved.Recipient, approved.Amount, approved.TransferID))
	case StatusAwaitingFunding:
		s.notify(ctx, notify.AwaitingFunding(id, approved.Recipient, approved.Amount, approved.TransferID))
	case StatusFailed:
		s.notify(ctx, notify.PaymentFailed(id, approved.Recipient, approved.Amount, "transfer "+result.Status))
	}
	s.clearNotification(ctx, id)

	return &approved, nil
}

// recordPaymentFailure keeps a bill approvable after a failed execution. An
// insufficient balance gets its own status; everything else only lands in
// the error field.
func (s *Service) recordPaymentFailure(ctx context.Context, id string, execErr error) (*Bill, error) {
	var balanceErr *rail.InsufficientBalanceError
	insufficient := errors.As(execErr, &balanceErr)

	var bill Bill
	err := s.store.Update(func(doc *Document) error {
		b := doc.FindPending(id)
		if b == nil {
			return fmt.Errorf("bill %s disappeared from pending", id)
		}
		if insufficient {
			b.Status = StatusInsufficientBalance
		}
		b.Error = execErr.Error()
		bill = *b
		return nil
	})
	if err != nil {
		slog.Error("Could not record payment failure", "bill", id, "error", err)
		return nil, execErr
	}

	if insufficient {
		s.notify(ctx, notify.InsufficientBalance(id, bill.Recipient, balanceErr.Available, balanceErr.Needed))
		return &bill, execErr
	}
	return &bill, fmt.Errorf("executing payment: %w", execErr)
}

// Reject archives a pending bill without paying it.
func (s *Service) Reject(ctx context.Context, id string) (*Bill, error) {
	var rejected Bill
	err := s.store.Update(func(doc *Document) error {
		b := doc.FindPending(id)
		if b == nil {
			if archived := doc.FindHistory(id); archived != nil {
				return fmt.Errorf("bill %s is already %s", id, archived.Status)
			}
			return fmt.Errorf("bill %s not found", id)
		}
		b.Status = StatusRejected
		rejected = *doc.Archive(id)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notify.PaymentRejected(id, rejected.Recipient, rejected.Amount))
	s.clearNotification(ctx, id)
	return &rejected, nil
}

// OverrideDuplicate clears the duplicate warning on a pending bill. Status
// and recorded fingerprints stay untouched.
func (s *Service) OverrideDuplicate(ctx context.Context, id string) (*Bill, error) {
	var bill Bill
	err := s.store.Update(func(doc *Document) error {
		b := doc.FindPending(id)
		if b == nil {
			return fmt.Errorf("bill %s not found in pending", id)
		}
		b.DuplicateWarning = false
		bill = *b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &bill, nil
}

// SetStatus forces a bill into any known status. Setting a terminal status
// on a pending bill archives it. Returns the bill and its previous status.
func (s *Service) SetStatus(ctx context.Context, id, raw string) (*Bill, Status, error) {
	status, err := ParseStatus(raw)
	if err != nil {
		return nil, "", err
	}

	var updated Bill
	var previous Status
	err = s.store.Update(func(doc *Document) error {
		now := s.clock.Now()
		if b := doc.FindPending(id); b != nil {
			previous = b.Status
			b.Status = status
			if status == StatusPaid && b.PaidAt == nil {
				b.PaidAt = &now
			}
			if status.Terminal() {
				b = doc.Archive(id)
			}
			updated = *b
			return nil
		}
		if b := doc.FindHistory(id); b != nil {
			previous = b.Status
			b.Status = status
			if status == StatusPaid && b.PaidAt == nil {
				b.PaidAt = &now
			}
			updated = *b
			return nil
		}
		return fmt.Errorf("bill %s not found", id)
	})
	if err != nil {
		return nil, "", err
	}
	return &updated, previous, nil
}

// SetTransferID attaches a rail transfer to a bill, for transfers created
// outside the normal approve flow. Archived bills are the usual case, so
// history is searched first.
func (s *Service) SetTransferID(ctx context.Context, id string, transferID int64) (*Bill, error) {
	var updated Bill
	err := s.store.Update(func(doc *Document) error {
		b := doc.FindHistory(id)
		if b == nil {
			b = doc.FindPending(id)
		}
		if b == nil {
			return fmt.Errorf("bill %s not found", id)
		}
		b.TransferID = transferID
		updated = *b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Get returns a copy of a bill from either collection.
func (s *Service) Get(ctx context.Context, id string) (*Bill, error) {
	var found *Bill
	err := s.store.View(func(doc *Document) error {
		if b := doc.Find(id); b != nil {
			bill := *b
			found = &bill
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("bill %s not found", id)
	}
	return found, nil
}

// List returns bills from both collections, oldest first, optionally
// restricted to a created-at range. Zero bounds are open.
func (s *Service) List(ctx context.Context, from, to time.Time) ([]Bill, error) {
	bills := []Bill{}
	err := s.store.View(func(doc *Document) error {
		for _, b := range doc.Pending {
			if createdInRange(b, from, to) {
				bills = append(bills, b)
			}
		}
		for _, b := range doc.History {
			if createdInRange(b, from, to) {
				bills = append(bills, b)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(bills, func(i, j int) bool {
		return bills[i].CreatedAt.Before(bills[j].CreatedAt)
	})
	return bills, nil
}

func createdInRange(b Bill, from, to time.Time) bool {
	if !from.IsZero() && b.CreatedAt.Before(from) {
		return false
	}
	if !to.IsZero() && b.CreatedAt.After(to) {
		return false
	}
	return true
}

// Delete removes a bill from whichever collection holds it.
func (s *Service) Delete(ctx context.Context, id string) (*Bill, error) {
	var removed Bill
	err := s.store.Update(func(doc *Document) error {
		bill, ok := doc.Remove(id)
		if !ok {
			return fmt.Errorf("bill %s not found", id)
		}
		removed = bill
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.clearNotification(ctx, id)
	return &removed, nil
}

// Reprocess deletes a bill and releases its source assets so the next poll
// picks them up again.
func (s *Service) Reprocess(ctx context.Context, id string) (*Bill, error) {
	removed, err := s.Delete(ctx, id)
	if err != nil {
		return nil, err
	}

	for _, assetID := range removed.AssetIDs {
		if err := s.source.UnmarkProcessed(assetID); err != nil {
			return removed, fmt.Errorf("releasing asset %s: %w", assetID, err)
		}
	}
	return removed, nil
}
