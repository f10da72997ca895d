// Package dedup remembers fingerprints of executed payments so the same
// invoice photographed twice does not get paid twice. Fingerprints expire
// after a rolling window; expiry is lazy and happens on lookup.
package dedup

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/zombor/bill-pay/internal/iban"
	"github.com/zombor/bill-pay/internal/money"
	"github.com/zombor/bill-pay/internal/statefile"
)

// Record is one remembered payment.
type Record struct {
	Date      time.Time    `json:"date"`
	IBAN      string       `json:"iban"`
	Amount    money.Amount `json:"amount"`
	Reference string       `json:"reference"`
}

// Stats summarizes the ledger contents.
type Stats struct {
	Total  int        `json:"total"`
	Oldest *time.Time `json:"oldest,omitempty"`
	Newest *time.Time `json:"newest,omitempty"`
}

// Ledger persists payment fingerprints in a JSON state file.
type Ledger struct {
	path      string
	window    time.Duration
	tolerance money.Amount
	now       func() time.Time
}

func NewLedger(path string, window time.Duration) *Ledger {
	return NewLedgerWithClock(path, window, time.Now)
}

func NewLedgerWithClock(path string, window time.Duration, now func() time.Time) *Ledger {
	return &Ledger{
		path:      path,
		window:    window,
		tolerance: money.FromFloat(0.01),
		now:       now,
	}
}

// Fingerprint derives the stable hash for a payment: normalized account
// number, amount with two decimals and the case folded reference.
func Fingerprint(account string, amount money.Amount, reference string) string {
	key := fmt.Sprintf("%s|%s|%s",
		iban.Normalize(account),
		amount.String(),
		strings.ToLower(strings.TrimSpace(reference)),
	)
	return fmt.Sprintf("%x", sha256.Sum256([]byte(key)))
}

func (l *Ledger) load() (map[string]Record, error) {
	records := map[string]Record{}
	if _, err := statefile.Load(l.path, &records); err != nil {
		return nil, fmt.Errorf("loading fingerprints: %w", err)
	}
	return records, nil
}

func (l *Ledger) save(records map[string]Record) error {
	if err := statefile.Save(l.path, records); err != nil {
		return fmt.Errorf("saving fingerprints: %w", err)
	}
	return nil
}

// IsDuplicate reports whether an identical payment was executed within the
// window. An expired fingerprint is removed on the spot.
func (l *Ledger) IsDuplicate(account string, amount money.Amount, reference string) (bool, error) {
	records, err := l.load()
	if err != nil {
		return false, err
	}

	fp := Fingerprint(account, amount, reference)
	record, ok := records[fp]
	if !ok {
		return false, nil
	}

	if l.expired(record) {
		delete(records, fp)
		if err := l.save(records); err != nil {
			return false, err
		}
		return false, nil
	}

	return true, nil
}

// RecordPayment stores the fingerprint of an executed payment.
func (l *Ledger) RecordPayment(account string, amount money.Amount, reference string) error {
	records, err := l.load()
	if err != nil {
		return err
	}

	records[Fingerprint(account, amount, reference)] = Record{
		Date:      l.now(),
		IBAN:      iban.Normalize(account),
		Amount:    amount,
		Reference: strings.TrimSpace(reference),
	}

	return l.save(records)
}

// Remove deletes a fingerprint, reporting whether it existed.
func (l *Ledger) Remove(fingerprint string) (bool, error) {
	records, err := l.load()
	if err != nil {
		return false, err
	}

	if _, ok := records[fingerprint]; !ok {
		return false, nil
	}

	delete(records, fingerprint)
	return true, l.save(records)
}

// CheckSimilar returns remembered payments to the same account within the
// window whose amount differs by at most one cent, regardless of reference.
// These are surfaced as warnings, not blocks.
func (l *Ledger) CheckSimilar(account string, amount money.Amount) ([]Record, error) {
	records, err := l.load()
	if err != nil {
		return nil, err
	}

	normalized := iban.Normalize(account)

	var similar []Record
	for _, record := range records {
		if record.IBAN != normalized {
			continue
		}
		if l.expired(record) {
			continue
		}
		if record.Amount.Sub(amount).Abs().LessThan(l.tolerance) ||
			record.Amount.Sub(amount).Abs().Equal(l.tolerance) {
			similar = append(similar, record)
		}
	}

	return similar, nil
}

// CleanupExpired removes fingerprints older than the window and reports how
// many were dropped.
func (l *Ledger) CleanupExpired() (int, error) {
	records, err := l.load()
	if err != nil {
		return 0, err
	}

	removed := 0
	for fp, record := range records {
		if l.expired(record) {
			delete(records, fp)
			removed++
		}
	}

	if removed > 0 {
		if err := l.save(records); err != nil {
			return 0, err
		}
	}

	return removed, nil
}

// Stats reports the ledger size and date range.
func (l *Ledger) Stats() (Stats, error) {
	records, err := l.load()
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Total: len(records)}
	for _, record := range records {
		date := record.Date
		if stats.Oldest == nil || date.Before(*stats.Oldest) {
			d := date
			stats.Oldest = &d
		}
		if stats.Newest == nil || date.After(*stats.Newest) {
			d := date
			stats.Newest = &d
		}
	}

	return stats, nil
}

func (l *Ledger) expired(record Record) bool {
	return l.now().Sub(record.Date) > l.window
}
