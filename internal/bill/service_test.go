package bill

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/bill-pay/internal/bankdir"
	"github.com/zombor/bill-pay/internal/dedup"
	"github.com/zombor/bill-pay/internal/girocode"
	"github.com/zombor/bill-pay/internal/intake"
	"github.com/zombor/bill-pay/internal/money"
	"github.com/zombor/bill-pay/internal/notify"
	"github.com/zombor/bill-pay/internal/rail"
	"github.com/zombor/bill-pay/internal/scanning"
)

// mockStore is an in-memory Store
type mockStore struct {
	doc       Document
	viewErr   error
	updateErr error
	backupErr error
	saves     int
	backups   []time.Time
}

func newMockStore() *mockStore {
	return &mockStore{doc: Document{Pending: []Bill{}, History: []Bill{}}}
}

func (m *mockStore) View(fn func(doc *Document) error) error {
	if m.viewErr != nil {
		return m.viewErr
	}
	return fn(&m.doc)
}

func (m *mockStore) Update(fn func(doc *Document) error) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	if err := fn(&m.doc); err != nil {
		return err
	}
	m.saves++
	return nil
}

func (m *mockStore) Backup(dir string, retention time.Duration, now time.Time) (string, error) {
	if m.backupErr != nil {
		return "", m.backupErr
	}
	m.backups = append(m.backups, now)
	return "backup.json", nil
}

// mockSource is a mock implementation of intake.Source
type mockSource struct {
	assets      []intake.Asset
	files       map[string][]byte
	processed   []string
	unmarked    []string
	health      intake.AuthHealth
	listErr     error
	downloadErr error
	healthErr   error
	unmarkErr   error
}

func newMockSource() *mockSource {
	return &mockSource{
		files:  make(map[string][]byte),
		health: intake.AuthHealth{Status: intake.AuthOK},
	}
}

func (m *mockSource) ListNewAssets(ctx context.Context) ([]intake.Asset, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.assets, nil
}

func (m *mockSource) Download(ctx context.Context, asset intake.Asset) ([]byte, error) {
	if m.downloadErr != nil {
		return nil, m.downloadErr
	}
	data, ok := m.files[asset.ID]
	if !ok {
		return nil, errors.New("asset not found")
	}
	return data, nil
}

func (m *mockSource) MarkProcessed(id string) error {
	m.processed = append(m.processed, id)
	return nil
}

func (m *mockSource) UnmarkProcessed(id string) error {
	if m.unmarkErr != nil {
		return m.unmarkErr
	}
	m.unmarked = append(m.unmarked, id)
	return nil
}

func (m *mockSource) AuthHealth(ctx context.Context) (intake.AuthHealth, error) {
	if m.healthErr != nil {
		return intake.AuthHealth{}, m.healthErr
	}
	return m.health, nil
}

// mockScanner is a mock implementation of scanning.Scanner
type mockScanner struct {
	invoice  *scanning.InvoiceData
	scanErr  error
	calls    int
	gotPages [][]byte
	gotTypes []string
}

func newMockScanner() *mockScanner {
	return &mockScanner{
		invoice: &scanning.InvoiceData{
			Recipient: "Stadtwerke München",
			IBAN:      "DE89370400440532013000",
			Amount:    99.9,
			Currency:  "EUR",
			Reference: "KD 12345",
			Confidence: map[string]float64{
				"recipient": 0.95, "iban": 0.99, "amount": 0.95, "reference": 0.95,
			},
		},
	}
}

func (m *mockScanner) ScanInvoice(pages [][]byte, contentTypes []string) (*scanning.InvoiceData, error) {
	m.calls++
	m.gotPages = pages
	m.gotTypes = contentTypes
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	return m.invoice, nil
}

func (m *mockScanner) Close() error {
	return nil
}

// mockDecoder is a mock implementation of CodeDecoder, keyed by image bytes
type mockDecoder struct {
	results map[string]*girocode.Data
	err     error
	calls   int
}

func newMockDecoder() *mockDecoder {
	return &mockDecoder{results: make(map[string]*girocode.Data)}
}

func (m *mockDecoder) DecodeImage(data []byte) (*girocode.Data, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.results[string(data)], nil
}

// mockLedger is a mock implementation of DedupLedger
type mockLedger struct {
	duplicate  bool
	similar    []dedup.Record
	recorded   []string
	dupErr     error
	similarErr error
	recordErr  error
}

func (m *mockLedger) IsDuplicate(account string, amount money.Amount, reference string) (bool, error) {
	if m.dupErr != nil {
		return false, m.dupErr
	}
	return m.duplicate, nil
}

func (m *mockLedger) CheckSimilar(account string, amount money.Amount) ([]dedup.Record, error) {
	if m.similarErr != nil {
		return nil, m.similarErr
	}
	return m.similar, nil
}

func (m *mockLedger) RecordPayment(account string, amount money.Amount, reference string) error {
	if m.recordErr != nil {
		return m.recordErr
	}
	m.recorded = append(m.recorded, fmt.Sprintf("%s|%s|%s", account, amount, reference))
	return nil
}

// mockBanks is a mock implementation of BankLookup
type mockBanks struct {
	result  bankdir.LookupResult
	err     error
	lookups []string
}

func (m *mockBanks) Lookup(ctx context.Context, account string) (bankdir.LookupResult, error) {
	m.lookups = append(m.lookups, account)
	if m.err != nil {
		return bankdir.LookupResult{}, m.err
	}
	return m.result, nil
}

// mockRail is a mock implementation of rail.Rail
type mockRail struct {
	balance      rail.Balance
	balanceErr   error
	result       rail.Result
	execErr      error
	executed     []rail.Payment
	transfers    map[int64]rail.Transfer
	transferErr  error
	approvals    []rail.Transfer
	approvalsErr error
}

func newMockRail() *mockRail {
	return &mockRail{
		balance:   rail.Balance{Currency: "EUR", Amount: money.FromFloat(1000)},
		result:    rail.Result{TransferID: 777, Status: "COMPLETED"},
		transfers: make(map[int64]rail.Transfer),
	}
}

func (m *mockRail) Balance(ctx context.Context, currency string) (rail.Balance, error) {
	if m.balanceErr != nil {
		return rail.Balance{}, m.balanceErr
	}
	return m.balance, nil
}

func (m *mockRail) ExecutePayment(ctx context.Context, payment rail.Payment) (rail.Result, error) {
	m.executed = append(m.executed, payment)
	if m.execErr != nil {
		return rail.Result{}, m.execErr
	}
	return m.result, nil
}

func (m *mockRail) Transfer(ctx context.Context, id int64) (rail.Transfer, error) {
	if m.transferErr != nil {
		return rail.Transfer{}, m.transferErr
	}
	transfer, ok := m.transfers[id]
	if !ok {
		return rail.Transfer{}, errors.New("transfer not found")
	}
	return transfer, nil
}

func (m *mockRail) TransfersNeedingApproval(ctx context.Context) ([]rail.Transfer, error) {
	if m.approvalsErr != nil {
		return nil, m.approvalsErr
	}
	return m.approvals, nil
}

// mockNotifier is a mock implementation of notify.Notifier
type mockNotifier struct {
	sent    []notify.Notification
	cleared []string
}

func (m *mockNotifier) Notify(ctx context.Context, n notify.Notification) error {
	m.sent = append(m.sent, n)
	return nil
}

func (m *mockNotifier) Clear(ctx context.Context, id string) error {
	m.cleared = append(m.cleared, id)
	return nil
}

func (m *mockNotifier) titles() []string {
	titles := make([]string, 0, len(m.sent))
	for _, n := range m.sent {
		titles = append(titles, n.Title)
	}
	return titles
}

// mockIDGenerator hands out sequential ids
type mockIDGenerator struct {
	n int
}

func (m *mockIDGenerator) Generate() string {
	m.n++
	return fmt.Sprintf("bill-%d", m.n)
}

// mockTimeSource is a mock implementation of TimeSource
type mockTimeSource struct {
	now time.Time
}

func (m *mockTimeSource) Now() time.Time {
	return m.now
}

type serviceFixture struct {
	store    *mockStore
	source   *mockSource
	scanner  *mockScanner
	decoder  *mockDecoder
	ledger   *mockLedger
	banks    *mockBanks
	rail     *mockRail
	notifier *mockNotifier
	ids      *mockIDGenerator
	clock    *mockTimeSource
	service  *Service
}

func newServiceFixture(cfg Config) *serviceFixture {
	f := &serviceFixture{
		store:    newMockStore(),
		source:   newMockSource(),
		scanner:  newMockScanner(),
		decoder:  newMockDecoder(),
		ledger:   &mockLedger{},
		banks:    &mockBanks{},
		rail:     newMockRail(),
		notifier: &mockNotifier{},
		ids:      &mockIDGenerator{},
		clock:    &mockTimeSource{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.service = NewServiceWithDeps(
		f.store, f.source, f.scanner, f.decoder, f.ledger, f.banks, f.rail,
		f.notifier, cfg, f.ids, f.clock,
	)
	return f
}

func pendingBill() Bill {
	return Bill{
		ID:        "abc123",
		Recipient: "Stadtwerke München",
		IBAN:      "DE89370400440532013000",
		Amount:    money.FromFloat(99.9),
		Currency:  "EUR",
		Reference: "KD 12345",
		Status:    StatusPending,
		AssetIDs:  []string{"asset-1"},
		CreatedAt: time.Date(2024, 5, 30, 9, 0, 0, 0, time.UTC),
	}
}

var _ = Describe("Service", func() {
	var (
		f   *serviceFixture
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		f = newServiceFixture(Config{ConfidenceThreshold: 0.9})
	})

	Describe("Approve", func() {
		BeforeEach(func() {
			f.store.doc.Pending = []Bill{pendingBill()}
		})

		When("the payment completes", func() {
			var (
				approved *Bill
				err      error
			)

			JustBeforeEach(func() {
				approved, err = f.service.Approve(ctx, "abc123")
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should hand the bill's payment fields to the rail", func() {
				Expect(f.rail.executed).To(HaveLen(1))
				payment := f.rail.executed[0]
				Expect(payment.Recipient).To(Equal("Stadtwerke München"))
				Expect(payment.IBAN).To(Equal("DE89370400440532013000"))
				Expect(payment.Amount.String()).To(Equal("99.90"))
				Expect(payment.Reference).To(Equal("KD 12345"))
			})

			It("should mark the bill paid with the transfer id", func() {
				Expect(approved.Status).To(Equal(StatusPaid))
				Expect(approved.TransferID).To(Equal(int64(777)))
			})

			It("should stamp paid_at", func() {
				Expect(approved.PaidAt).NotTo(BeNil())
				Expect(*approved.PaidAt).To(Equal(f.clock.now))
			})

			It("should archive the bill", func() {
				Expect(f.store.doc.Pending).To(BeEmpty())
				Expect(f.store.doc.FindHistory("abc123")).NotTo(BeNil())
			})

			It("should record the payment fingerprint", func() {
				Expect(f.ledger.recorded).To(ConsistOf("DE89370400440532013000|99.90|KD 12345"))
			})

			It("should notify and clear the bill notification", func() {
				Expect(f.notifier.titles()).To(ContainElement("Payment sent: Stadtwerke München"))
				Expect(f.notifier.cleared).To(ConsistOf("abc123"))
			})
		})

		When("the transfer waits for two factor approval", func() {
			BeforeEach(func() {
				f.rail.result = rail.Result{
					TransferID:     778,
					Status:         "waiting_for_authorization",
					NeedsTwoFactor: true,
				}
			})

			It("should archive the bill as awaiting_2fa without paid_at", func() {
				approved, err := f.service.Approve(ctx, "abc123")
				Expect(err).NotTo(HaveOccurred())
				Expect(approved.Status).To(Equal(StatusAwaiting2FA))
				Expect(approved.PaidAt).To(BeNil())
				Expect(f.store.doc.FindHistory("abc123")).NotTo(BeNil())
				Expect(f.notifier.titles()).To(ContainElement("Approval needed: Stadtwerke München"))
			})
		})

		When("the transfer waits for funding", func() {
			BeforeEach(func() {
				f.rail.result = rail.Result{TransferID: 779, Status: "incoming_payment_waiting"}
			})

			It("should archive the bill as awaiting_funding", func() {
				approved, err := f.service.Approve(ctx, "abc123")
				Expect(err).NotTo(HaveOccurred())
				Expect(approved.Status).To(Equal(StatusAwaitingFunding))
				Expect(f.notifier.titles()).To(ContainElement("Awaiting funding: Stadtwerke München"))
			})
		})

		When("the balance does not cover the bill", func() {
			BeforeEach(func() {
				f.rail.execErr = &rail.InsufficientBalanceError{
					Available: money.FromFloat(10),
					Needed:    money.FromFloat(99.9),
					Currency:  "EUR",
				}
			})

			It("should keep the bill pending as insufficient_balance", func() {
				bill, err := f.service.Approve(ctx, "abc123")
				Expect(err).To(MatchError("Insufficient balance: 10.00 EUR available, 99.90 EUR needed"))
				Expect(bill.Status).To(Equal(StatusInsufficientBalance))
				Expect(f.store.doc.FindPending("abc123")).NotTo(BeNil())
				Expect(f.store.doc.History).To(BeEmpty())
			})

			It("should not record a fingerprint", func() {
				f.service.Approve(ctx, "abc123")
				Expect(f.ledger.recorded).To(BeEmpty())
			})

			It("should notify about the shortfall", func() {
				f.service.Approve(ctx, "abc123")
				Expect(f.notifier.titles()).To(ContainElement("Insufficient balance: Stadtwerke München"))
			})
		})

		When("the rail fails outright", func() {
			BeforeEach(func() {
				f.rail.execErr = errors.New("rail API error (status 422): bad currency")
			})

			It("should keep the bill approvable and record the error", func() {
				bill, err := f.service.Approve(ctx, "abc123")
				Expect(err).To(HaveOccurred())
				Expect(bill.Status).To(Equal(StatusPending))
				Expect(bill.Error).To(ContainSubstring("status 422"))
				Expect(f.store.doc.FindPending("abc123")).NotTo(BeNil())
				Expect(f.ledger.recorded).To(BeEmpty())
			})
		})

		It("should reject an unknown id", func() {
			_, err := f.service.Approve(ctx, "nope")
			Expect(err).To(MatchError("bill nope not found"))
		})

		It("should refuse a bill that was already handled", func() {
			f.store.doc.History = []Bill{{ID: "old1", Status: StatusPaid}}
			_, err := f.service.Approve(ctx, "old1")
			Expect(err).To(MatchError("bill old1 is already paid"))
		})
	})

	Describe("Reject", func() {
		BeforeEach(func() {
			f.store.doc.Pending = []Bill{pendingBill()}
		})

		It("should archive the bill as rejected", func() {
			rejected, err := f.service.Reject(ctx, "abc123")
			Expect(err).NotTo(HaveOccurred())
			Expect(rejected.Status).To(Equal(StatusRejected))
			Expect(f.store.doc.Pending).To(BeEmpty())
			Expect(f.store.doc.FindHistory("abc123")).NotTo(BeNil())
		})

		It("should notify and clear", func() {
			_, err := f.service.Reject(ctx, "abc123")
			Expect(err).NotTo(HaveOccurred())
			Expect(f.notifier.titles()).To(ContainElement("Bill rejected: Stadtwerke München"))
			Expect(f.notifier.cleared).To(ConsistOf("abc123"))
		})

		It("should refuse an archived bill", func() {
			f.store.doc.History = []Bill{{ID: "old1", Status: StatusRejected}}
			_, err := f.service.Reject(ctx, "old1")
			Expect(err).To(MatchError("bill old1 is already rejected"))
		})
	})

	Describe("OverrideDuplicate", func() {
		It("should clear the duplicate warning only", func() {
			b := pendingBill()
			b.DuplicateWarning = true
			f.store.doc.Pending = []Bill{b}

			cleared, err := f.service.OverrideDuplicate(ctx, "abc123")
			Expect(err).NotTo(HaveOccurred())
			Expect(cleared.DuplicateWarning).To(BeFalse())
			Expect(cleared.Status).To(Equal(StatusPending))
		})

		It("should only work on pending bills", func() {
			f.store.doc.History = []Bill{{ID: "old1", DuplicateWarning: true}}
			_, err := f.service.OverrideDuplicate(ctx, "old1")
			Expect(err).To(MatchError("bill old1 not found in pending"))
		})
	})

	Describe("SetStatus", func() {
		BeforeEach(func() {
			f.store.doc.Pending = []Bill{pendingBill()}
			f.store.doc.History = []Bill{{ID: "old1", Status: StatusAwaiting2FA}}
		})

		It("should reject an unknown status", func() {
			_, _, err := f.service.SetStatus(ctx, "abc123", "done")
			Expect(err).To(HaveOccurred())
		})

		It("should archive a pending bill set to a terminal status", func() {
			updated, previous, err := f.service.SetStatus(ctx, "abc123", "paid")
			Expect(err).NotTo(HaveOccurred())
			Expect(previous).To(Equal(StatusPending))
			Expect(updated.Status).To(Equal(StatusPaid))
			Expect(updated.PaidAt).NotTo(BeNil())
			Expect(f.store.doc.Pending).To(BeEmpty())
			Expect(f.store.doc.FindHistory("abc123")).NotTo(BeNil())
		})

		It("should keep a pending bill pending for a non-terminal status", func() {
			updated, _, err := f.service.SetStatus(ctx, "abc123", "awaiting_funding")
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Status).To(Equal(StatusAwaitingFunding))
			Expect(f.store.doc.FindPending("abc123")).NotTo(BeNil())
		})

		It("should update archived bills in place", func() {
			updated, previous, err := f.service.SetStatus(ctx, "old1", "paid")
			Expect(err).NotTo(HaveOccurred())
			Expect(previous).To(Equal(StatusAwaiting2FA))
			Expect(updated.Status).To(Equal(StatusPaid))
			Expect(f.store.doc.History).To(HaveLen(1))
		})

		It("should not overwrite an existing paid_at", func() {
			earlier := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			f.store.doc.History[0].PaidAt = &earlier

			updated, _, err := f.service.SetStatus(ctx, "old1", "paid")
			Expect(err).NotTo(HaveOccurred())
			Expect(*updated.PaidAt).To(Equal(earlier))
		})
	})

	Describe("SetTransferID", func() {
		It("should prefer the archived bill", func() {
			f.store.doc.History = []Bill{{ID: "old1", Status: StatusAwaiting2FA}}

			updated, err := f.service.SetTransferID(ctx, "old1", 4242)
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.TransferID).To(Equal(int64(4242)))
			Expect(f.store.doc.History[0].TransferID).To(Equal(int64(4242)))
		})

		It("should fall back to pending bills", func() {
			f.store.doc.Pending = []Bill{pendingBill()}

			updated, err := f.service.SetTransferID(ctx, "abc123", 4242)
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.TransferID).To(Equal(int64(4242)))
		})

		It("should report a missing bill", func() {
			_, err := f.service.SetTransferID(ctx, "nope", 4242)
			Expect(err).To(MatchError("bill nope not found"))
		})
	})

	Describe("Get", func() {
		It("should find bills in either collection", func() {
			f.store.doc.Pending = []Bill{pendingBill()}
			f.store.doc.History = []Bill{{ID: "old1", Status: StatusPaid}}

			bill, err := f.service.Get(ctx, "abc123")
			Expect(err).NotTo(HaveOccurred())
			Expect(bill.Status).To(Equal(StatusPending))

			bill, err = f.service.Get(ctx, "old1")
			Expect(err).NotTo(HaveOccurred())
			Expect(bill.Status).To(Equal(StatusPaid))

			_, err = f.service.Get(ctx, "nope")
			Expect(err).To(MatchError("bill nope not found"))
		})
	})

	Describe("List", func() {
		BeforeEach(func() {
			jan := Bill{ID: "jan", CreatedAt: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)}
			mar := Bill{ID: "mar", CreatedAt: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)}
			may := Bill{ID: "may", CreatedAt: time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)}
			f.store.doc.Pending = []Bill{may}
			f.store.doc.History = []Bill{mar, jan}
		})

		It("should merge both collections oldest first", func() {
			bills, err := f.service.List(ctx, time.Time{}, time.Time{})
			Expect(err).NotTo(HaveOccurred())
			Expect(bills).To(HaveLen(3))
			Expect(bills[0].ID).To(Equal("jan"))
			Expect(bills[2].ID).To(Equal("may"))
		})

		It("should honor the created-at range", func() {
			from := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
			to := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

			bills, err := f.service.List(ctx, from, to)
			Expect(err).NotTo(HaveOccurred())
			Expect(bills).To(HaveLen(1))
			Expect(bills[0].ID).To(Equal("mar"))
		})
	})

	Describe("Delete", func() {
		It("should remove a bill from either collection", func() {
			f.store.doc.Pending = []Bill{pendingBill()}

			removed, err := f.service.Delete(ctx, "abc123")
			Expect(err).NotTo(HaveOccurred())
			Expect(removed.ID).To(Equal("abc123"))
			Expect(f.store.doc.Pending).To(BeEmpty())
			Expect(f.notifier.cleared).To(ConsistOf("abc123"))
		})

		It("should report a missing bill", func() {
			_, err := f.service.Delete(ctx, "nope")
			Expect(err).To(MatchError("bill nope not found"))
		})
	})

	Describe("Reprocess", func() {
		BeforeEach(func() {
			b := pendingBill()
			b.AssetIDs = []string{"asset-1", "asset-2"}
			f.store.doc.Pending = []Bill{b}
		})

		It("should delete the bill and release its assets", func() {
			removed, err := f.service.Reprocess(ctx, "abc123")
			Expect(err).NotTo(HaveOccurred())
			Expect(removed.ID).To(Equal("abc123"))
			Expect(f.store.doc.Pending).To(BeEmpty())
			Expect(f.source.unmarked).To(Equal([]string{"asset-1", "asset-2"}))
		})

		It("should surface a failed release", func() {
			f.source.unmarkErr = errors.New("disk full")
			_, err := f.service.Reprocess(ctx, "abc123")
			Expect(err).To(MatchError(ContainSubstring("releasing asset asset-1")))
		})
	})
})
