package bill

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/bill-pay/internal/money"
)

var _ = Describe("Document", func() {
	var doc *Document

	BeforeEach(func() {
		doc = &Document{
			Pending: []Bill{
				{ID: "p1", Recipient: "One"},
				{ID: "p2", Recipient: "Two"},
			},
			History: []Bill{
				{ID: "h1", Recipient: "Three", Status: StatusPaid},
			},
		}
	})

	Describe("Find", func() {
		It("should find pending bills", func() {
			Expect(doc.FindPending("p2")).NotTo(BeNil())
			Expect(doc.FindPending("h1")).To(BeNil())
		})

		It("should find archived bills", func() {
			Expect(doc.FindHistory("h1")).NotTo(BeNil())
			Expect(doc.FindHistory("p1")).To(BeNil())
		})

		It("should search pending before history", func() {
			b := doc.Find("p1")
			Expect(b).NotTo(BeNil())
			Expect(b.Recipient).To(Equal("One"))
			Expect(doc.Find("h1")).NotTo(BeNil())
			Expect(doc.Find("nope")).To(BeNil())
		})
	})

	Describe("Archive", func() {
		It("should move a pending bill to history", func() {
			archived := doc.Archive("p1")
			Expect(archived).NotTo(BeNil())
			Expect(doc.Pending).To(HaveLen(1))
			Expect(doc.History).To(HaveLen(2))
			Expect(doc.FindHistory("p1")).NotTo(BeNil())
		})

		It("should return nil for a bill not in pending", func() {
			Expect(doc.Archive("h1")).To(BeNil())
		})
	})

	Describe("Remove", func() {
		It("should remove from pending", func() {
			removed, ok := doc.Remove("p1")
			Expect(ok).To(BeTrue())
			Expect(removed.Recipient).To(Equal("One"))
			Expect(doc.Pending).To(HaveLen(1))
		})

		It("should remove from history", func() {
			_, ok := doc.Remove("h1")
			Expect(ok).To(BeTrue())
			Expect(doc.History).To(BeEmpty())
		})

		It("should report a missing bill", func() {
			_, ok := doc.Remove("nope")
			Expect(ok).To(BeFalse())
		})
	})
})

var _ = Describe("FileStore", func() {
	var (
		dir   string
		path  string
		store *FileStore
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		path = filepath.Join(dir, "bills.json")
		store = NewFileStore(path)
	})

	It("should start with an empty document", func() {
		err := store.View(func(doc *Document) error {
			Expect(doc.Pending).To(BeEmpty())
			Expect(doc.History).To(BeEmpty())
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("should persist mutations across instances", func() {
		err := store.Update(func(doc *Document) error {
			doc.Pending = append(doc.Pending, Bill{
				ID:        "abc123",
				Recipient: "Stadtwerke",
				Amount:    money.FromFloat(99.9),
				Status:    StatusPending,
			})
			return nil
		})
		Expect(err).NotTo(HaveOccurred())

		reopened := NewFileStore(path)
		err = reopened.View(func(doc *Document) error {
			Expect(doc.Pending).To(HaveLen(1))
			Expect(doc.Pending[0].Recipient).To(Equal("Stadtwerke"))
			Expect(doc.Pending[0].Amount.String()).To(Equal("99.90"))
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("should not write when the mutation fails", func() {
		err := store.Update(func(doc *Document) error {
			doc.Pending = append(doc.Pending, Bill{ID: "abc123"})
			return os.ErrInvalid
		})
		Expect(err).To(HaveOccurred())
		_, statErr := os.Stat(path)
		Expect(os.IsNotExist(statErr)).To(BeTrue())
	})

	Describe("Backup", func() {
		BeforeEach(func() {
			Expect(store.Update(func(doc *Document) error { return nil })).To(Succeed())
		})

		It("should copy the state file with a timestamped name", func() {
			backupDir := filepath.Join(dir, "backups")
			now := time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)

			name, err := store.Backup(backupDir, 7*24*time.Hour, now)
			Expect(err).NotTo(HaveOccurred())
			Expect(filepath.Base(name)).To(Equal("bills_20240131_120000.json"))

			_, statErr := os.Stat(name)
			Expect(statErr).NotTo(HaveOccurred())
		})
	})
})
