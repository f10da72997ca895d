package intake

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ProcessedSet", func() {
	var set *ProcessedSet

	BeforeEach(func() {
		set = NewProcessedSet(filepath.Join(GinkgoT().TempDir(), "processed.json"))
	})

	It("should not contain anything initially", func() {
		seen, err := set.Contains("a")
		Expect(err).NotTo(HaveOccurred())
		Expect(seen).To(BeFalse())
	})

	It("should contain added ids", func() {
		Expect(set.Add("a", "b")).To(Succeed())

		seen, err := set.Contains("a")
		Expect(err).NotTo(HaveOccurred())
		Expect(seen).To(BeTrue())

		seen, err = set.Contains("c")
		Expect(err).NotTo(HaveOccurred())
		Expect(seen).To(BeFalse())
	})

	It("should deduplicate repeated adds", func() {
		Expect(set.Add("a")).To(Succeed())
		Expect(set.Add("a")).To(Succeed())

		ids, err := set.All()
		Expect(err).NotTo(HaveOccurred())
		Expect(ids).To(Equal([]string{"a"}))
	})

	It("should remove ids", func() {
		Expect(set.Add("a", "b")).To(Succeed())
		Expect(set.Remove("a")).To(Succeed())

		seen, err := set.Contains("a")
		Expect(err).NotTo(HaveOccurred())
		Expect(seen).To(BeFalse())

		ids, err := set.All()
		Expect(err).NotTo(HaveOccurred())
		Expect(ids).To(Equal([]string{"b"}))
	})

	It("should list ids sorted", func() {
		Expect(set.Add("c", "a", "b")).To(Succeed())

		ids, err := set.All()
		Expect(err).NotTo(HaveOccurred())
		Expect(ids).To(Equal([]string{"a", "b", "c"}))
	})
})
