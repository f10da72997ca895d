package intake

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("DirSource", func() {
	var (
		dir    string
		source *DirSource
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()
		processed := NewProcessedSet(filepath.Join(GinkgoT().TempDir(), "processed.json"))
		source = NewDirSource(dir, processed)
	})

	writeFile := func(name string, age time.Duration) {
		path := filepath.Join(dir, name)
		Expect(os.WriteFile(path, []byte("content of "+name), 0644)).To(Succeed())
		mtime := time.Now().Add(-age)
		Expect(os.Chtimes(path, mtime, mtime)).To(Succeed())
	}

	Describe("ListNewAssets", func() {
		It("should list supported files oldest first", func() {
			writeFile("new.jpg", time.Minute)
			writeFile("old.pdf", time.Hour)

			assets, err := source.ListNewAssets(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(assets).To(HaveLen(2))
			Expect(assets[0].ID).To(Equal("old.pdf"))
			Expect(assets[0].MimeType).To(Equal("application/pdf"))
			Expect(assets[1].ID).To(Equal("new.jpg"))
			Expect(assets[1].MimeType).To(Equal("image/jpeg"))
		})

		It("should ignore unsupported extensions", func() {
			writeFile("notes.txt", time.Minute)
			writeFile("photo.heic", time.Minute)

			assets, err := source.ListNewAssets(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(assets).To(HaveLen(1))
			Expect(assets[0].MimeType).To(Equal("image/heic"))
		})

		It("should skip processed assets", func() {
			writeFile("a.jpg", time.Minute)
			writeFile("b.jpg", time.Minute)
			Expect(source.MarkProcessed("a.jpg")).To(Succeed())

			assets, err := source.ListNewAssets(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(assets).To(HaveLen(1))
			Expect(assets[0].ID).To(Equal("b.jpg"))
		})

		It("should offer an unmarked asset again", func() {
			writeFile("a.jpg", time.Minute)
			Expect(source.MarkProcessed("a.jpg")).To(Succeed())
			Expect(source.UnmarkProcessed("a.jpg")).To(Succeed())

			assets, err := source.ListNewAssets(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(assets).To(HaveLen(1))
		})
	})

	Describe("Download", func() {
		It("should return the file contents", func() {
			writeFile("a.jpg", time.Minute)

			data, err := source.Download(ctx, Asset{ID: "a.jpg", Filename: "a.jpg"})
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("content of a.jpg"))
		})

		It("should fail for a missing file", func() {
			_, err := source.Download(ctx, Asset{ID: "missing.jpg"})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("AuthHealth", func() {
		It("should report ok for an existing directory", func() {
			health, err := source.AuthHealth(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(health.Status).To(Equal(AuthOK))
		})

		It("should report missing for an absent directory", func() {
			gone := NewDirSource(filepath.Join(dir, "nope"), NewProcessedSet(filepath.Join(dir, "p.json")))
			health, err := gone.AuthHealth(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(health.Status).To(Equal(AuthMissing))
		})
	})
})
