package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// pdfToImages renders every page of a PDF as a PNG. Long invoices put the
// bank details and the total on different pages, so all pages go to the
// model.
func pdfToImages(pdfData []byte) ([][]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	var pages [][]byte
	for pageNum := 0; pageNum < doc.NumPage(); pageNum++ {
		img, err := doc.Image(pageNum)
		if err != nil {
			return nil, fmt.Errorf("rendering PDF page %d: %w", pageNum+1, err)
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encoding PDF page %d: %w", pageNum+1, err)
		}
		pages = append(pages, buf.Bytes())
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	return pages, nil
}

// imageToPNG converts any supported image format to PNG.
func imageToPNG(imageData []byte, mimeType string) ([]byte, error) {
	var img image.Image
	var err error

	// HEIC/HEIF photos (iPhones) need their own decoder; the standard image
	// package does not know the format.
	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}

	return buf.Bytes(), nil
}

// isHEICFormat sniffs the ftyp box brands HEIC containers start with.
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	if string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

func isPDFMimeType(mimeType string) bool {
	return strings.ToLower(strings.TrimSpace(mimeType)) == "application/pdf"
}

// preparePages normalizes one invoice's files into a flat list of PNG pages.
// PDFs expand into one entry per page; photos convert to PNG as needed.
func preparePages(pages [][]byte, contentTypes []string) ([][]byte, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages to prepare")
	}
	if len(contentTypes) != len(pages) {
		return nil, fmt.Errorf("got %d content types for %d pages", len(contentTypes), len(pages))
	}

	var prepared [][]byte
	for i, data := range pages {
		mimeType := strings.ToLower(strings.TrimSpace(contentTypes[i]))
		if mimeType == "" {
			mimeType = "image/jpeg"
		}

		switch {
		case isPDFMimeType(mimeType):
			rendered, err := pdfToImages(data)
			if err != nil {
				return nil, fmt.Errorf("converting PDF to images: %w", err)
			}
			prepared = append(prepared, rendered...)
		case mimeType == "image/png" && !isHEICFormat(data):
			prepared = append(prepared, data)
		default:
			converted, err := imageToPNG(data, mimeType)
			if err != nil {
				return nil, fmt.Errorf("converting image to PNG: %w", err)
			}
			prepared = append(prepared, converted)
		}
	}

	return prepared, nil
}
