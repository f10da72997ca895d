package bankdir

import (
	"archive/zip"
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Field positions in the Bundesbank BLZ directory, counted in characters of
// the latin-1 decoded line.
const (
	blzStart     = 0
	blzEnd       = 8
	featurePos   = 8
	nameStart    = 9
	nameEnd      = 67
	cityStart    = 72
	cityEnd      = 107
	bicStart     = 139
	bicEnd       = 150
)

// ParseBundesbank reads the fixed-width BLZ directory file the Bundesbank
// publishes and returns routing code to bank mappings. Only head office
// records (feature flag "1") are kept; branch records repeat the same
// routing code.
func ParseBundesbank(r io.Reader) (map[string]Entry, error) {
	decoded := transform.NewReader(r, charmap.ISO8859_1.NewDecoder())

	entries := map[string]Entry{}
	scanner := bufio.NewScanner(decoded)
	for scanner.Scan() {
		runes := []rune(scanner.Text())

		if sliceRunes(runes, featurePos, featurePos+1) != "1" {
			continue
		}

		routingCode := strings.TrimSpace(sliceRunes(runes, blzStart, blzEnd))
		if routingCode == "" {
			continue
		}

		entries[routingCode] = Entry{
			Name: strings.TrimSpace(sliceRunes(runes, nameStart, nameEnd)),
			City: strings.TrimSpace(sliceRunes(runes, cityStart, cityEnd)),
			BIC:  strings.TrimSpace(sliceRunes(runes, bicStart, bicEnd)),
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading directory file: %w", err)
	}

	return entries, nil
}

// ReadDirectoryFile parses directory data in either of the two published
// forms: the raw fixed-width text file or a ZIP archive containing it.
func ReadDirectoryFile(data []byte) (map[string]Entry, error) {
	if !isZIP(data) {
		return ParseBundesbank(bytes.NewReader(data))
	}

	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening directory archive: %w", err)
	}

	for _, file := range archive.File {
		if !strings.HasSuffix(strings.ToLower(file.Name), ".txt") {
			continue
		}

		reader, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s in archive: %w", file.Name, err)
		}
		defer reader.Close()

		return ParseBundesbank(reader)
	}

	return nil, fmt.Errorf("directory archive contains no txt file")
}

func isZIP(data []byte) bool {
	return len(data) >= 4 && bytes.Equal(data[:4], []byte("PK\x03\x04"))
}

// sliceRunes is a clamped substring: short lines yield short fields instead
// of a panic, matching how the trailing BIC column is simply absent on some
// records.
func sliceRunes(runes []rune, from, to int) string {
	if from >= len(runes) {
		return ""
	}
	if to > len(runes) {
		to = len(runes)
	}
	return string(runes[from:to])
}
