package intake

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var extMimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".heic": "image/heic",
	".heif": "image/heif",
	".pdf":  "application/pdf",
}

// DirSource reads invoice assets from a local directory. It serves offline
// setups where an email forwarder or scanner drops files straight onto disk,
// and it is what the tests drive the pipeline with.
type DirSource struct {
	dir       string
	processed *ProcessedSet
}

func NewDirSource(dir string, processed *ProcessedSet) *DirSource {
	return &DirSource{dir: dir, processed: processed}
}

func (s *DirSource) ListNewAssets(ctx context.Context) ([]Asset, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading source directory: %w", err)
	}

	var assets []Asset
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		mimeType, ok := extMimeTypes[strings.ToLower(filepath.Ext(entry.Name()))]
		if !ok {
			continue
		}

		seen, err := s.processed.Contains(entry.Name())
		if err != nil {
			return nil, err
		}
		if seen {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("inspecting %s: %w", entry.Name(), err)
		}

		assets = append(assets, Asset{
			ID:           entry.Name(),
			Filename:     entry.Name(),
			MimeType:     mimeType,
			CreationTime: info.ModTime(),
		})
	}

	sort.Slice(assets, func(i, j int) bool {
		return assets[i].CreationTime.Before(assets[j].CreationTime)
	})

	return assets, nil
}

func (s *DirSource) Download(ctx context.Context, asset Asset) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, filepath.Base(asset.ID)))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", asset.Filename, err)
	}
	return data, nil
}

func (s *DirSource) MarkProcessed(id string) error {
	return s.processed.Add(id)
}

func (s *DirSource) UnmarkProcessed(id string) error {
	return s.processed.Remove(id)
}

func (s *DirSource) AuthHealth(ctx context.Context) (AuthHealth, error) {
	if _, err := os.Stat(s.dir); err != nil {
		return AuthHealth{Status: AuthMissing, Message: fmt.Sprintf("source directory unavailable: %v", err)}, nil
	}
	return AuthHealth{Status: AuthOK}, nil
}
