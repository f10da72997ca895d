// Package statefile persists application state as human-readable JSON
// documents. Every save is an atomic replace: the document is written to a
// temp file in the target directory and renamed over the old one, so a crash
// mid-write never leaves a truncated file behind.
package statefile

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const backupTimestampFormat = "20060102_150405"

// Load reads the JSON document at path into v. It returns false with no
// error when the file does not exist yet.
func Load(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("reading state file: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decoding state file %s: %w", filepath.Base(path), err)
	}

	return true, nil
}

// Save writes v as indented JSON to path via temp-file-and-rename.
func Save(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("setting file mode: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing state file: %w", err)
	}

	return nil
}

// Backup copies path into backupDir under a timestamped name like
// bills_20240131_120000.json. A missing source file is not an error; the
// returned path is empty in that case.
func Backup(path, backupDir string, now time.Time) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("opening state file: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}

	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	name := fmt.Sprintf("%s_%s%s", stem, now.Format(backupTimestampFormat), ext)
	dstPath := filepath.Join(backupDir, name)

	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("creating backup file: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return "", fmt.Errorf("copying backup: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("closing backup file: %w", err)
	}

	return dstPath, nil
}

// CleanupBackups deletes backups of the named state file older than the
// retention window, judged by file modification time. It returns the number
// of files removed.
func CleanupBackups(backupDir, stateFileName string, retention time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading backup directory: %w", err)
	}

	ext := filepath.Ext(stateFileName)
	prefix := strings.TrimSuffix(stateFileName, ext) + "_"
	cutoff := now.Add(-retention)

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || filepath.Ext(name) != ext {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(backupDir, name)); err != nil {
			return removed, fmt.Errorf("removing old backup %s: %w", name, err)
		}
		removed++
	}

	return removed, nil
}
