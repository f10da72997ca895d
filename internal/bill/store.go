package bill

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/zombor/bill-pay/internal/statefile"
)

// Document is the entire persisted bill state: the open queue and the
// archive. Every mutation runs inside one Update so the two collections
// move together in a single atomic write.
type Document struct {
	Pending []Bill `json:"pending"`
	History []Bill `json:"history"`
}

// FindPending returns a pointer into the pending collection, nil when absent.
func (d *Document) FindPending(id string) *Bill {
	for i := range d.Pending {
		if d.Pending[i].ID == id {
			return &d.Pending[i]
		}
	}
	return nil
}

// FindHistory returns a pointer into the history collection, nil when absent.
func (d *Document) FindHistory(id string) *Bill {
	for i := range d.History {
		if d.History[i].ID == id {
			return &d.History[i]
		}
	}
	return nil
}

// Find looks in pending first, then history.
func (d *Document) Find(id string) *Bill {
	if b := d.FindPending(id); b != nil {
		return b
	}
	return d.FindHistory(id)
}

// Archive moves a pending bill to history and returns its new location.
func (d *Document) Archive(id string) *Bill {
	for i := range d.Pending {
		if d.Pending[i].ID != id {
			continue
		}
		bill := d.Pending[i]
		d.Pending = append(d.Pending[:i], d.Pending[i+1:]...)
		d.History = append(d.History, bill)
		return &d.History[len(d.History)-1]
	}
	return nil
}

// Remove deletes a bill from whichever collection holds it.
func (d *Document) Remove(id string) (Bill, bool) {
	for i := range d.Pending {
		if d.Pending[i].ID == id {
			bill := d.Pending[i]
			d.Pending = append(d.Pending[:i], d.Pending[i+1:]...)
			return bill, true
		}
	}
	for i := range d.History {
		if d.History[i].ID == id {
			bill := d.History[i]
			d.History = append(d.History[:i], d.History[i+1:]...)
			return bill, true
		}
	}
	return Bill{}, false
}

// Store persists the bill document. View reads, Update mutates and writes;
// Backup snapshots the underlying file.
type Store interface {
	View(fn func(doc *Document) error) error
	Update(fn func(doc *Document) error) error
	Backup(dir string, retention time.Duration, now time.Time) (string, error)
}

// FileStore keeps the document in one JSON file written by atomic replace.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) load() (*Document, error) {
	doc := &Document{}
	if _, err := statefile.Load(s.path, doc); err != nil {
		return nil, fmt.Errorf("loading bills: %w", err)
	}
	if doc.Pending == nil {
		doc.Pending = []Bill{}
	}
	if doc.History == nil {
		doc.History = []Bill{}
	}
	return doc, nil
}

func (s *FileStore) View(fn func(doc *Document) error) error {
	doc, err := s.load()
	if err != nil {
		return err
	}
	return fn(doc)
}

func (s *FileStore) Update(fn func(doc *Document) error) error {
	doc, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	if err := statefile.Save(s.path, doc); err != nil {
		return fmt.Errorf("saving bills: %w", err)
	}
	return nil
}

// Backup copies the state file into dir with a timestamped name and prunes
// copies older than the retention window.
func (s *FileStore) Backup(dir string, retention time.Duration, now time.Time) (string, error) {
	name, err := statefile.Backup(s.path, dir, now)
	if err != nil {
		return "", fmt.Errorf("backing up bills: %w", err)
	}
	if _, err := statefile.CleanupBackups(dir, filepath.Base(s.path), retention, now); err != nil {
		slog.Warn("Could not prune old backups", "dir", dir, "error", err)
	}
	return name, nil
}
