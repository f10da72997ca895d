// Package bankdir resolves bank names and BICs for account numbers. It keeps
// the German routing directory in a local key-value store and falls back to
// an online lookup service for everything else, caching what it learns.
package bankdir

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	bankBucketName  = "banks"
	cacheBucketName = "lookup_cache"
)

// Entry describes one bank in the routing directory.
type Entry struct {
	Name string `json:"name"`
	BIC  string `json:"bic"`
	City string `json:"city"`
}

// Store persists the routing directory and the online lookup cache.
type Store struct {
	db *bbolt.DB
}

// NewStore creates a new Store instance
func NewStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bank directory: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bankBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(cacheBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Get retrieves a directory entry by routing code, nil when unknown.
func (s *Store) Get(routingCode string) (*Entry, error) {
	var entry *Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bankBucketName))
		data := bucket.Get([]byte(routingCode))
		if data == nil {
			return nil
		}

		entry = &Entry{}
		if err := json.Unmarshal(data, entry); err != nil {
			return fmt.Errorf("unmarshaling bank entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entry, nil
}

// Put stores a single directory entry.
func (s *Store) Put(routingCode string, entry Entry) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bankBucketName))
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshaling bank entry: %w", err)
		}
		return bucket.Put([]byte(routingCode), data)
	})
}

// ReplaceAll rebuilds the directory bucket from a full import in one
// transaction.
func (s *Store) ReplaceAll(entries map[string]Entry) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bankBucketName)); err != nil {
			return fmt.Errorf("clearing bank bucket: %w", err)
		}
		bucket, err := tx.CreateBucket([]byte(bankBucketName))
		if err != nil {
			return fmt.Errorf("recreating bank bucket: %w", err)
		}

		for routingCode, entry := range entries {
			data, err := json.Marshal(entry)
			if err != nil {
				return fmt.Errorf("marshaling bank entry: %w", err)
			}
			if err := bucket.Put([]byte(routingCode), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count returns the number of banks in the directory.
func (s *Store) Count() (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		count = tx.Bucket([]byte(bankBucketName)).Stats().KeyN
		return nil
	})
	return count, err
}

// CachedLookup retrieves a cached online lookup result, nil when absent.
func (s *Store) CachedLookup(account string) (*LookupResult, error) {
	var result *LookupResult
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(cacheBucketName))
		data := bucket.Get([]byte(account))
		if data == nil {
			return nil
		}

		result = &LookupResult{}
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshaling cached lookup: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// CacheLookup remembers an online lookup result for an account number.
func (s *Store) CacheLookup(account string, result LookupResult) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(cacheBucketName))
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshaling lookup result: %w", err)
		}
		return bucket.Put([]byte(account), data)
	})
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}
