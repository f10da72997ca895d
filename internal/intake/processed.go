package intake

import (
	"fmt"
	"sort"

	"github.com/zombor/bill-pay/internal/statefile"
)

// ProcessedSet persists the ids of assets the pipeline has already handled.
// The pipeline only ever adds; removal happens when an operator asks for a
// bill to be reprocessed.
type ProcessedSet struct {
	path string
}

func NewProcessedSet(path string) *ProcessedSet {
	return &ProcessedSet{path: path}
}

func (s *ProcessedSet) load() (map[string]bool, error) {
	var ids []string
	if _, err := statefile.Load(s.path, &ids); err != nil {
		return nil, fmt.Errorf("loading processed assets: %w", err)
	}

	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

func (s *ProcessedSet) save(set map[string]bool) error {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if err := statefile.Save(s.path, ids); err != nil {
		return fmt.Errorf("saving processed assets: %w", err)
	}
	return nil
}

func (s *ProcessedSet) Contains(id string) (bool, error) {
	set, err := s.load()
	if err != nil {
		return false, err
	}
	return set[id], nil
}

func (s *ProcessedSet) Add(ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	set, err := s.load()
	if err != nil {
		return err
	}
	for _, id := range ids {
		set[id] = true
	}
	return s.save(set)
}

func (s *ProcessedSet) Remove(ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	set, err := s.load()
	if err != nil {
		return err
	}
	for _, id := range ids {
		delete(set, id)
	}
	return s.save(set)
}

func (s *ProcessedSet) All() ([]string, error) {
	set, err := s.load()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
