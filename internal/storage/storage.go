package storage

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/promtools/promscraper/internal/models"
)

type snapshotEntry struct {
	Product   *models.Product `json:"product"`
	AddedAt   time.Time       `json:"added_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Snapshot is a file-backed product collection. It lets an interrupted
// crawl keep what it already gathered and lets later runs merge into the
// same file.
type Snapshot struct {
	mu       sync.RWMutex
	entries  map[string]*snapshotEntry
	filename string
}

// Open loads the snapshot at filename, creating an empty one when the
// file does not exist yet.
func Open(filename string) (*Snapshot, error) {
	s := &Snapshot{
		entries:  make(map[string]*snapshotEntry),
		filename: filename,
	}

	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return s, nil
}

// Merge upserts the given products and persists the file. A product that
// is already stored keeps its original AddedAt but takes the new data;
// a detailed record is never replaced by a list-view one.
func (s *Snapshot) Merge(products []*models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, p := range products {
		if p == nil || p.ID == "" {
			continue
		}
		existing, ok := s.entries[p.ID]
		if ok {
			if existing.Product.DetailsLoaded && !p.DetailsLoaded {
				continue
			}
			existing.Product = p
			existing.UpdatedAt = now
			continue
		}
		s.entries[p.ID] = &snapshotEntry{Product: p, AddedAt: now, UpdatedAt: now}
	}

	return s.save()
}

// Products returns every stored product, oldest first.
func (s *Snapshot) Products() []*models.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*snapshotEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].AddedAt.Equal(entries[j].AddedAt) {
			return entries[i].Product.ID < entries[j].Product.ID
		}
		return entries[i].AddedAt.Before(entries[j].AddedAt)
	})

	products := make([]*models.Product, 0, len(entries))
	for _, e := range entries {
		products = append(products, e.Product)
	}
	return products
}

// Len reports how many products the snapshot holds.
func (s *Snapshot) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Snapshot) save() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first for atomicity
	tmpFile := s.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmpFile, s.filename)
}

func (s *Snapshot) load() error {
	data, err := os.ReadFile(s.filename)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, &s.entries)
}
