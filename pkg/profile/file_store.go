package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// fileProfileData is the document kept by FileStore
type fileProfileData struct {
	Profiles []Record `json:"profiles"`
}

// FileStore implements Store on top of a JSON file.
type FileStore struct {
	path  string
	data  map[int]Record
	mutex sync.RWMutex
}

// NewFileStore loads path. A missing or empty file is an empty store.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, data: map[int]Record{}}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}
	return s, nil
}

// Get implements Store
func (s *FileStore) Get(ctx context.Context, id int) (Record, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	rec, ok := s.data[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Put adds or replaces rec and writes the file.
func (s *FileStore) Put(ctx context.Context, rec Record) error {
	if rec.ID <= 0 {
		return fmt.Errorf("invalid profile id %d", rec.ID)
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.data[rec.ID] = rec
	if err := s.save(); err != nil {
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var doc fileProfileData
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	for _, rec := range doc.Profiles {
		if _, dup := s.data[rec.ID]; dup {
			return fmt.Errorf("duplicate profile id %d", rec.ID)
		}
		s.data[rec.ID] = rec
	}
	return nil
}

// save writes the document atomically. Caller holds the write lock.
func (s *FileStore) save() error {
	doc := fileProfileData{Profiles: make([]Record, 0, len(s.data))}
	for _, rec := range s.data {
		doc.Profiles = append(doc.Profiles, rec)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	tempFile := s.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, s.path); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
