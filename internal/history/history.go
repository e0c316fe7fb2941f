// Package history keeps the on-disk record of completed downloads. The
// format is a plain JSON array keyed by URL, shared with prior versions of
// the app.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/qget/qget/internal/utils"
)

// Record is one completed download.
type Record struct {
	URL       string `json:"url"`
	Filename  string `json:"filename"`
	Folder    string `json:"folder"`
	Timestamp int64  `json:"timestamp"`
}

// Store is a mutex-guarded history persisted to a JSON file on every
// mutation.
type Store struct {
	mu      sync.Mutex
	path    string
	records []Record
	log     zerolog.Logger
}

// Open loads the history at path, creating an empty file if absent. A
// corrupted file degrades to an empty history rather than failing.
func Open(path string) (*Store, error) {
	s := &Store{path: path, records: []Record{}, log: utils.GetLogger("history")}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := s.save(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history file: %w", err)
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		s.log.Warn().Err(err).Msg("History file corrupted, starting empty")
		s.records = []Record{}
	}
	return s, nil
}

// Add appends a record unless the URL is already present.
func (s *Store) Add(url, filename, folder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.URL == url {
			return nil
		}
	}
	s.records = append(s.records, Record{
		URL:       url,
		Filename:  filename,
		Folder:    folder,
		Timestamp: time.Now().Unix(),
	})
	return s.save()
}

// Remove drops the record for url, optionally deleting the file it points
// to. Removing an absent URL is a no-op.
func (s *Store) Remove(url string, deleteFile bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	for _, r := range s.records {
		if r.URL != url {
			kept = append(kept, r)
			continue
		}
		if deleteFile {
			if err := os.Remove(filepath.Join(r.Folder, r.Filename)); err != nil && !os.IsNotExist(err) {
				s.log.Warn().Err(err).Msgf("Could not delete %s", r.Filename)
			}
		}
	}
	s.records = kept
	return s.save()
}

// Contains reports whether url has a history record.
func (s *Store) Contains(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.URL == url {
			return true
		}
	}
	return false
}

// FileExists reports whether url has a record and the recorded file is
// still present on disk.
func (s *Store) FileExists(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.URL == url {
			_, err := os.Stat(filepath.Join(r.Folder, r.Filename))
			return err == nil
		}
	}
	return false
}

// Records returns a copy of all records, oldest first.
func (s *Store) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Clear removes all records.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = []Record{}
	return s.save()
}

func (s *Store) save() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("write history file: %w", err)
	}
	return nil
}
