// Package store records which messages were turned into vouchers and which
// the operator chose to ignore.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/ArionMiles/mailvoucher/pkg/api"
)

// File names used by FileStore.
const (
	ProcessedFile = "processed_emails.json"
	IgnoredFile   = "ignored_emails.json"
)

var _ api.Store = (*FileStore)(nil)

// FileStore keeps message IDs in two JSON arrays inside a directory.
type FileStore struct {
	mu        sync.Mutex
	dir       string
	processed []string
	ignored   []string
}

// NewFileStore loads the ID lists from dir. Missing files are empty lists.
func NewFileStore(dir string) (*FileStore, error) {
	s := &FileStore{dir: dir}

	var err error
	if s.processed, err = readIDs(filepath.Join(dir, ProcessedFile)); err != nil {
		return nil, err
	}
	if s.ignored, err = readIDs(filepath.Join(dir, IgnoredFile)); err != nil {
		return nil, err
	}
	return s, nil
}

// IsHandled reports whether id is processed or ignored.
func (s *FileStore) IsHandled(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.processed, id) || slices.Contains(s.ignored, id), nil
}

// MarkProcessed records id as turned into a voucher.
func (s *FileStore) MarkProcessed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(&s.processed, ProcessedFile, id)
}

// MarkIgnored records id as skipped for good.
func (s *FileStore) MarkIgnored(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(&s.ignored, IgnoredFile, id)
}

// Processed returns the processed IDs in the order they were recorded.
func (s *FileStore) Processed(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.processed), nil
}

// Ignored returns the ignored IDs in the order they were recorded.
func (s *FileStore) Ignored(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.ignored), nil
}

func (s *FileStore) add(list *[]string, name, id string) error {
	if id == "" {
		return errors.New("empty message id")
	}
	if slices.Contains(*list, id) {
		return nil
	}
	next := append(slices.Clone(*list), id)
	if err := writeIDs(filepath.Join(s.dir, name), next); err != nil {
		return err
	}
	*list = next
	return nil
}

func readIDs(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return ids, nil
}

// writeIDs replaces path atomically.
func writeIDs(path string, ids []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}

	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding ids: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
