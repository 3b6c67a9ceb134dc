package attachment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrNotFound is returned when a location no longer resolves to a payload.
var ErrNotFound = errors.New("attachment not found")

// Storage persists attachment payloads until the owning session resolves them.
type Storage interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
	Get(ctx context.Context, location string) ([]byte, error)
	Delete(ctx context.Context, location string) error
}

// FileStorage keeps payloads as files inside a single directory.
type FileStorage struct {
	dir string
}

// NewFileStorage returns storage rooted at dir; the directory is created lazily.
func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{dir: dir}
}

// Put writes data to dir/name and returns the file path as its location.
func (s *FileStorage) Put(_ context.Context, name string, data []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create attachment dir: %w", err)
	}

	path := filepath.Join(s.dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write attachment: %w", err)
	}
	return path, nil
}

// Get reads the payload stored at location.
func (s *FileStorage) Get(_ context.Context, location string) ([]byte, error) {
	data, err := os.ReadFile(location)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	return data, nil
}

// Delete removes the payload; a missing file is not an error.
func (s *FileStorage) Delete(_ context.Context, location string) error {
	if err := os.Remove(location); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove attachment: %w", err)
	}
	return nil
}

// MemoryStorage holds payloads in a map; used by tests and ephemeral runs.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemoryStorage returns an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string][]byte)}
}

func (s *MemoryStorage) Put(_ context.Context, name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[name] = append([]byte(nil), data...)
	return name, nil
}

func (s *MemoryStorage) Get(_ context.Context, location string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.items[location]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStorage) Delete(_ context.Context, location string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, location)
	return nil
}

// Has reports whether location is still stored.
func (s *MemoryStorage) Has(location string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[location]
	return ok
}

// Len reports how many payloads are stored.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
