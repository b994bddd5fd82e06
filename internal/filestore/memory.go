package filestore

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and development.
type MemoryStore struct {
	mu    sync.RWMutex
	files map[string]*File
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{files: make(map[string]*File)}
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, contentHash string, f *File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *f
	cp.Data = append([]byte(nil), f.Data...)
	s.files[contentHash] = &cp
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, contentHash string) (*File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[contentHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	cp.Data = append([]byte(nil), f.Data...)
	return &cp, nil
}

// Has implements Store.
func (s *MemoryStore) Has(_ context.Context, contentHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.files[contentHash]
	return ok, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, contentHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, contentHash)
	return nil
}
