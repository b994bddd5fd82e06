package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory, thread-safe Store implementation.
// It is primarily useful for testing and for single-process deployments
// that do not require durable persistence across restarts.
type MemoryStore struct {
	appendMu sync.Mutex

	mu     sync.RWMutex
	chain  []*Record // ordered by IssuedAt ascending
	byHash map[string]*Record
	byID   map[uuid.UUID]*Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHash: make(map[string]*Record),
		byID:   make(map[uuid.UUID]*Record),
	}
}

// FindByContentHash implements Store.
func (s *MemoryStore) FindByContentHash(_ context.Context, contentHash string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byHash[contentHash]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

// FindPredecessor implements Store.
func (s *MemoryStore) FindPredecessor(_ context.Context, t time.Time) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// first index with IssuedAt >= t; the predecessor sits just before it.
	i := sort.Search(len(s.chain), func(i int) bool { return !s.chain[i].IssuedAt.Before(t) })
	if i == 0 {
		return nil, ErrNotFound
	}
	return s.chain[i-1].Clone(), nil
}

// FindSuccessor implements Store.
func (s *MemoryStore) FindSuccessor(_ context.Context, t time.Time) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := sort.Search(len(s.chain), func(i int) bool { return s.chain[i].IssuedAt.After(t) })
	if i == len(s.chain) {
		return nil, ErrNotFound
	}
	return s.chain[i].Clone(), nil
}

// FindHead implements Store.
func (s *MemoryStore) FindHead(_ context.Context) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.chain) == 0 {
		return nil, ErrNotFound
	}
	return s.chain[len(s.chain)-1].Clone(), nil
}

// Insert implements Store.
func (s *MemoryStore) Insert(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byHash[r.ContentHash]; ok {
		return ErrDuplicateContent
	}
	if _, ok := s.byID[r.ID]; ok {
		return fmt.Errorf("record id %s already exists", r.ID)
	}

	i := sort.Search(len(s.chain), func(i int) bool { return !s.chain[i].IssuedAt.Before(r.IssuedAt) })
	if i < len(s.chain) && s.chain[i].IssuedAt.Equal(r.IssuedAt) {
		return ErrChainConflict
	}

	cp := r.Clone()
	s.chain = append(s.chain, nil)
	copy(s.chain[i+1:], s.chain[i:])
	s.chain[i] = cp
	s.byHash[cp.ContentHash] = cp
	s.byID[cp.ID] = cp
	return nil
}

// SetValid implements Store.
func (s *MemoryStore) SetValid(_ context.Context, id uuid.UUID, valid bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.Valid == valid {
		return false, nil
	}
	r.Valid = valid
	return true, nil
}

// Append implements Store. Appends are serialised by a dedicated mutex so that
// reads from concurrent verifications are never blocked by head resolution.
func (s *MemoryStore) Append(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, s)
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, limit, offset int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var out []*Record
	for i := len(s.chain) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.chain[i].Clone())
	}
	return out, nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chain), nil
}

// Walk implements Store.
func (s *MemoryStore) Walk(ctx context.Context, fn func(*Record) error) error {
	s.mu.RLock()
	snapshot := make([]*Record, len(s.chain))
	for i, r := range s.chain {
		snapshot[i] = r.Clone()
	}
	s.mu.RUnlock()

	for _, r := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}
