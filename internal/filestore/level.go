package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

const keyPrefix = "file:"

// LevelStore is a Store backed by a goleveldb database.
type LevelStore struct {
	db *leveldb.DB
}

// OpenLevelStore opens (or creates) a LevelDB database at path.
func OpenLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open file store %s: %w", path, err)
	}
	return &LevelStore{db: db}, nil
}

// NewInMemoryLevelStore returns a LevelStore over LevelDB's memory storage.
func NewInMemoryLevelStore() (*LevelStore, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open memory file store: %w", err)
	}
	return &LevelStore{db: db}, nil
}

func fileKey(contentHash string) []byte {
	return []byte(keyPrefix + contentHash)
}

// Put implements Store. Writes are synced before returning so a file is
// durable before its ledger record exists.
func (s *LevelStore) Put(_ context.Context, contentHash string, f *File) error {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode file: %w", err)
	}
	if err := s.db.Put(fileKey(contentHash), b, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("put file %s: %w", contentHash, err)
	}
	return nil
}

// Get implements Store.
func (s *LevelStore) Get(_ context.Context, contentHash string) (*File, error) {
	b, err := s.db.Get(fileKey(contentHash), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get file %s: %w", contentHash, err)
	}
	var f File
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode file %s: %w", contentHash, err)
	}
	return &f, nil
}

// Has implements Store.
func (s *LevelStore) Has(_ context.Context, contentHash string) (bool, error) {
	ok, err := s.db.Has(fileKey(contentHash), nil)
	if err != nil {
		return false, fmt.Errorf("has file %s: %w", contentHash, err)
	}
	return ok, nil
}

// Delete implements Store. Deleting a missing key is not an error.
func (s *LevelStore) Delete(_ context.Context, contentHash string) error {
	if err := s.db.Delete(fileKey(contentHash), nil); err != nil {
		return fmt.Errorf("delete file %s: %w", contentHash, err)
	}
	return nil
}

// Close releases the underlying database.
func (s *LevelStore) Close() error {
	return s.db.Close()
}
