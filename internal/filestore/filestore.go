// Package filestore holds certificate files keyed by their content hash.
//
// The ledger never reads file bytes; it only records their digest. The file
// store is written before the ledger record and removed again if the ledger
// append fails, so a content hash with no ledger record has no stored file.
package filestore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no file is stored under a content hash.
var ErrNotFound = errors.New("file not found")

// File is a stored certificate file.
type File struct {
	ContentType string `json:"content_type"`
	Name        string `json:"name"`
	Data        []byte `json:"data"`
}

// Store persists certificate files by content hash.
// Both LevelStore and MemoryStore implement this interface.
type Store interface {
	Put(ctx context.Context, contentHash string, f *File) error
	Get(ctx context.Context, contentHash string) (*File, error)
	Has(ctx context.Context, contentHash string) (bool, error)
	Delete(ctx context.Context, contentHash string) error
}
