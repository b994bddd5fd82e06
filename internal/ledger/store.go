package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned by a Store when no record matches a lookup.
	ErrNotFound = errors.New("certificate not found")

	// ErrDuplicateContent is returned when a content hash is already registered.
	ErrDuplicateContent = errors.New("certificate content already registered")

	// ErrChainConflict is returned when an insert would give two records the same
	// issue time, i.e. two appends raced past the append lock.
	ErrChainConflict = errors.New("chain head moved during append")

	// ErrStoreUnavailable matches transient failures of the backing store:
	// lost connections, timeouts, lock conflicts. Callers should retry the whole
	// operation with backoff. Permanent failures wrapped in StoreError do not
	// match it.
	ErrStoreUnavailable = errors.New("ledger store unavailable")
)

// Store is the read/write contract the ledger needs from its backing datastore.
// Both MemoryStore and PostgresStore implement this interface.
type Store interface {
	// FindByContentHash returns the record with the given content hash.
	FindByContentHash(ctx context.Context, contentHash string) (*Record, error)

	// FindPredecessor returns the record with the greatest IssuedAt strictly before t.
	FindPredecessor(ctx context.Context, t time.Time) (*Record, error)

	// FindSuccessor returns the record with the smallest IssuedAt strictly after t.
	FindSuccessor(ctx context.Context, t time.Time) (*Record, error)

	// FindHead returns the record with the greatest IssuedAt in the ledger.
	FindHead(ctx context.Context) (*Record, error)

	// Insert persists a new record atomically. A duplicate content hash fails
	// with ErrDuplicateContent, a duplicate IssuedAt with ErrChainConflict.
	Insert(ctx context.Context, r *Record) error

	// SetValid sets the validity flag of a record and reports whether this call
	// changed it. Setting a flag to the value it already holds is a no-op that
	// returns false, so of several racing writers exactly one sees true.
	SetValid(ctx context.Context, id uuid.UUID, valid bool) (bool, error)

	// Append runs fn while holding the ledger-wide append lock. The Store passed
	// to fn must be used for every read and write inside the critical section.
	Append(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	// List returns records newest first.
	List(ctx context.Context, limit, offset int) ([]*Record, error)

	// Count returns the number of records in the ledger.
	Count(ctx context.Context) (int, error)

	// Walk calls fn for every record in chronological order, stopping at the
	// first error fn returns.
	Walk(ctx context.Context, fn func(*Record) error) error
}

// StoreError wraps a backing-store failure with the operation and content hash
// that triggered it.
type StoreError struct {
	Op          string
	ContentHash string
	Err         error
}

func (e *StoreError) Error() string {
	if e.ContentHash == "" {
		return fmt.Sprintf("ledger store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("ledger store %s [%s]: %v", e.Op, e.ContentHash, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is matches ErrStoreUnavailable when the wrapped failure is transient.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable && isTransient(e.Err)
}

// isTransient reports whether err is worth retrying unchanged.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrChainConflict) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Connection exceptions, insufficient resources, server shutdown,
		// serialization failures and deadlocks.
		switch {
		case strings.HasPrefix(pgErr.Code, "08"),
			strings.HasPrefix(pgErr.Code, "53"),
			strings.HasPrefix(pgErr.Code, "57P"),
			pgErr.Code == "40001",
			pgErr.Code == "40P01":
			return true
		}
		return false
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func storeErr(op, contentHash string, err error) error {
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, ContentHash: contentHash, Err: err}
}
