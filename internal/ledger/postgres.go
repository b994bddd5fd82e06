package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent appends. The value is arbitrary but must be consistent across all
// server instances sharing a database.
const advisoryLockKey = int64(2_038_411_907)

// Constraint names from migrations/001_certificates.up.sql.
const (
	constraintContentHash = "certificates_content_hash_key"
	constraintIssuedAt    = "certificates_issued_at_key"
)

const recordColumns = `id, content_hash, metadata, issued_at, issuer_ref, chain_link, scheme, valid`

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists the certificate ledger to PostgreSQL.
// It implements the Store interface.
type PostgresStore struct {
	pool   *pgxpool.Pool // nil inside an Append transaction
	db     querier
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, db: pool, logger: logger}
}

// FindByContentHash implements Store.
func (s *PostgresStore) FindByContentHash(ctx context.Context, contentHash string) (*Record, error) {
	return s.scanOne(ctx,
		`SELECT `+recordColumns+` FROM certificates WHERE content_hash = $1`, contentHash)
}

// FindPredecessor implements Store.
func (s *PostgresStore) FindPredecessor(ctx context.Context, t time.Time) (*Record, error) {
	return s.scanOne(ctx,
		`SELECT `+recordColumns+` FROM certificates
		 WHERE issued_at < $1 ORDER BY issued_at DESC LIMIT 1`, t)
}

// FindSuccessor implements Store.
func (s *PostgresStore) FindSuccessor(ctx context.Context, t time.Time) (*Record, error) {
	return s.scanOne(ctx,
		`SELECT `+recordColumns+` FROM certificates
		 WHERE issued_at > $1 ORDER BY issued_at ASC LIMIT 1`, t)
}

// FindHead implements Store.
func (s *PostgresStore) FindHead(ctx context.Context) (*Record, error) {
	return s.scanOne(ctx,
		`SELECT `+recordColumns+` FROM certificates ORDER BY issued_at DESC LIMIT 1`)
}

// Insert implements Store.
func (s *PostgresStore) Insert(ctx context.Context, r *Record) error {
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO certificates (`+recordColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.ContentHash, meta, r.IssuedAt,
		r.IssuerRef, r.ChainLink, int16(r.Scheme), r.Valid,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			switch pgErr.ConstraintName {
			case constraintContentHash:
				return ErrDuplicateContent
			case constraintIssuedAt:
				return ErrChainConflict
			}
		}
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

// SetValid implements Store.
// The update is conditional on the current flag, so concurrent writers of the
// same value are told apart by the affected row count.
func (s *PostgresStore) SetValid(ctx context.Context, id uuid.UUID, valid bool) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE certificates SET valid = $2 WHERE id = $1 AND valid <> $2`, id, valid)
	if err != nil {
		return false, fmt.Errorf("set valid: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM certificates WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("set valid: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

// Append implements Store.
// It acquires a transaction-scoped advisory lock so that head resolution and
// insert happen atomically with respect to every other appender. The lock is
// released when the transaction commits or rolls back.
func (s *PostgresStore) Append(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if s.pool == nil {
		// Already inside an Append transaction.
		return fn(ctx, s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	if err := fn(ctx, &PostgresStore{db: tx, logger: s.logger}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append tx: %w", err)
	}
	return nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+recordColumns+` FROM certificates
		 ORDER BY issued_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count implements Store.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM certificates").Scan(&n); err != nil {
		return 0, fmt.Errorf("count certificates: %w", err)
	}
	return n, nil
}

// Walk implements Store. It streams all rows ordered by issued_at.
// O(n) in ledger length; may be slow for very large ledgers.
func (s *PostgresStore) Walk(ctx context.Context, fn func(*Record) error) error {
	rows, err := s.db.Query(ctx,
		`SELECT `+recordColumns+` FROM certificates ORDER BY issued_at ASC`)
	if err != nil {
		return fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// scanOne executes a query returning at most one certificate row.
func (s *PostgresStore) scanOne(ctx context.Context, query string, args ...any) (*Record, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanRecord(rows)
}

// scanRecord reads a single record; column order matches recordColumns.
func scanRecord(rows pgx.Rows) (*Record, error) {
	var r Record
	var metaRaw []byte
	var scheme int16

	if err := rows.Scan(
		&r.ID, &r.ContentHash, &metaRaw, &r.IssuedAt,
		&r.IssuerRef, &r.ChainLink, &scheme, &r.Valid,
	); err != nil {
		return nil, fmt.Errorf("scan certificate: %w", err)
	}
	r.Scheme = Scheme(scheme)
	r.IssuedAt = r.IssuedAt.UTC()

	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &r.Metadata); err != nil {
			// Unparseable metadata becomes an invalid value so that Verify
			// reports the record as tampered.
			r.Metadata = Metadata{"": Value{}}
		}
	}
	return &r, nil
}
