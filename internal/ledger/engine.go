package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Policy controls how Verify responds to a broken link with the successor.
type Policy int

const (
	// PolicyFlagOnly reports a broken successor link as a chain discontinuity
	// but only ever flags the record being verified.
	PolicyFlagOnly Policy = iota

	// PolicyCascade additionally flags the successor whose link no longer
	// recomputes from the verified record.
	PolicyCascade
)

// ParsePolicy accepts "flag-only" or "cascade".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "flag-only", "flag_only":
		return PolicyFlagOnly, nil
	case "cascade":
		return PolicyCascade, nil
	default:
		return 0, fmt.Errorf("unknown tamper policy %q", s)
	}
}

// String implements fmt.Stringer.
func (p Policy) String() string {
	if p == PolicyCascade {
		return "cascade"
	}
	return "flag-only"
}

// Engine issues and verifies certificate records against a Store.
type Engine struct {
	store  Store
	hasher *Hasher
	policy Policy
	now    func() time.Time
	logger *zap.Logger
}

// NewEngine creates an Engine with PolicyFlagOnly and the wall clock.
func NewEngine(store Store, hasher *Hasher, logger *zap.Logger) *Engine {
	return &Engine{
		store:  store,
		hasher: hasher,
		policy: PolicyFlagOnly,
		now:    time.Now,
		logger: logger,
	}
}

// SetPolicy replaces the tamper response policy.
func (e *Engine) SetPolicy(p Policy) { e.policy = p }

// Policy returns the tamper response policy.
func (e *Engine) Policy() Policy { return e.policy }

// SetClock replaces the time source used to stamp new records.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Store returns the engine's backing store.
func (e *Engine) Store() Store { return e.store }

// Issue appends a new certificate record to the chain.
//
// The content hash must not already be registered; a duplicate fails with
// ErrDuplicateContent before any link is computed. The new record chains from
// the current global head (or GenesisLink) and is stamped strictly after it.
func (e *Engine) Issue(ctx context.Context, contentHash string, md Metadata, issuerRef string) (*Record, error) {
	hash, err := NormalizeContentHash(contentHash)
	if err != nil {
		return nil, err
	}
	issuerRef = strings.TrimSpace(issuerRef)
	if issuerRef == "" {
		return nil, ErrMissingIssuer
	}
	if err := validText(issuerRef); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIssuer, err)
	}
	canon, err := Canonicalize(md)
	if err != nil {
		return nil, err
	}

	if err := e.checkUnique(ctx, e.store, hash); err != nil {
		return nil, err
	}

	scheme := e.hasher.Scheme()
	var rec *Record
	err = e.store.Append(ctx, func(ctx context.Context, tx Store) error {
		// The pre-check above ran outside the lock; a concurrent issuer may have
		// registered the same content since.
		if err := e.checkUnique(ctx, tx, hash); err != nil {
			return err
		}

		prevLink := GenesisLink
		var floor time.Time
		head, err := tx.FindHead(ctx)
		switch {
		case err == nil:
			prevLink = head.ChainLink
			floor = head.IssuedAt
		case errors.Is(err, ErrNotFound):
		default:
			return storeErr("find_head", hash, err)
		}

		issuedAt := scheme.Normalize(e.now())
		if !floor.IsZero() && !issuedAt.After(floor) {
			issuedAt = scheme.Normalize(floor).Add(scheme.Precision())
		}

		link, err := Link(scheme, prevLink, hash, canon, issuerRef, issuedAt, e.hasher.secret)
		if err != nil {
			return err
		}

		r := &Record{
			ID:          uuid.New(),
			ContentHash: hash,
			Metadata:    md.Clone(),
			IssuedAt:    issuedAt,
			IssuerRef:   issuerRef,
			ChainLink:   link,
			Scheme:      scheme,
			Valid:       true,
		}
		if r.Metadata == nil {
			r.Metadata = Metadata{}
		}
		if err := tx.Insert(ctx, r); err != nil {
			if errors.Is(err, ErrDuplicateContent) {
				return fmt.Errorf("issue %s: %w", hash, ErrDuplicateContent)
			}
			return storeErr("insert", hash, err)
		}
		rec = r
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateContent) || errors.Is(err, ErrStoreUnavailable) {
			return nil, err
		}
		return nil, storeErr("append", hash, err)
	}

	e.logger.Debug("certificate issued",
		zap.String("content_hash", rec.ContentHash),
		zap.String("issuer_ref", rec.IssuerRef),
		zap.String("chain_link", rec.ChainLink),
		zap.Time("issued_at", rec.IssuedAt),
	)
	return rec, nil
}

func (e *Engine) checkUnique(ctx context.Context, s Store, hash string) error {
	_, err := s.FindByContentHash(ctx, hash)
	switch {
	case err == nil:
		return fmt.Errorf("issue %s: %w", hash, ErrDuplicateContent)
	case errors.Is(err, ErrNotFound):
		return nil
	default:
		return storeErr("find_by_content_hash", hash, err)
	}
}

// prevLinkOf returns the stored link of r's chronological predecessor, or
// GenesisLink when r is first. The predecessor itself is returned when present.
func (e *Engine) prevLinkOf(ctx context.Context, r *Record) (string, *Record, error) {
	pred, err := e.store.FindPredecessor(ctx, r.IssuedAt)
	switch {
	case err == nil:
		return pred.ChainLink, pred, nil
	case errors.Is(err, ErrNotFound):
		return GenesisLink, nil, nil
	default:
		return "", nil, storeErr("find_predecessor", r.ContentHash, err)
	}
}

// linkMatches recomputes r's link from prevLink. A record whose fields cannot
// be recomputed at all (unknown scheme, unrepresentable metadata) never matches.
func (e *Engine) linkMatches(r *Record, prevLink string) (bool, string) {
	expected, err := e.hasher.LinkRecord(r, prevLink)
	if err != nil {
		return false, ""
	}
	return expected == r.ChainLink, expected
}
