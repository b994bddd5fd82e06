package ledger

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Status is the result class of a verification.
type Status string

const (
	StatusNotFound Status = "not_found"
	StatusTampered Status = "tampered"
	StatusValid    Status = "valid"
)

// Outcome is the result of verifying a single certificate.
type Outcome struct {
	Status Status  `json:"status"`
	Record *Record `json:"record,omitempty"`

	// Connected is true when both neighbouring links are intact.
	Connected bool `json:"connected"`
	// PrevIntact is false when the predecessor is flagged or its own link no
	// longer recomputes, i.e. the chain is broken behind this record.
	PrevIntact bool `json:"prev_intact"`
	// NextIntact is false when the successor does not chain from this record.
	NextIntact bool `json:"next_intact"`

	// Stored and Calculated are set only by the call that flagged the record.
	Stored     string `json:"stored,omitempty"`
	Calculated string `json:"calculated,omitempty"`

	Message string `json:"message"`
}

// Verify re-derives the chain link of the record holding contentHash and
// checks its continuity with both neighbours.
//
// A record whose link does not recompute is flagged invalid exactly once and
// reported Tampered; a record already flagged short-circuits to Tampered
// without recomputation. A broken neighbour link is reported through
// Connected and never changes a Valid result.
func (e *Engine) Verify(ctx context.Context, contentHash string) (*Outcome, error) {
	hash, err := NormalizeContentHash(contentHash)
	if err != nil {
		return nil, err
	}

	rec, err := e.store.FindByContentHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &Outcome{Status: StatusNotFound, Message: "certificate not found in ledger"}, nil
		}
		return nil, storeErr("find_by_content_hash", hash, err)
	}

	if !rec.Valid {
		return &Outcome{
			Status:  StatusTampered,
			Record:  rec,
			Message: "certificate was previously flagged as tampered",
		}, nil
	}

	prevLink, pred, err := e.prevLinkOf(ctx, rec)
	if err != nil {
		return nil, err
	}

	if ok, calculated := e.linkMatches(rec, prevLink); !ok {
		flagged, err := e.store.SetValid(ctx, rec.ID, false)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, storeErr("set_valid", hash, err)
		}
		rec.Valid = false
		if !flagged {
			// A concurrent verification flagged it between our read and write.
			return &Outcome{
				Status:  StatusTampered,
				Record:  rec,
				Message: "certificate was previously flagged as tampered",
			}, nil
		}
		e.logger.Warn("tampering detected",
			zap.String("content_hash", rec.ContentHash),
			zap.String("record_id", rec.ID.String()),
			zap.String("stored", rec.ChainLink),
			zap.String("calculated", calculated),
		)
		return &Outcome{
			Status:     StatusTampered,
			Record:     rec,
			Stored:     rec.ChainLink,
			Calculated: calculated,
			Message:    "chain link does not match record contents",
		}, nil
	}

	out := &Outcome{Status: StatusValid, Record: rec, PrevIntact: true, NextIntact: true}

	if pred != nil {
		intact, err := e.intact(ctx, pred)
		if err != nil {
			return nil, err
		}
		out.PrevIntact = intact
	}

	isHead := false
	succ, err := e.store.FindSuccessor(ctx, rec.IssuedAt)
	switch {
	case err == nil:
		ok, _ := e.linkMatches(succ, rec.ChainLink)
		out.NextIntact = ok && succ.Valid
		if !ok && succ.Valid && e.policy == PolicyCascade {
			e.logger.Warn("invalidating successor with broken link",
				zap.String("content_hash", rec.ContentHash),
				zap.String("successor", succ.ContentHash),
			)
			if _, err := e.store.SetValid(ctx, succ.ID, false); err != nil && !errors.Is(err, ErrNotFound) {
				return nil, storeErr("set_valid", succ.ContentHash, err)
			}
		}
	case errors.Is(err, ErrNotFound):
		isHead = true
	default:
		return nil, storeErr("find_successor", hash, err)
	}

	out.Connected = out.PrevIntact && out.NextIntact
	switch {
	case !out.PrevIntact:
		out.Message = "broken link to previous record"
	case !out.NextIntact:
		out.Message = "broken link to next record"
	case isHead:
		out.Message = "latest record (chain head)"
	default:
		out.Message = "connected to next record"
	}
	return out, nil
}

// intact reports whether r is unflagged and its link recomputes from its own
// predecessor. It never writes.
func (e *Engine) intact(ctx context.Context, r *Record) (bool, error) {
	if !r.Valid {
		return false, nil
	}
	prevLink, _, err := e.prevLinkOf(ctx, r)
	if err != nil {
		return false, err
	}
	ok, _ := e.linkMatches(r, prevLink)
	return ok, nil
}
