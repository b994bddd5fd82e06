package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jmerrifield20/certchain/internal/events"
	"github.com/jmerrifield20/certchain/internal/filestore"
	"github.com/jmerrifield20/certchain/internal/ledger"
	"github.com/jmerrifield20/certchain/internal/metadata"
	"go.uber.org/zap"
)

var (
	// ErrEmptyFile is returned when an issuance carries no file bytes.
	ErrEmptyFile = errors.New("certificate file is empty")
	// ErrHashMismatch is returned when a client-supplied content hash does not
	// match the digest of the uploaded bytes.
	ErrHashMismatch = errors.New("supplied hash does not match file contents")
	// ErrInvalidPage is returned for a page number past any addressable offset.
	ErrInvalidPage = errors.New("page out of range")
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// IssueRequest is the input to CertificateService.Issue.
type IssueRequest struct {
	Data        []byte
	FileName    string
	ContentType string

	// ClaimedHash is optional. When set it must equal the digest of Data.
	ClaimedHash string

	// Metadata is the raw JSON metadata object.
	Metadata  []byte
	IssuerRef string
}

// Page is one page of the certificate listing, newest first.
type Page struct {
	Items      []*ledger.Record `json:"data"`
	Page       int              `json:"page"`
	Limit      int              `json:"limit"`
	Total      int              `json:"total"`
	TotalPages int              `json:"total_pages"`
}

// Overview summarises the ledger.
type Overview struct {
	Records int    `json:"records"`
	Head    string `json:"head"`
}

// CertificateService coordinates the file store, the ledger engine and event
// publication for certificate issuance and verification.
type CertificateService struct {
	engine    *ledger.Engine
	files     filestore.Store
	validator *metadata.Validator // nil = no schema validation
	publisher events.Publisher
	logger    *zap.Logger
}

// NewCertificateService creates a new CertificateService. Events are dropped
// until SetPublisher is called.
func NewCertificateService(engine *ledger.Engine, files filestore.Store, logger *zap.Logger) *CertificateService {
	return &CertificateService{
		engine:    engine,
		files:     files,
		publisher: events.NewNoopPublisher(logger),
		logger:    logger,
	}
}

// SetValidator enables JSON schema validation of metadata.
func (s *CertificateService) SetValidator(v *metadata.Validator) { s.validator = v }

// SetPublisher sets the event publisher.
func (s *CertificateService) SetPublisher(p events.Publisher) { s.publisher = p }

// Issue stores the certificate file and appends its record to the ledger.
// If the ledger append fails the stored file is removed again, so the file
// store never holds a file the ledger does not know.
func (s *CertificateService) Issue(ctx context.Context, req IssueRequest) (*ledger.Record, error) {
	if len(req.Data) == 0 {
		return nil, ErrEmptyFile
	}

	hash := ledger.ContentHash(req.Data)
	if req.ClaimedHash != "" {
		claimed, err := ledger.NormalizeContentHash(req.ClaimedHash)
		if err != nil {
			return nil, err
		}
		if claimed != hash {
			return nil, fmt.Errorf("%w: got %s, computed %s", ErrHashMismatch, claimed, hash)
		}
	}

	raw := req.Metadata
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	md, err := ledger.ParseMetadata(raw)
	if err != nil {
		return nil, err
	}
	if s.validator != nil {
		if err := s.validator.Validate(raw); err != nil {
			return nil, err
		}
	}

	store := s.engine.Store()
	switch _, err := store.FindByContentHash(ctx, hash); {
	case err == nil:
		return nil, ledger.ErrDuplicateContent
	case !errors.Is(err, ledger.ErrNotFound):
		return nil, &ledger.StoreError{Op: "find_by_content_hash", ContentHash: hash, Err: err}
	}

	file := &filestore.File{ContentType: req.ContentType, Name: req.FileName, Data: req.Data}
	if err := s.files.Put(ctx, hash, file); err != nil {
		return nil, &ledger.StoreError{Op: "put_file", ContentHash: hash, Err: err}
	}

	rec, err := s.engine.Issue(ctx, hash, md, req.IssuerRef)
	if err != nil {
		s.compensate(hash)
		return nil, err
	}

	s.logger.Info("certificate issued",
		zap.String("content_hash", rec.ContentHash),
		zap.String("issuer_ref", rec.IssuerRef),
		zap.String("chain_link", rec.ChainLink),
	)
	s.publish(ctx, events.Event{
		Type:        events.TypeIssued,
		ContentHash: rec.ContentHash,
		IssuerRef:   rec.IssuerRef,
		ChainLink:   rec.ChainLink,
		Timestamp:   rec.IssuedAt,
	})
	return rec, nil
}

// compensate removes a stored file after a failed ledger append. The file is
// shared by every upload of the same bytes, so it stays whenever a record for
// hash exists, or its existence cannot be ruled out. It runs on a fresh
// context because the request context may already be cancelled.
func (s *CertificateService) compensate(hash string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch _, err := s.engine.Store().FindByContentHash(ctx, hash); {
	case err == nil:
		return
	case !errors.Is(err, ledger.ErrNotFound):
		s.logger.Warn("keeping certificate file: ledger lookup failed",
			zap.String("content_hash", hash), zap.Error(err))
		return
	}

	if err := s.files.Delete(ctx, hash); err != nil {
		s.logger.Error("failed to remove orphaned certificate file",
			zap.String("content_hash", hash), zap.Error(err))
	}
}

// Verify checks the record stored under contentHash.
func (s *CertificateService) Verify(ctx context.Context, contentHash string) (*ledger.Outcome, error) {
	out, err := s.engine.Verify(ctx, contentHash)
	if err != nil {
		return nil, err
	}
	// Stored is only populated when this call flagged the record.
	if out.Status == ledger.StatusTampered && out.Stored != "" {
		s.publish(ctx, events.Event{
			Type:        events.TypeTampered,
			ContentHash: out.Record.ContentHash,
			IssuerRef:   out.Record.IssuerRef,
			ChainLink:   out.Stored,
			Detail:      out.Message,
			Timestamp:   time.Now().UTC(),
		})
	}
	return out, nil
}

// VerifyFile hashes data and verifies the resulting content hash.
func (s *CertificateService) VerifyFile(ctx context.Context, data []byte) (*ledger.Outcome, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	return s.Verify(ctx, ledger.ContentHash(data))
}

// Get returns the record stored under contentHash without verifying it.
func (s *CertificateService) Get(ctx context.Context, contentHash string) (*ledger.Record, error) {
	hash, err := ledger.NormalizeContentHash(contentHash)
	if err != nil {
		return nil, err
	}
	rec, err := s.engine.Store().FindByContentHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, err
		}
		return nil, &ledger.StoreError{Op: "find_by_content_hash", ContentHash: hash, Err: err}
	}
	return rec, nil
}

// File returns the stored certificate file for contentHash.
func (s *CertificateService) File(ctx context.Context, contentHash string) (*filestore.File, error) {
	hash, err := ledger.NormalizeContentHash(contentHash)
	if err != nil {
		return nil, err
	}
	return s.files.Get(ctx, hash)
}

// Recent returns one page of records, newest first. page is 1-based; limit
// defaults to 10 and is capped at 100. A page whose offset does not fit in
// a 32-bit signed integer fails with ErrInvalidPage.
func (s *CertificateService) Recent(ctx context.Context, page, limit int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if page-1 > math.MaxInt32/limit {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPage, page)
	}

	store := s.engine.Store()
	total, err := store.Count(ctx)
	if err != nil {
		return nil, &ledger.StoreError{Op: "count", Err: err}
	}
	items, err := store.List(ctx, limit, (page-1)*limit)
	if err != nil {
		return nil, &ledger.StoreError{Op: "list", Err: err}
	}
	if items == nil {
		items = []*ledger.Record{}
	}
	return &Page{
		Items:      items,
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: (total + limit - 1) / limit,
	}, nil
}

// Overview returns the record count and the current head link.
func (s *CertificateService) Overview(ctx context.Context) (*Overview, error) {
	store := s.engine.Store()
	count, err := store.Count(ctx)
	if err != nil {
		return nil, &ledger.StoreError{Op: "count", Err: err}
	}
	head := ledger.GenesisLink
	switch rec, err := store.FindHead(ctx); {
	case err == nil:
		head = rec.ChainLink
	case !errors.Is(err, ledger.ErrNotFound):
		return nil, &ledger.StoreError{Op: "find_head", Err: err}
	}
	return &Overview{Records: count, Head: head}, nil
}

// Audit walks the full chain. It never flags records.
func (s *CertificateService) Audit(ctx context.Context) (*ledger.AuditReport, error) {
	return s.engine.Audit(ctx)
}

// publish delivers an event; failure is logged and never returned.
func (s *CertificateService) publish(ctx context.Context, evt events.Event) {
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("event publish failed (non-fatal)",
			zap.String("type", evt.Type),
			zap.String("content_hash", evt.ContentHash),
			zap.Error(err),
		)
	}
}
