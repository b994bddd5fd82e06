package handler

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/certchain/internal/filestore"
	"github.com/jmerrifield20/certchain/internal/identity"
	"github.com/jmerrifield20/certchain/internal/ledger"
	"github.com/jmerrifield20/certchain/internal/metadata"
	"github.com/jmerrifield20/certchain/internal/registry/service"
	"go.uber.org/zap"
)

// CertificateHandler handles HTTP requests for certificate issuance and
// verification.
type CertificateHandler struct {
	svc    *service.CertificateService
	tokens *identity.IssuerTokens // nil = issuer taken from the issuer_id form field
	logger *zap.Logger
}

// NewCertificateHandler creates a new CertificateHandler.
// tokens may be nil to run without issuer authentication (development mode).
func NewCertificateHandler(svc *service.CertificateService, tokens *identity.IssuerTokens, logger *zap.Logger) *CertificateHandler {
	return &CertificateHandler{svc: svc, tokens: tokens, logger: logger}
}

// requireIssuer returns the RequireIssuer middleware when issuer auth is
// configured, or a no-op middleware otherwise.
func (h *CertificateHandler) requireIssuer() gin.HandlerFunc {
	if h.tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return identity.RequireIssuer(h.tokens)
}

// Register mounts the certificate routes on the given router group.
func (h *CertificateHandler) Register(rg *gin.RouterGroup) {
	certs := rg.Group("/certificates")
	{
		certs.POST("/issue", h.requireIssuer(), h.Issue)
		certs.POST("/verify", h.Verify)
		certs.GET("/recent", h.Recent)
		certs.GET("/:hash", h.Get)
		certs.GET("/:hash/file", h.Download)
	}
}

// Issue handles POST /certificates/issue: multipart form with a "file" part,
// a "metadata" JSON object, an optional "hash" and, without issuer auth, an
// "issuer_id".
func (h *CertificateHandler) Issue(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	data, err := readFormFile(fh)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read file"})
		return
	}

	issuerRef := identity.IssuerRefFromCtx(c)
	if h.tokens == nil {
		issuerRef = c.PostForm("issuer_id")
	}

	rec, err := h.svc.Issue(c.Request.Context(), service.IssueRequest{
		Data:        data,
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		ClaimedHash: c.PostForm("hash"),
		Metadata:    []byte(c.PostForm("metadata")),
		IssuerRef:   issuerRef,
	})
	if err != nil {
		h.writeError(c, "issue certificate", err)
		return
	}

	RecordIssuance()
	c.JSON(http.StatusCreated, gin.H{
		"message": "certificate issued",
		"data":    rec,
	})
}

type verifyRequest struct {
	Hash string `json:"hash" binding:"required"`
}

// Verify handles POST /certificates/verify. The body is either JSON
// {"hash": "0x..."} or a multipart form with a "file" part to hash.
func (h *CertificateHandler) Verify(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		out *ledger.Outcome
		err error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, ferr := c.FormFile("file")
		if ferr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		data, ferr := readFormFile(fh)
		if ferr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read file"})
			return
		}
		out, err = h.svc.VerifyFile(ctx, data)
	} else {
		var req verifyRequest
		if berr := c.ShouldBindJSON(&req); berr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "hash is required"})
			return
		}
		out, err = h.svc.Verify(ctx, req.Hash)
	}
	if err != nil {
		h.writeError(c, "verify certificate", err)
		return
	}

	RecordVerification(string(out.Status))
	if out.Status == ledger.StatusTampered && out.Stored != "" {
		RecordTamperFlag()
	}
	c.JSON(http.StatusOK, verifyResponse(out))
}

func verifyResponse(out *ledger.Outcome) gin.H {
	resp := gin.H{
		"found":    out.Status != ledger.StatusNotFound,
		"status":   out.Status,
		"valid":    out.Status == ledger.StatusValid,
		"tampered": out.Status == ledger.StatusTampered,
		"message":  out.Message,
	}
	if out.Record != nil {
		resp["data"] = out.Record
	}
	if out.Status == ledger.StatusValid {
		resp["chain_status"] = gin.H{
			"connected":   out.Connected,
			"prev_intact": out.PrevIntact,
			"next_intact": out.NextIntact,
			"message":     out.Message,
		}
	}
	if out.Stored != "" {
		resp["debug"] = gin.H{"stored": out.Stored, "calculated": out.Calculated}
	}
	return resp
}

// Get handles GET /certificates/:hash and returns the stored record without
// verifying it.
func (h *CertificateHandler) Get(c *gin.Context) {
	rec, err := h.svc.Get(c.Request.Context(), c.Param("hash"))
	if err != nil {
		h.writeError(c, "get certificate", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Download handles GET /certificates/:hash/file.
func (h *CertificateHandler) Download(c *gin.Context) {
	f, err := h.svc.File(c.Request.Context(), c.Param("hash"))
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		h.writeError(c, "download certificate", err)
		return
	}
	ct := f.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	if f.Name != "" {
		c.Header("Content-Disposition", "attachment; filename="+strconv.Quote(f.Name))
	}
	c.Data(http.StatusOK, ct, f.Data)
}

// recentItem is a public listing entry. The recipient name is masked.
type recentItem struct {
	ContentHash string          `json:"content_hash"`
	Metadata    ledger.Metadata `json:"metadata"`
	IssuedAt    string          `json:"issued_at"`
	IssuerRef   string          `json:"issuer_ref"`
	ChainLink   string          `json:"chain_link"`
	Valid       bool            `json:"valid"`
}

// Recent handles GET /certificates/recent?page=&limit=.
func (h *CertificateHandler) Recent(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	p, err := h.svc.Recent(c.Request.Context(), page, limit)
	if err != nil {
		h.writeError(c, "list recent certificates", err)
		return
	}

	items := make([]recentItem, 0, len(p.Items))
	for _, r := range p.Items {
		md := r.Metadata.Clone()
		if name, ok := md["name"]; ok && name.Kind() == ledger.KindString {
			md["name"] = ledger.String(metadata.Mask(name.Str()))
		}
		items = append(items, recentItem{
			ContentHash: r.ContentHash,
			Metadata:    md,
			IssuedAt:    r.Scheme.FormatTime(r.IssuedAt),
			IssuerRef:   r.IssuerRef,
			ChainLink:   r.ChainLink,
			Valid:       r.Valid,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"data": items,
		"pagination": gin.H{
			"page":        p.Page,
			"limit":       p.Limit,
			"total":       p.Total,
			"total_pages": p.TotalPages,
		},
	})
}

// writeError maps service and ledger errors to HTTP responses.
func (h *CertificateHandler) writeError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, ledger.ErrDuplicateContent):
		c.JSON(http.StatusConflict, gin.H{"error": "certificate already registered"})
	case errors.Is(err, ledger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "certificate not found"})
	case errors.Is(err, ledger.ErrInvalidMetadata),
		errors.Is(err, metadata.ErrSchemaViolation),
		errors.Is(err, ledger.ErrInvalidContentHash),
		errors.Is(err, ledger.ErrMissingIssuer),
		errors.Is(err, ledger.ErrInvalidIssuer),
		errors.Is(err, service.ErrEmptyFile),
		errors.Is(err, service.ErrHashMismatch),
		errors.Is(err, service.ErrInvalidPage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrStoreUnavailable):
		h.logger.Error(op, zap.Error(err))
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger temporarily unavailable"})
	default:
		h.logger.Error(op, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
	}
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
