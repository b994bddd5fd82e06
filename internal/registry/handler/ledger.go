package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/certchain/internal/registry/service"
	"go.uber.org/zap"
)

// LedgerHandler exposes read-only HTTP endpoints for the certificate chain.
type LedgerHandler struct {
	svc    *service.CertificateService
	logger *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(svc *service.CertificateService, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{svc: svc, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledger")
	{
		l.GET("", h.Overview)
		l.GET("/audit", h.Audit)
	}
}

// Overview handles GET /ledger and returns the record count and head link.
func (h *LedgerHandler) Overview(c *gin.Context) {
	ov, err := h.svc.Overview(c.Request.Context())
	if err != nil {
		h.logger.Error("ledger overview", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to query ledger"})
		return
	}
	SetLedgerRecords(float64(ov.Records))
	c.JSON(http.StatusOK, ov)
}

// Audit handles GET /ledger/audit. It walks the full chain and reports the
// first broken link without flagging anything.
func (h *LedgerHandler) Audit(c *gin.Context) {
	report, err := h.svc.Audit(c.Request.Context())
	if err != nil {
		h.logger.Error("ledger audit", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to audit ledger"})
		return
	}
	if !report.Intact {
		h.logger.Warn("ledger integrity check failed",
			zap.String("broken_at", report.BrokenAt),
			zap.Int("broken_index", report.BrokenIndex),
		)
	}
	c.JSON(http.StatusOK, report)
}
