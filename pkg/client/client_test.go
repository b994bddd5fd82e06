package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/certchain/internal/filestore"
	"github.com/jmerrifield20/certchain/internal/identity"
	"github.com/jmerrifield20/certchain/internal/ledger"
	"github.com/jmerrifield20/certchain/internal/registry/handler"
	"github.com/jmerrifield20/certchain/internal/registry/service"
	"github.com/jmerrifield20/certchain/pkg/client"
	"go.uber.org/zap"
)

// ── Test server ─────────────────────────────────────────────────────────

func testServer(t *testing.T, tokens *identity.IssuerTokens) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hasher, err := ledger.NewHasher(ledger.DefaultScheme, "client-test")
	if err != nil {
		t.Fatal(err)
	}
	engine := ledger.NewEngine(ledger.NewMemoryStore(), hasher, zap.NewNop())
	svc := service.NewCertificateService(engine, filestore.NewMemoryStore(), zap.NewNop())

	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewCertificateHandler(svc, tokens, zap.NewNop()).Register(v1)
	handler.NewLedgerHandler(svc, zap.NewNop()).Register(v1)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

var diploma = client.IssueRequest{
	FileName: "diploma.pdf",
	Data:     []byte("%PDF diploma"),
	Metadata: map[string]any{"name": "Jane Doe", "institution": "MIT", "year": 2024},
	IssuerID: "issuer-mit",
	SendHash: true,
}

// ── Tests ───────────────────────────────────────────────────────────────

func TestClient_issueVerifyRoundTrip(t *testing.T) {
	srv := testServer(t, nil)
	c := client.MustNew(srv.URL)
	ctx := context.Background()

	cert, err := c.Issue(ctx, diploma)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if cert.ContentHash != client.HashBytes(diploma.Data) {
		t.Errorf("ContentHash = %s, want %s", cert.ContentHash, client.HashBytes(diploma.Data))
	}
	if cert.ChainLink == "" || !cert.Valid {
		t.Errorf("unexpected certificate: %+v", cert)
	}

	res, err := c.Verify(ctx, cert.ContentHash)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if !res.Found || !res.Valid || res.ChainStatus == nil || !res.ChainStatus.Connected {
		t.Errorf("Verify() = %+v", res)
	}

	res, err = c.VerifyFile(ctx, "copy.pdf", diploma.Data)
	if err != nil {
		t.Fatalf("VerifyFile() error: %v", err)
	}
	if !res.Valid {
		t.Errorf("VerifyFile() = %+v", res)
	}

	data, err := c.Download(ctx, cert.ContentHash)
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	if string(data) != string(diploma.Data) {
		t.Errorf("Download() = %q", data)
	}
}

func TestClient_duplicateIsConflict(t *testing.T) {
	srv := testServer(t, nil)
	c := client.MustNew(srv.URL)
	ctx := context.Background()

	if _, err := c.Issue(ctx, diploma); err != nil {
		t.Fatal(err)
	}
	_, err := c.Issue(ctx, diploma)
	if !errors.Is(err, client.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict {
		t.Errorf("expected *APIError with 409, got %v", err)
	}
}

func TestClient_getNotFound(t *testing.T) {
	srv := testServer(t, nil)
	c := client.MustNew(srv.URL)

	_, err := c.Get(context.Background(), client.HashBytes([]byte("missing")))
	if !errors.Is(err, client.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestClient_verifyUnknownHash(t *testing.T) {
	srv := testServer(t, nil)
	c := client.MustNew(srv.URL)

	res, err := c.Verify(context.Background(), client.HashBytes([]byte("missing")))
	if err != nil {
		t.Fatal(err)
	}
	if res.Found || res.Valid || res.Status != "not_found" {
		t.Errorf("Verify() = %+v", res)
	}
}

func TestClient_recentLedgerAudit(t *testing.T) {
	srv := testServer(t, nil)
	c := client.MustNew(srv.URL)
	ctx := context.Background()

	for _, body := range []string{"a", "b", "c"} {
		req := diploma
		req.Data = []byte(body)
		if _, err := c.Issue(ctx, req); err != nil {
			t.Fatal(err)
		}
	}

	page, err := c.Recent(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Data) != 2 || page.Pagination.Total != 3 || page.Pagination.TotalPages != 2 {
		t.Errorf("Recent() = %+v", page)
	}
	if page.Data[0].Metadata["name"] != "J*** D**" {
		t.Errorf("listing name not masked: %v", page.Data[0].Metadata["name"])
	}

	ov, err := c.Ledger(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ov.Records != 3 {
		t.Errorf("Ledger().Records = %d, want 3", ov.Records)
	}

	report, err := c.Audit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Intact || report.Head != ov.Head {
		t.Errorf("Audit() = %+v, overview head %s", report, ov.Head)
	}
}

func TestClient_bearerToken(t *testing.T) {
	tokens, err := identity.NewIssuerTokens("secret", "certchain", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	srv := testServer(t, tokens)
	ctx := context.Background()

	if _, err := client.MustNew(srv.URL).Issue(ctx, diploma); err == nil {
		t.Fatal("expected unauthenticated issue to fail")
	}

	token, _ := tokens.Issue("issuer-token", "")
	cert, err := client.MustNew(srv.URL, client.WithBearerToken(token)).Issue(ctx, diploma)
	if err != nil {
		t.Fatalf("Issue() with token: %v", err)
	}
	if cert.IssuerRef != "issuer-token" {
		t.Errorf("IssuerRef = %q, want issuer-token", cert.IssuerRef)
	}
}

func TestNew_invalidURL(t *testing.T) {
	if _, err := client.New("not a url"); err == nil {
		t.Error("expected error for invalid base URL")
	}
}
