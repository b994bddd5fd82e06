package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/certchain/internal/filestore"
	"github.com/jmerrifield20/certchain/internal/identity"
	"github.com/jmerrifield20/certchain/internal/ledger"
	"github.com/jmerrifield20/certchain/internal/registry/handler"
	"github.com/jmerrifield20/certchain/internal/registry/service"
	"go.uber.org/zap"
)

func setupRouter(t *testing.T, tokens *identity.IssuerTokens) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hasher, err := ledger.NewHasher(ledger.DefaultScheme, "test-secret")
	if err != nil {
		t.Fatal(err)
	}
	engine := ledger.NewEngine(ledger.NewMemoryStore(), hasher, zap.NewNop())
	svc := service.NewCertificateService(engine, filestore.NewMemoryStore(), zap.NewNop())

	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewCertificateHandler(svc, tokens, zap.NewNop()).Register(v1)
	handler.NewLedgerHandler(svc, zap.NewNop()).Register(v1)
	return r
}

func issueForm(t *testing.T, fields map[string]string, file []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if file != nil {
		fw, err := w.CreateFormFile("file", "diploma.pdf")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(file)
	}
	for k, v := range fields {
		w.WriteField(k, v)
	}
	w.Close()
	return &buf, w.FormDataContentType()
}

func doIssue(t *testing.T, r *gin.Engine, fields map[string]string, file []byte, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := issueForm(t, fields, file)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/certificates/issue", body)
	req.Header.Set("Content-Type", ct)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func doVerify(t *testing.T, r *gin.Engine, hash string) map[string]any {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/certificates/verify",
		strings.NewReader(`{"hash":"`+hash+`"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

var validFields = map[string]string{
	"metadata":  `{"name":"Jane Doe","institution":"MIT"}`,
	"issuer_id": "issuer-mit",
}

func TestIssue_201(t *testing.T) {
	r := setupRouter(t, nil)
	w := doIssue(t, r, validFields, []byte("diploma-bytes"), "")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data ledger.Record `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Data.ContentHash != ledger.ContentHash([]byte("diploma-bytes")) {
		t.Errorf("content_hash = %s", resp.Data.ContentHash)
	}
	if resp.Data.IssuerRef != "issuer-mit" {
		t.Errorf("issuer_ref = %s", resp.Data.IssuerRef)
	}
}

func TestIssue_errors(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		file   []byte
		want   int
	}{
		{"missing file", validFields, nil, http.StatusBadRequest},
		{"nested metadata", map[string]string{"metadata": `{"a":{"b":1}}`, "issuer_id": "i"}, []byte("x"), http.StatusBadRequest},
		{"missing issuer", map[string]string{"metadata": `{}`}, []byte("x"), http.StatusBadRequest},
		{"hash mismatch", map[string]string{"metadata": `{}`, "issuer_id": "i", "hash": ledger.ContentHash([]byte("y"))}, []byte("x"), http.StatusBadRequest},
		{"NUL in metadata", map[string]string{"metadata": `{"name":"a\u0000b","institution":"U"}`, "issuer_id": "i"}, []byte("x"), http.StatusBadRequest},
		{"NUL in issuer", map[string]string{"metadata": `{"name":"A","institution":"U"}`, "issuer_id": "reg\x00istrar"}, []byte("x"), http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := setupRouter(t, nil)
			if w := doIssue(t, r, tc.fields, tc.file, ""); w.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestIssue_409_duplicate(t *testing.T) {
	r := setupRouter(t, nil)
	if w := doIssue(t, r, validFields, []byte("same"), ""); w.Code != http.StatusCreated {
		t.Fatalf("first issue: %d %s", w.Code, w.Body.String())
	}
	if w := doIssue(t, r, validFields, []byte("same"), ""); w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestIssue_issuerFromToken(t *testing.T) {
	tokens, err := identity.NewIssuerTokens("jwt-secret", "certchain", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	r := setupRouter(t, tokens)

	if w := doIssue(t, r, validFields, []byte("x"), ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	token, _ := tokens.Issue("issuer-from-token", "")
	w := doIssue(t, r, validFields, []byte("x"), token)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"issuer_ref":"issuer-from-token"`) {
		t.Errorf("form issuer_id should be ignored when tokens are configured: %s", w.Body.String())
	}
}

func TestVerify_validAndChain(t *testing.T) {
	r := setupRouter(t, nil)
	doIssue(t, r, validFields, []byte("first"), "")
	doIssue(t, r, validFields, []byte("second"), "")

	resp := doVerify(t, r, ledger.ContentHash([]byte("first")))
	if resp["found"] != true || resp["valid"] != true || resp["tampered"] != false {
		t.Fatalf("unexpected response: %v", resp)
	}
	cs := resp["chain_status"].(map[string]any)
	if cs["connected"] != true || cs["message"] != "connected to next record" {
		t.Errorf("chain_status = %v", cs)
	}

	resp = doVerify(t, r, ledger.ContentHash([]byte("second")))
	cs = resp["chain_status"].(map[string]any)
	if cs["message"] != "latest record (chain head)" {
		t.Errorf("head chain_status = %v", cs)
	}
}

func TestVerify_notFound(t *testing.T) {
	r := setupRouter(t, nil)
	resp := doVerify(t, r, ledger.ContentHash([]byte("nothing")))
	if resp["found"] != false || resp["valid"] != false || resp["status"] != "not_found" {
		t.Errorf("unexpected response: %v", resp)
	}
}

func TestVerify_byFile(t *testing.T) {
	r := setupRouter(t, nil)
	doIssue(t, r, validFields, []byte("upload-me"), "")

	body, ct := issueForm(t, nil, []byte("upload-me"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/certificates/verify", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"valid":true`) {
		t.Errorf("expected valid verification, got %d: %s", w.Code, w.Body.String())
	}
}

func TestVerify_400(t *testing.T) {
	r := setupRouter(t, nil)
	for _, body := range []string{`{}`, `{"hash":"0x12"}`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/certificates/verify", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, w.Code)
		}
	}
}

func TestGet_and404(t *testing.T) {
	r := setupRouter(t, nil)
	doIssue(t, r, validFields, []byte("lookup"), "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/certificates/"+ledger.ContentHash([]byte("lookup")), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/certificates/"+ledger.ContentHash([]byte("missing")), nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestDownload(t *testing.T) {
	r := setupRouter(t, nil)
	doIssue(t, r, validFields, []byte("%PDF-bytes"), "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/certificates/"+ledger.ContentHash([]byte("%PDF-bytes"))+"/file", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "%PDF-bytes" {
		t.Errorf("Download: %d %q", w.Code, w.Body.String())
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "diploma.pdf") {
		t.Errorf("Content-Disposition = %q", cd)
	}
}

func TestRecent_masksNamesAndPaginates(t *testing.T) {
	r := setupRouter(t, nil)
	for _, f := range []string{"a", "b", "c"} {
		doIssue(t, r, validFields, []byte(f), "")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/certificates/recent?page=1&limit=2", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Data []struct {
			ContentHash string            `json:"content_hash"`
			Metadata    map[string]string `json:"metadata"`
		} `json:"data"`
		Pagination struct {
			Page, Limit, Total int
			TotalPages         int `json:"total_pages"`
		} `json:"pagination"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != 2 || resp.Pagination.Total != 3 || resp.Pagination.TotalPages != 2 {
		t.Fatalf("unexpected page: %+v", resp)
	}
	if resp.Data[0].ContentHash != ledger.ContentHash([]byte("c")) {
		t.Errorf("expected newest first, got %s", resp.Data[0].ContentHash)
	}
	if got := resp.Data[0].Metadata["name"]; got != "J*** D**" {
		t.Errorf("name not masked: %q", got)
	}
}

func TestRecent_hugePageIs400(t *testing.T) {
	r := setupRouter(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/certificates/recent?page=9223372036854775807&limit=10", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestLedger_overviewAndAudit(t *testing.T) {
	r := setupRouter(t, nil)
	doIssue(t, r, validFields, []byte("one"), "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ledger", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var ov service.Overview
	json.Unmarshal(w.Body.Bytes(), &ov)
	if w.Code != http.StatusOK || ov.Records != 1 || ov.Head == ledger.GenesisLink {
		t.Errorf("overview: %d %+v", w.Code, ov)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/ledger/audit", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var report ledger.AuditReport
	json.Unmarshal(w.Body.Bytes(), &report)
	if w.Code != http.StatusOK || !report.Intact || report.Records != 1 {
		t.Errorf("audit: %d %+v", w.Code, report)
	}
}

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := gin.New()
	r.Use(handler.RateLimiter(ctx, 1, 2))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 3)
	for i := range codes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		codes[i] = w.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("status codes = %v, want [200 200 429]", codes)
	}
}
