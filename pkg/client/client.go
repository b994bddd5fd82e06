package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotFound matches an *APIError with status 404.
	ErrNotFound = errors.New("not found")
	// ErrConflict matches an *APIError with status 409.
	ErrConflict = errors.New("already registered")
)

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// Is reports whether e matches ErrNotFound or ErrConflict.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	}
	return false
}

// Certificate is a ledger record as returned by the server.
type Certificate struct {
	ID          string         `json:"id"`
	ContentHash string         `json:"content_hash"`
	Metadata    map[string]any `json:"metadata"`
	IssuedAt    time.Time      `json:"issued_at"`
	IssuerRef   string         `json:"issuer_ref"`
	ChainLink   string         `json:"chain_link"`
	Scheme      int            `json:"scheme"`
	Valid       bool           `json:"valid"`
}

// ChainStatus describes the continuity of a record with its neighbours.
type ChainStatus struct {
	Connected  bool   `json:"connected"`
	PrevIntact bool   `json:"prev_intact"`
	NextIntact bool   `json:"next_intact"`
	Message    string `json:"message"`
}

// VerifyResult is the response of a verification.
type VerifyResult struct {
	Found       bool         `json:"found"`
	Status      string       `json:"status"`
	Valid       bool         `json:"valid"`
	Tampered    bool         `json:"tampered"`
	Message     string       `json:"message"`
	ChainStatus *ChainStatus `json:"chain_status,omitempty"`
	Data        *Certificate `json:"data,omitempty"`
}

// RecentEntry is a public listing entry. The recipient name is masked.
type RecentEntry struct {
	ContentHash string         `json:"content_hash"`
	Metadata    map[string]any `json:"metadata"`
	IssuedAt    string         `json:"issued_at"`
	IssuerRef   string         `json:"issuer_ref"`
	ChainLink   string         `json:"chain_link"`
	Valid       bool           `json:"valid"`
}

// Pagination describes a page of results.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// RecentPage is one page of the recent certificates listing.
type RecentPage struct {
	Data       []RecentEntry `json:"data"`
	Pagination Pagination    `json:"pagination"`
}

// LedgerOverview summarises the chain.
type LedgerOverview struct {
	Records int    `json:"records"`
	Head    string `json:"head"`
}

// AuditReport is the result of a full chain walk.
type AuditReport struct {
	Records     int    `json:"records"`
	Flagged     int    `json:"flagged"`
	Head        string `json:"head"`
	Intact      bool   `json:"intact"`
	BrokenAt    string `json:"broken_at,omitempty"`
	BrokenIndex int    `json:"broken_index"`
}

// IssueRequest is the input to Issue.
type IssueRequest struct {
	FileName string
	Data     []byte
	Metadata map[string]any
	// IssuerID is sent as the issuer_id form field. Servers with issuer
	// authentication enabled ignore it and use the bearer token instead.
	IssuerID string
	// SendHash asks the server to check the upload against a locally
	// computed digest.
	SendHash bool
}

// Client talks to a certchain server.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches an issuer token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithTimeout sets the request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpClient.Timeout = d
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: c.httpClient.Timeout,
		}
		return nil
	}
}

// New creates a new Client for the server at baseURL.
//
//	c, err := client.New("http://localhost:8080", client.WithTimeout(30*time.Second))
func New(baseURL string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// HashBytes returns the content hash the server computes for data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return "0x" + hex.EncodeToString(sum[:])
}

// Issue uploads a certificate file and appends it to the ledger.
func (c *Client) Issue(ctx context.Context, req IssueRequest) (*Certificate, error) {
	md := req.Metadata
	if md == nil {
		md = map[string]any{}
	}
	mdJSON, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	fields := map[string]string{"metadata": string(mdJSON)}
	if req.IssuerID != "" {
		fields["issuer_id"] = req.IssuerID
	}
	if req.SendHash {
		fields["hash"] = HashBytes(req.Data)
	}
	body, contentType, err := multipartBody(req.FileName, req.Data, fields)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data Certificate `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/certificates/issue", contentType, body, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// Verify checks the record stored under contentHash.
func (c *Client) Verify(ctx context.Context, contentHash string) (*VerifyResult, error) {
	b, err := json.Marshal(map[string]string{"hash": contentHash})
	if err != nil {
		return nil, err
	}
	var res VerifyResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/certificates/verify", "application/json", bytes.NewReader(b), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// VerifyFile uploads data and verifies the record of its content hash.
func (c *Client) VerifyFile(ctx context.Context, fileName string, data []byte) (*VerifyResult, error) {
	body, contentType, err := multipartBody(fileName, data, nil)
	if err != nil {
		return nil, err
	}
	var res VerifyResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/certificates/verify", contentType, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Get returns the record stored under contentHash without verifying it.
func (c *Client) Get(ctx context.Context, contentHash string) (*Certificate, error) {
	var cert Certificate
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/certificates/"+url.PathEscape(contentHash), "", nil, &cert); err != nil {
		return nil, err
	}
	return &cert, nil
}

// Download returns the stored certificate file.
func (c *Client) Download(ctx context.Context, contentHash string) ([]byte, error) {
	_, body, err := c.do(ctx, http.MethodGet, "/api/v1/certificates/"+url.PathEscape(contentHash)+"/file", "", nil)
	return body, err
}

// Recent lists certificates newest first.
func (c *Client) Recent(ctx context.Context, page, limit int) (*RecentPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	var p RecentPage
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/certificates/recent?"+q.Encode(), "", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Ledger returns the record count and the head link.
func (c *Client) Ledger(ctx context.Context) (*LedgerOverview, error) {
	var ov LedgerOverview
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/ledger", "", nil, &ov); err != nil {
		return nil, err
	}
	return &ov, nil
}

// Audit asks the server to walk the full chain.
func (c *Client) Audit(ctx context.Context) (*AuditReport, error) {
	var r AuditReport
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/ledger/audit", "", nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func multipartBody(fileName string, data []byte, fields map[string]string) (io.Reader, string, error) {
	if fileName == "" {
		fileName = "certificate"
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, "", fmt.Errorf("write form file: %w", err)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func (c *Client) doJSON(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	_, respBody, err := c.do(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return resp.StatusCode, nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	return resp.StatusCode, respBody, nil
}
