// Package client is the certchain Go SDK.
//
// It wraps the HTTP API of a certchain server: issuing certificates into the
// ledger, verifying them by content hash or by file, and browsing the chain.
//
// # Issuing a certificate
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithBearerToken(os.Getenv("CERTCHAIN_TOKEN")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	cert, err := c.Issue(ctx, client.IssueRequest{
//	    FileName: "diploma.pdf",
//	    Data:     pdfBytes,
//	    Metadata: map[string]any{"name": "Jane Doe", "institution": "MIT"},
//	})
//
// # Verifying
//
//	res, err := c.Verify(ctx, cert.ContentHash)
//	if res.Tampered {
//	    // the record no longer matches its chain link
//	}
//
// Errors returned for non-2xx responses are *APIError values; use errors.Is
// with ErrNotFound or ErrConflict to test for the common cases.
package client
