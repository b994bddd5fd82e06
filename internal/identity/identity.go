// Package identity authenticates certificate issuers.
//
// It provides:
//   - IssuerTokens   issues and verifies HS256 JWTs whose subject is the issuer reference
//   - RequireIssuer  Gin middleware enforcing a Bearer issuer token
package identity

const ctxIssuerRef = "certchain_issuer_ref"
