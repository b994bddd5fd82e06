package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"
)

// ErrUnknownScheme is returned for a hash-scheme version this build cannot compute.
var ErrUnknownScheme = errors.New("unknown hash scheme")

// Scheme is the versioned recipe used to compute a record's chain link. It is
// stored on every record so that verification always recomputes a link the
// same way it was issued, regardless of the deployment's current default.
type Scheme int

const (
	// SchemeLegacyKeccak is Keccak-256 over "prev-hash-metadata-issuer-ts-secret"
	// with millisecond ISO-8601 timestamps. It reproduces links written by the
	// earlier JavaScript deployment so imported records remain verifiable.
	SchemeLegacyKeccak Scheme = 1

	// SchemeHMACSHA256 is HMAC-SHA256 keyed by the ledger secret over
	// "prev|hash|metadata|issuer|ts" with microsecond RFC 3339 timestamps.
	SchemeHMACSHA256 Scheme = 2

	// DefaultScheme is used for new issuance unless configured otherwise.
	DefaultScheme = SchemeHMACSHA256
)

const (
	legacyTimeLayout = "2006-01-02T15:04:05.000Z"
	hmacTimeLayout   = "2006-01-02T15:04:05.000000Z"
)

// ParseScheme accepts a scheme name ("legacy-keccak", "hmac-sha256") or its
// numeric version.
func ParseScheme(s string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "legacy-keccak", "keccak", "1":
		return SchemeLegacyKeccak, nil
	case "hmac-sha256", "hmac", "2", "":
		return SchemeHMACSHA256, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownScheme, s)
}

// String implements fmt.Stringer.
func (s Scheme) String() string {
	switch s {
	case SchemeLegacyKeccak:
		return "legacy-keccak"
	case SchemeHMACSHA256:
		return "hmac-sha256"
	default:
		return "scheme(" + strconv.Itoa(int(s)) + ")"
	}
}

// Known reports whether s can be computed by this build.
func (s Scheme) Known() bool {
	return s == SchemeLegacyKeccak || s == SchemeHMACSHA256
}

// Precision is the finest timestamp resolution that survives the scheme's
// textual timestamp form.
func (s Scheme) Precision() time.Duration {
	if s == SchemeLegacyKeccak {
		return time.Millisecond
	}
	return time.Microsecond
}

// Normalize converts t to UTC and truncates it to the scheme's precision.
func (s Scheme) Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(s.Precision())
}

// FormatTime renders t in the scheme's one fixed textual form, always UTC with
// an explicit Z suffix. Naive timestamps read back from a store are treated as UTC.
func (s Scheme) FormatTime(t time.Time) string {
	if s == SchemeLegacyKeccak {
		return t.UTC().Format(legacyTimeLayout)
	}
	return t.UTC().Format(hmacTimeLayout)
}

// Link computes a chain link. It is a pure function of its inputs: the
// predecessor's link (or GenesisLink), the record's content hash, its
// canonical metadata, its issuer, its issue time and the deployment secret.
// The result is a 0x-prefixed lowercase hex 256-bit digest.
func Link(scheme Scheme, prevLink, contentHash string, canonicalMetadata []byte, issuerRef string, issuedAt time.Time, secret []byte) (string, error) {
	var h hash.Hash
	var sep string
	switch scheme {
	case SchemeLegacyKeccak:
		h = sha3.NewLegacyKeccak256()
		sep = "-"
	case SchemeHMACSHA256:
		h = hmac.New(sha256.New, secret)
		sep = "|"
	default:
		return "", fmt.Errorf("%w: %d", ErrUnknownScheme, int(scheme))
	}

	h.Write([]byte(prevLink))
	h.Write([]byte(sep))
	h.Write([]byte(contentHash))
	h.Write([]byte(sep))
	h.Write(canonicalMetadata)
	h.Write([]byte(sep))
	h.Write([]byte(issuerRef))
	h.Write([]byte(sep))
	h.Write([]byte(scheme.FormatTime(issuedAt)))
	if scheme == SchemeLegacyKeccak {
		h.Write([]byte(sep))
		h.Write(secret)
	}
	return "0x" + hex.EncodeToString(h.Sum(nil)), nil
}

// Hasher binds the deployment's issuing scheme and secret.
type Hasher struct {
	scheme Scheme
	secret []byte
}

// NewHasher creates a Hasher issuing under scheme with the given secret.
func NewHasher(scheme Scheme, secret string) (*Hasher, error) {
	if !scheme.Known() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownScheme, int(scheme))
	}
	return &Hasher{scheme: scheme, secret: []byte(secret)}, nil
}

// Scheme returns the scheme used for new issuance.
func (h *Hasher) Scheme() Scheme { return h.scheme }

// Keyed reports whether a non-empty secret is configured.
func (h *Hasher) Keyed() bool { return len(h.secret) > 0 }

// LinkRecord recomputes the link for r given its predecessor's link, using the
// scheme stored on r.
func (h *Hasher) LinkRecord(r *Record, prevLink string) (string, error) {
	canon, err := Canonicalize(r.Metadata)
	if err != nil {
		return "", err
	}
	return Link(r.Scheme, prevLink, r.ContentHash, canon, r.IssuerRef, r.IssuedAt, h.secret)
}
