package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// GenesisLink stands in for the previous link of the chronologically first record.
const GenesisLink = "0x0000000000000000000000000000000000000000000000000000000000000000"

var (
	// ErrInvalidMetadata is returned when metadata holds a value the canonical
	// encoder cannot represent (nested objects, arrays, null, NaN, ±Inf).
	ErrInvalidMetadata = errors.New("invalid certificate metadata")

	// ErrInvalidContentHash is returned when a content hash is not a 0x-prefixed
	// 256-bit hex digest.
	ErrInvalidContentHash = errors.New("invalid content hash")

	// ErrMissingIssuer is returned when issuance is attempted without an issuer reference.
	ErrMissingIssuer = errors.New("issuer reference required")

	// ErrInvalidIssuer is returned for an issuer reference that cannot be stored.
	ErrInvalidIssuer = errors.New("invalid issuer reference")
)

// Record is a single certificate in the ledger.
type Record struct {
	ID          uuid.UUID `json:"id"`
	ContentHash string    `json:"content_hash"`
	Metadata    Metadata  `json:"metadata"`
	IssuedAt    time.Time `json:"issued_at"`
	IssuerRef   string    `json:"issuer_ref"`
	ChainLink   string    `json:"chain_link"`
	Scheme      Scheme    `json:"scheme"`
	Valid       bool      `json:"valid"`
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	cp := *r
	cp.Metadata = r.Metadata.Clone()
	return &cp
}

// ContentHash returns the content address of data: 0x + lowercase hex SHA-256.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return "0x" + hex.EncodeToString(sum[:])
}

// NormalizeContentHash lowercases s and checks it is a 0x-prefixed 32-byte hex digest.
func NormalizeContentHash(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.HasPrefix(s, "0x") || len(s) != 66 {
		return "", fmt.Errorf("%w: %q", ErrInvalidContentHash, s)
	}
	if _, err := hex.DecodeString(s[2:]); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidContentHash, s)
	}
	return s, nil
}

// Kind identifies the scalar type held by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindString
	KindNumber
	KindBool
)

// Value is a scalar metadata value: a string, a number or a bool.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
}

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns a numeric Value.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Kind reports the scalar type of v.
func (v Value) Kind() Kind { return v.kind }

// Str returns the string held by v, or "" if v is not a string.
func (v Value) Str() string { return v.str }

// Num returns the number held by v, or 0 if v is not a number.
func (v Value) Num() float64 { return v.num }

// Truth returns the bool held by v, or false if v is not a bool.
func (v Value) Truth() bool { return v.b }

// Equal reports whether v and o hold the same scalar.
func (v Value) Equal(o Value) bool {
	return v.kind == o.kind && v.str == o.str && v.num == o.num && v.b == o.b
}

func (v Value) validate() error {
	switch v.kind {
	case KindString:
		return validText(v.str)
	case KindBool:
		return nil
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return fmt.Errorf("%w: non-finite number", ErrInvalidMetadata)
		}
		return nil
	default:
		return fmt.Errorf("%w: empty value", ErrInvalidMetadata)
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	if err := v.validate(); err != nil {
		return nil, err
	}
	switch v.kind {
	case KindString:
		return marshalNoEscape(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	default:
		return json.Marshal(v.b)
	}
}

// UnmarshalJSON implements json.Unmarshaler. Only JSON strings, numbers and
// booleans are accepted.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("%w: empty value", ErrInvalidMetadata)
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
		}
		*v = String(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
		}
		*v = Bool(b)
	case '{', '[', 'n':
		return fmt.Errorf("%w: only string, number and bool values are allowed", ErrInvalidMetadata)
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
		}
		*v = Number(n)
	}
	return nil
}

// Metadata is the open set of fields describing a certificate.
type Metadata map[string]Value

// Clone returns a copy of m.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	cp := make(Metadata, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// Validate checks that every key is storable text and every value is a
// representable scalar.
func (m Metadata) Validate() error {
	for k, v := range m {
		if err := validText(k); err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
		if err := v.validate(); err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
	}
	return nil
}

// ParseMetadata decodes a flat JSON object into Metadata. Nested objects,
// arrays and nulls are rejected with ErrInvalidMetadata.
func ParseMetadata(data []byte) (Metadata, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, fmt.Errorf("%w: metadata must be a JSON object", ErrInvalidMetadata)
	}
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		if errors.Is(err, ErrInvalidMetadata) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	if md == nil {
		md = Metadata{}
	}
	if err := md.Validate(); err != nil {
		return nil, err
	}
	return md, nil
}

// validText rejects strings PostgreSQL text and jsonb cannot hold.
func validText(s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: invalid UTF-8", ErrInvalidMetadata)
	}
	if strings.IndexByte(s, 0) >= 0 {
		return fmt.Errorf("%w: NUL character", ErrInvalidMetadata)
	}
	return nil
}

// marshalNoEscape JSON-encodes v without HTML escaping.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
