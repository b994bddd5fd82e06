package ledger

import (
	"fmt"

	"github.com/gowebpki/jcs"
)

// Canonicalize serialises md per RFC 8785 (JSON Canonicalization Scheme): keys
// sorted, no insignificant whitespace, ES6 number formatting. Two maps with the
// same key/value pairs always produce identical bytes. A nil map encodes as {}.
//
// The only failure is ErrInvalidMetadata, raised before any bytes are produced
// so that an unrepresentable value never reaches the chain hasher.
func Canonicalize(md Metadata) ([]byte, error) {
	if err := md.Validate(); err != nil {
		return nil, err
	}
	if md == nil {
		md = Metadata{}
	}
	raw, err := marshalNoEscape(md)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: canonicalise: %v", ErrInvalidMetadata, err)
	}
	return canon, nil
}
