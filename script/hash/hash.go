package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/reyesj2/zeek/script"
)

// Hash is the content hash of a function body.
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Short returns the first 8 hex digits, for logs.
func (h Hash) Short() string { return hex.EncodeToString(h[:4]) }

// IsZero reports whether h is unset.
func (h Hash) IsZero() bool { return h == Hash{} }

// ErrBadHash is returned by Parse for malformed input.
var ErrBadHash = errors.New("hash: malformed hex digest")

// Parse decodes a hex digest.
func Parse(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(h) {
		return h, fmt.Errorf("%w: %q", ErrBadHash, s)
	}
	copy(h[:], b)
	return h, nil
}

// HashBody computes the SHA-256 content hash of one body of fn.
//
// The hash covers the function's flavor and signature, parameter and
// capture names, and the statement tree. File names, line numbers and
// declaration order do not contribute, so identical bodies compiled
// independently collapse to one hash.
func HashBody(fn *script.Func, body *script.Body) Hash {
	return sha256.Sum256(SerializeBody(fn, body))
}
