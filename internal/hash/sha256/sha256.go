// Package sha256 derives deterministic document ids from SHA-256 digests of
// normalized strings.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// idLength is the number of hex characters kept from the digest.
const idLength = 40

// Hasher implements ingest.IDHasher using SHA-256. It is safe for
// concurrent use.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ID returns the truncated digest of Normalize(value). Inputs that differ
// only in case, width, or whitespace map to the same id.
func (h *Hasher) ID(value string) string {
	sum := sha256.Sum256([]byte(h.Normalize(value)))
	return hex.EncodeToString(sum[:])[:idLength]
}

// Normalize applies NFKC, Unicode case folding, and whitespace collapsing.
func (h *Hasher) Normalize(value string) string {
	// Casers carry state, so each call gets its own.
	folded := cases.Fold().String(norm.NFKC.String(value))
	return strings.Join(strings.Fields(folded), " ")
}
